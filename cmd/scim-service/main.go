// Package main is the entry point for the SCIM Service
// SCIM Service provisions users and groups over the SCIM 2.0 protocol
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/audit"
	"github.com/openidx/scim-engine/internal/auth"
	"github.com/openidx/scim-engine/internal/common/config"
	"github.com/openidx/scim-engine/internal/common/database"
	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/common/events"
	"github.com/openidx/scim-engine/internal/common/logger"
	"github.com/openidx/scim-engine/internal/common/middleware"
	"github.com/openidx/scim-engine/internal/common/resilience"
	"github.com/openidx/scim-engine/internal/common/tracing"
	"github.com/openidx/scim-engine/internal/health"
	"github.com/openidx/scim-engine/internal/metrics"
	"github.com/openidx/scim-engine/internal/notifications"
	"github.com/openidx/scim-engine/internal/provisioning"
	"github.com/openidx/scim-engine/internal/scim/filter"
	"github.com/openidx/scim-engine/internal/server"
	"github.com/openidx/scim-engine/internal/store"
)

const serviceName = "scim-service"

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.WithService(logger.New(cfg.Environment, cfg.LogLevel), serviceName)
	defer log.Sync()

	log.Info("Starting SCIM Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)
	cfg.LogSecurityWarnings(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("SCIM Service failed", zap.Error(err))
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Initialize tracing
	shutdownTracer, err := tracing.Init(ctx, serviceName, cfg.Environment, cfg.Tracing, log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	}

	healthService := health.NewHealthService(log)
	healthService.SetVersion(Version)

	var shutdownables []server.Shutdownable
	if shutdownTracer != nil {
		shutdownables = append(shutdownables, server.CloseTracer(shutdownTracer))
	}

	// Resource repository
	var repo store.Repository
	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		shutdownables = append(shutdownables, server.Closer("postgres", db))
		if err := store.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		repo = store.NewPostgresStore(db.Pool, log)
		healthService.RegisterCheck(health.NewPostgresChecker(db.Pool))
	default:
		repo = store.NewMemoryStore(filter.NewEngine())
		log.Warn("Using the in-memory store; resources are lost on restart")
	}
	healthService.RegisterCheck(health.NewRepositoryChecker(repo))

	// Redis backs token revocation, validation caching, rate limiting and
	// the email queue. It is optional.
	var redisDB *database.RedisClient
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisDB, err = database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		redisClient = redisDB.Client
		shutdownables = append(shutdownables, server.Closer("redis", redisDB))
		healthService.RegisterCheck(health.NewRedisChecker(redisDB.Ping))
	}

	// Event bus and its subscribers
	bus := events.NewMemoryBus()
	bus.SetErrorHandler(func(err error) {
		log.Warn("Event subscriber failed", zap.Error(err))
	})

	var es audit.DocumentIndexer
	if cfg.Audit.ElasticsearchURL != "" {
		client, err := database.NewElasticsearch(ctx, cfg.Audit.ElasticsearchURL)
		if err != nil {
			log.Warn("Elasticsearch unavailable, audit events go to the log", zap.Error(err))
		} else {
			es = client
		}
	}
	indexer := audit.NewIndexer(es, cfg.Audit.Index, log)
	if es != nil {
		breaker := resilience.New(resilience.Config{
			Name:         "audit-index",
			Threshold:    5,
			ResetTimeout: 30 * time.Second,
			Logger:       log,
		})
		indexer.WithBreaker(breaker)
		healthService.RegisterCheck(health.NewPingChecker("audit_index", breaker.Ping, false, 0))
	}
	if err := indexer.Init(ctx); err != nil {
		log.Warn("Failed to initialize audit index", zap.Error(err))
	}
	indexer.Register(bus)

	if cfg.Notifications.Enabled {
		if redisDB == nil {
			log.Warn("Notifications enabled without redis_url; registration emails are disabled")
		} else {
			notifications.NewDispatcher(redisDB, cfg.Notifications.RegistrationURL, log).Register(bus)
		}
	}
	// Registered last so in-flight events drain before the connections close
	shutdownables = append(shutdownables, server.Closer("event-bus", bus))

	// Authentication
	validator, err := auth.NewValidator(ctx, cfg.Auth, redisClient, log)
	if err != nil {
		return fmt.Errorf("create token validator: %w", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(errors.ErrorHandler())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.GetCORSOrigins()))
	router.Use(logger.GinMiddleware(log))
	router.Use(metrics.Middleware(serviceName))

	// Operational endpoints
	router.GET("/metrics", metrics.Handler())
	healthService.RegisterStandardRoutes(router)

	scimMiddleware := []gin.HandlerFunc{
		auth.Authenticate(auth.MiddlewareConfig{
			Validator:    validator,
			MissingToken: cfg.Auth.MissingToken,
			Logger:       log,
		}),
	}
	if cfg.EnableRateLimit && redisClient != nil {
		scimMiddleware = append(scimMiddleware, middleware.DistributedRateLimit(redisClient, middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Window:   time.Duration(cfg.RateLimitWindow) * time.Second,
		}, log))
	}

	svc := provisioning.NewService(repo, bus, cfg, log)
	provisioning.RegisterRoutes(router, svc, scimMiddleware...)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	graceful := server.New(server.Config{
		Server:          httpServer,
		Logger:          log,
		ShutdownTimeout: 30 * time.Second,
	})
	for _, s := range shutdownables {
		graceful.AddShutdownable(s)
	}

	log.Info("Server listening", zap.Int("port", cfg.Port), zap.String("store", cfg.Store.Driver))
	return graceful.Run(ctx)
}
