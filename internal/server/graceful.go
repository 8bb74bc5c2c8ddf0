// Package server runs the HTTP server and drains it on shutdown signals
package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Shutdownable represents a component that can be gracefully shut down
type Shutdownable interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// ShutdownFunc wraps a function to implement Shutdownable
type ShutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownFunc creates a Shutdownable from a function
func NewShutdownFunc(name string, fn func(context.Context) error) *ShutdownFunc {
	return &ShutdownFunc{name: name, fn: fn}
}

// Name returns the component name
func (s *ShutdownFunc) Name() string { return s.name }

// Shutdown calls the wrapped function
func (s *ShutdownFunc) Shutdown(ctx context.Context) error { return s.fn(ctx) }

// Config holds configuration for graceful shutdown
type Config struct {
	Server          *http.Server
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
}

// GracefulShutdown drains the HTTP server, then closes registered
// components in reverse registration order
type GracefulShutdown struct {
	server          *http.Server
	logger          *zap.Logger
	shutdownTimeout time.Duration
	signalChan      chan os.Signal

	mu            sync.Mutex
	shutdownables []Shutdownable
	once          sync.Once
}

// New creates a new GracefulShutdown manager
func New(cfg Config) *GracefulShutdown {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &GracefulShutdown{
		server:          cfg.Server,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		signalChan:      make(chan os.Signal, 1),
	}
}

// AddShutdownable adds a component to the shutdown list
func (g *GracefulShutdown) AddShutdownable(s Shutdownable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownables = append(g.shutdownables, s)
}

// AddShutdownFunc adds a shutdown function as a component
func (g *GracefulShutdown) AddShutdownFunc(name string, fn func(context.Context) error) {
	g.AddShutdownable(NewShutdownFunc(name, fn))
}

// Run serves HTTP until a shutdown signal arrives, ctx is cancelled or the
// listener fails, then shuts everything down. A listener failure other
// than http.ErrServerClosed is returned.
func (g *GracefulShutdown) Run(ctx context.Context) error {
	signal.Notify(g.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(g.signalChan)

	serveErr := make(chan error, 1)
	if g.server != nil {
		go func() {
			g.logger.Info("Server listening", zap.String("addr", g.server.Addr))
			serveErr <- g.server.ListenAndServe()
		}()
	}

	var err error
	select {
	case sig := <-g.signalChan:
		g.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		g.logger.Info("Context cancelled, initiating shutdown")
	case err = <-serveErr:
		if stderrors.Is(err, http.ErrServerClosed) {
			err = nil
		} else {
			g.logger.Error("Server error", zap.Error(err))
		}
	}

	g.shutdown()
	return err
}

// Shutdown triggers a manual shutdown of a running Run
func (g *GracefulShutdown) Shutdown() {
	select {
	case g.signalChan <- syscall.SIGTERM:
		g.logger.Info("Manual shutdown triggered")
	default:
		g.logger.Info("Shutdown already in progress")
	}
}

func (g *GracefulShutdown) shutdown() {
	g.once.Do(func() {
		g.logger.Info("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
		defer cancel()

		// Stop accepting requests before closing what they depend on
		if g.server != nil {
			if err := g.server.Shutdown(ctx); err != nil {
				g.logger.Warn("Server shutdown timed out, forcing close", zap.Error(err))
				_ = g.server.Close()
			} else {
				g.logger.Info("HTTP server shutdown complete")
			}
		}

		g.mu.Lock()
		components := make([]Shutdownable, len(g.shutdownables))
		copy(components, g.shutdownables)
		g.mu.Unlock()

		for i := len(components) - 1; i >= 0; i-- {
			c := components[i]
			if err := c.Shutdown(ctx); err != nil {
				g.logger.Error("Error shutting down component",
					zap.String("component", c.Name()),
					zap.Error(err))
				continue
			}
			g.logger.Info("Component shutdown complete", zap.String("component", c.Name()))
		}

		g.logger.Info("Graceful shutdown complete")
	})
}

// Closer adapts an io.Closer style component
func Closer(name string, c interface{ Close() error }) Shutdownable {
	return NewShutdownFunc(name, func(context.Context) error { return c.Close() })
}

// CloseTracer adapts an OpenTelemetry tracer provider shutdown function
func CloseTracer(shutdownFunc func(context.Context) error) Shutdownable {
	return NewShutdownFunc("tracer", shutdownFunc)
}
