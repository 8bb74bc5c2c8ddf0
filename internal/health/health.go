// Package health provides the liveness, readiness and dependency health
// endpoints of the SCIM engine
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Component status values
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// ComponentStatus represents the health status of a single component
type ComponentStatus struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Details   string  `json:"details,omitempty"`
	Critical  bool    `json:"critical"`
	CheckedAt string  `json:"checked_at"`
}

// HealthResponse is the response structure for health checks
type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	CheckedAt  string                     `json:"checked_at"`
}

// Ready reports whether no critical component is down. The name of the
// first failing critical component is returned otherwise.
func (r *HealthResponse) Ready() (bool, string) {
	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		comp := r.Components[name]
		if comp.Critical && comp.Status == StatusDown {
			return false, name
		}
	}
	return true, ""
}

// HealthChecker is the interface that dependency health checks must implement
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) ComponentStatus
	// IsCritical reports whether a failure makes the service not ready
	IsCritical() bool
}

// HealthService runs registered checkers concurrently and aggregates them
type HealthService struct {
	checkers  []HealthChecker
	logger    *zap.Logger
	startTime time.Time
	version   string
	timeout   time.Duration
	mu        sync.RWMutex
}

// NewHealthService creates a new HealthService
func NewHealthService(logger *zap.Logger) *HealthService {
	return &HealthService{
		logger:    logger.With(zap.String("component", "health")),
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
}

// SetVersion sets the application version reported in health responses
func (h *HealthService) SetVersion(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = version
}

// RegisterCheck adds a new health checker to the service
func (h *HealthService) RegisterCheck(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
	h.logger.Info("Registered health checker",
		zap.String("name", checker.Name()),
		zap.Bool("critical", checker.IsCritical()))
}

// Check runs all registered health checkers and aggregates the results
func (h *HealthService) Check(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	checkers := make([]HealthChecker, len(h.checkers))
	copy(checkers, h.checkers)
	version := h.version
	h.mu.RUnlock()

	type result struct {
		name   string
		status ComponentStatus
	}
	results := make(chan result, len(checkers))

	for _, checker := range checkers {
		go func(c HealthChecker) {
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			status := c.Check(checkCtx)
			status.Critical = c.IsCritical()
			results <- result{name: c.Name(), status: status}
		}(checker)
	}

	components := make(map[string]ComponentStatus, len(checkers))
	for range checkers {
		r := <-results
		components[r.name] = r.status
	}

	overall := StatusUp
	for name, comp := range components {
		switch comp.Status {
		case StatusDown:
			overall = StatusDown
			h.logger.Warn("Component is down", zap.String("component", name), zap.String("details", comp.Details))
		case StatusDegraded:
			if overall != StatusDown {
				overall = StatusDegraded
			}
			h.logger.Warn("Component is degraded", zap.String("component", name))
		}
	}

	return &HealthResponse{
		Status:     overall,
		Components: components,
		Version:    version,
		Uptime:     formatDuration(time.Since(h.startTime)),
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Handler serves the full health document: 200 for up or degraded, 503 for down
func (h *HealthService) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())

		httpStatus := http.StatusOK
		if resp.Status == StatusDown {
			httpStatus = http.StatusServiceUnavailable
		}
		c.JSON(httpStatus, resp)
	}
}

// ReadyHandler serves the readiness probe; 503 once a critical component is down
func (h *HealthService) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())
		if ok, name := resp.Ready(); !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": fmt.Sprintf("critical component %s is down", name),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// LiveHandler serves the liveness probe
func (h *HealthService) LiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": formatDuration(time.Since(h.startTime)),
		})
	}
}

// RegisterStandardRoutes registers /health, /health/ready, /health/live and
// the /ready alias on the router
func (h *HealthService) RegisterStandardRoutes(router gin.IRoutes) {
	router.GET("/health", h.Handler())
	router.GET("/health/ready", h.ReadyHandler())
	router.GET("/health/live", h.LiveHandler())
	router.GET("/ready", h.ReadyHandler())
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
