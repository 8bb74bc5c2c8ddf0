package health

import (
	"context"
	"time"
)

// PingFunc probes one dependency
type PingFunc func(ctx context.Context) error

// Pinger is implemented by pgxpool.Pool and store.Repository
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker turns a PingFunc into a HealthChecker. Probes slower than
// the degraded threshold report "degraded".
type PingChecker struct {
	name     string
	ping     PingFunc
	critical bool
	degraded time.Duration
}

// NewPingChecker creates a checker named name around ping
func NewPingChecker(name string, ping PingFunc, critical bool, degradedAfter time.Duration) *PingChecker {
	return &PingChecker{name: name, ping: ping, critical: critical, degraded: degradedAfter}
}

// NewPostgresChecker checks the PostgreSQL pool
func NewPostgresChecker(pool Pinger) *PingChecker {
	return NewPingChecker("database", pool.Ping, true, 500*time.Millisecond)
}

// NewRedisChecker checks Redis with PING. Redis backs caching, rate
// limiting and the email queue, so it is not critical for readiness.
func NewRedisChecker(ping PingFunc) *PingChecker {
	return NewPingChecker("redis", ping, false, 200*time.Millisecond)
}

// NewRepositoryChecker checks the configured resource repository
func NewRepositoryChecker(repo Pinger) *PingChecker {
	return NewPingChecker("repository", repo.Ping, true, 500*time.Millisecond)
}

// Name returns the checker name
func (p *PingChecker) Name() string { return p.name }

// IsCritical returns true if this component is critical for readiness
func (p *PingChecker) IsCritical() bool { return p.critical }

// Check runs the probe and measures its latency
func (p *PingChecker) Check(ctx context.Context) ComponentStatus {
	start := time.Now()
	err := p.ping(ctx)
	latency := time.Since(start)

	status := ComponentStatus{
		Status:    StatusUp,
		LatencyMS: float64(latency.Microseconds()) / 1000,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	switch {
	case err != nil:
		status.Status = StatusDown
		status.Details = err.Error()
	case p.degraded > 0 && latency > p.degraded:
		status.Status = StatusDegraded
		status.Details = "high latency"
	}
	return status
}
