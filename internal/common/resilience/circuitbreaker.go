// Package resilience guards calls to optional downstream systems with a
// circuit breaker
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrOpen is returned by Execute while the circuit rejects calls
var ErrOpen = errors.New("circuit breaker is open")

// State of a circuit breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scim",
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scim",
			Name:      "circuit_breaker_calls_total",
			Help:      "Calls through circuit breaker by result",
		},
		[]string{"name", "result"},
	)
)

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

// Config configures a CircuitBreaker
type Config struct {
	Name         string
	Threshold    int           // consecutive failures before opening
	ResetTimeout time.Duration // time spent open before a trial call
	Logger       *zap.Logger
}

// CircuitBreaker opens after Threshold consecutive failures and lets a
// single trial call through once ResetTimeout has passed
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	threshold    int
	resetTimeout time.Duration
	failures     int
	openedAt     time.Time
	state        State
	trial        bool
	logger       *zap.Logger
	now          func() time.Time
}

// New creates a closed circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	stateGauge.WithLabelValues(cfg.Name).Set(0)
	return &CircuitBreaker{
		name:         cfg.Name,
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		state:        StateClosed,
		logger:       cfg.Logger.With(zap.String("breaker", cfg.Name)),
		now:          time.Now,
	}
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		callsTotal.WithLabelValues(cb.name, "rejected").Inc()
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trial = false

	if err != nil {
		cb.failures++
		callsTotal.WithLabelValues(cb.name, "failure").Inc()
		if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
			cb.openedAt = cb.now()
			if cb.state != StateOpen {
				cb.logger.Warn("Circuit breaker opened",
					zap.Int("failures", cb.failures),
					zap.Duration("reset_timeout", cb.resetTimeout),
					zap.Error(err))
			}
			cb.transition(StateOpen)
		}
		return err
	}

	if cb.state == StateHalfOpen {
		cb.logger.Info("Circuit breaker closed after successful trial call")
	}
	cb.failures = 0
	cb.transition(StateClosed)
	callsTotal.WithLabelValues(cb.name, "success").Inc()
	return nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return fmt.Errorf("%s: %w until %s", cb.name, ErrOpen,
				cb.openedAt.Add(cb.resetTimeout).Format(time.RFC3339))
		}
		cb.transition(StateHalfOpen)
		cb.trial = true
	case StateHalfOpen:
		// one trial at a time
		if cb.trial {
			return fmt.Errorf("%s: %w", cb.name, ErrOpen)
		}
		cb.trial = true
	}
	return nil
}

// must be called with the lock held
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	stateGauge.WithLabelValues(cb.name).Set(to.gauge())
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Ping fails while the circuit is open, so a breaker can be registered as
// a health check
func (cb *CircuitBreaker) Ping(ctx context.Context) error {
	if cb.State() == StateOpen {
		return fmt.Errorf("%s: %w", cb.name, ErrOpen)
	}
	return nil
}
