package logger

import (
	"time"

	"go.uber.org/zap"
)

// slowBatch is the duration above which a batch is logged as slow
const slowBatch = 5 * time.Second

// PerformanceLogger writes timing records tagged log_type=performance
type PerformanceLogger struct {
	logger *zap.Logger
}

// NewPerformanceLogger creates a new performance logger
func NewPerformanceLogger(logger *zap.Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger: logger.With(zap.String("log_type", "performance")),
	}
}

// BatchSummary describes one finished batch, such as a bulk request
type BatchSummary struct {
	Operation string
	Domain    string
	Requested int // operations in the request
	Processed int // operations run before the batch finished or stopped
	Failures  int
	Duration  time.Duration
}

// SuccessRate is the share of processed operations that succeeded, in percent
func (b BatchSummary) SuccessRate() float64 {
	if b.Processed == 0 {
		return 100
	}
	return float64(b.Processed-b.Failures) / float64(b.Processed) * 100
}

// LogBatch logs a finished batch. Batches with failures, or that stopped
// early, are logged at warn level.
func (p *PerformanceLogger) LogBatch(b BatchSummary) {
	fields := []zap.Field{
		zap.String("operation", b.Operation),
		zap.Int("requested", b.Requested),
		zap.Int("processed", b.Processed),
		zap.Int("failure_count", b.Failures),
		zap.Float64("success_rate", b.SuccessRate()),
		zap.Int64("duration_ms", b.Duration.Milliseconds()),
	}
	if b.Domain != "" {
		fields = append(fields, zap.String("domain", b.Domain))
	}

	switch {
	case b.Failures > 0 || b.Processed < b.Requested:
		p.logger.Warn("Batch completed with failures", fields...)
	case b.Duration > slowBatch:
		p.logger.Warn("Slow batch", fields...)
	default:
		p.logger.Info("Batch completed", fields...)
	}
}
