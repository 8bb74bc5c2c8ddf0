// Package metrics provides Prometheus metrics collection for the SCIM engine
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scim"

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Provisioning metrics
var (
	resourceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_operations_total",
			Help:      "Total number of SCIM resource operations",
		},
		[]string{"resource", "operation", "outcome"}, // operation: create, get, replace, patch, delete, list
	)

	bulkOperations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_operations",
			Help:      "Number of operations per bulk request",
			Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		},
	)

	bulkResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_operation_results_total",
			Help:      "Total number of bulk sub-operation results",
		},
		[]string{"method", "outcome"},
	)

	patchOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_operations_total",
			Help:      "Total number of PATCH operations evaluated",
		},
		[]string{"op", "outcome"},
	)

	filterParseErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_parse_errors_total",
			Help:      "Total number of filters rejected as invalid syntax",
		},
	)
)

// Authentication metrics
var (
	// AuthAttemptsTotal is exported for use by the auth middleware
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Total number of bearer token authentication attempts",
		},
		[]string{"method", "outcome"}, // method: static, jwt, oidc, bearer; outcome: success, missing, invalid
	)
)

// Database and cache metrics
var (
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"service", "operation", "table"}, // operation: select, insert, update, delete, count
	)

	cacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"service", "operation", "outcome"}, // outcome: hit, miss, error
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// Skip metrics endpoint itself to avoid recursion
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, path).Observe(duration)
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Outcome maps an error to the outcome label
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordResourceOperation records a SCIM resource operation
func RecordResourceOperation(resource, operation string, err error) {
	resourceOperationsTotal.WithLabelValues(resource, operation, Outcome(err)).Inc()
}

// RecordBulkRequest records the size of a bulk request
func RecordBulkRequest(operations int) {
	bulkOperations.Observe(float64(operations))
}

// RecordBulkResult records the outcome of one bulk sub-operation
func RecordBulkResult(method string, err error) {
	bulkResultsTotal.WithLabelValues(method, Outcome(err)).Inc()
}

// RecordPatchOperation records one PATCH operation
func RecordPatchOperation(op, outcome string) {
	patchOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordFilterParseError records a rejected filter
func RecordFilterParseError() {
	filterParseErrorsTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt
func RecordAuthAttempt(method, outcome string) {
	AuthAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(service, operation, table string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(service, operation, table).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache operation
func RecordCacheOperation(service, operation, outcome string) {
	cacheOperationsTotal.WithLabelValues(service, operation, outcome).Inc()
}
