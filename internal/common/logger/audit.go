package logger

import (
	"time"

	"go.uber.org/zap"
)

// AuditEvent is one provisioning change as recorded in the audit trail
type AuditEvent struct {
	EventID      string                 `json:"event_id"`
	EventType    string                 `json:"event_type"`
	Domain       string                 `json:"domain"`
	Actor        string                 `json:"actor"` // bearer token subject
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource"`    // User or Group
	ResourceID   string                 `json:"resource_id"` // ID of the affected resource
	ResourceName string                 `json:"resource_name,omitempty"`
	Status       string                 `json:"status"` // success, failure
	Reason       string                 `json:"reason,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// AuditLogger writes audit events to the structured log. It is the audit
// sink when no Elasticsearch cluster is configured.
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(zap.String("log_type", "audit")),
	}
}

// Log logs an audit event
func (a *AuditLogger) Log(event *AuditEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("domain", event.Domain),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("resource", event.Resource),
		zap.String("resource_id", event.ResourceID),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}

	if event.ResourceName != "" {
		fields = append(fields, zap.String("resource_name", event.ResourceName))
	}

	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	switch event.Status {
	case "failure", "error":
		a.logger.Error("Audit event", fields...)
	default:
		a.logger.Info("Audit event", fields...)
	}
}
