// Package audit records every provisioning change in the audit trail
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/common/events"
	"github.com/openidx/scim-engine/internal/common/logger"
	"github.com/openidx/scim-engine/internal/common/resilience"
)

// DefaultIndex is the Elasticsearch index used when none is configured
const DefaultIndex = "scim-audit"

// indexMapping defines the Elasticsearch index mapping for audit events
const indexMapping = `{
	"mappings": {
		"properties": {
			"event_id":      { "type": "keyword" },
			"event_type":    { "type": "keyword" },
			"domain":        { "type": "keyword" },
			"actor":         { "type": "keyword" },
			"action":        { "type": "keyword" },
			"resource":      { "type": "keyword" },
			"resource_id":   { "type": "keyword" },
			"resource_name": { "type": "text", "fields": { "keyword": { "type": "keyword" } } },
			"status":        { "type": "keyword" },
			"metadata":      { "type": "object", "enabled": true },
			"timestamp":     { "type": "date" }
		}
	}
}`

// DocumentIndexer stores JSON documents. *database.ElasticsearchClient
// implements it.
type DocumentIndexer interface {
	Index(ctx context.Context, index, docID string, body []byte) error
	EnsureIndex(ctx context.Context, index, mapping string) error
}

// Indexer writes bus events to Elasticsearch. Without a cluster, or when
// indexing fails, the event goes to the audit log instead.
type Indexer struct {
	es       DocumentIndexer
	index    string
	breaker  *resilience.CircuitBreaker
	fallback *logger.AuditLogger
	logger   *zap.Logger
}

// NewIndexer creates an indexer; es may be nil
func NewIndexer(es DocumentIndexer, index string, log *zap.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{
		es:       es,
		index:    index,
		fallback: logger.NewAuditLogger(log),
		logger:   log.With(zap.String("component", "audit")),
	}
}

// WithBreaker routes index calls through cb, so an unavailable cluster is
// skipped until the breaker lets a trial call through
func (i *Indexer) WithBreaker(cb *resilience.CircuitBreaker) *Indexer {
	i.breaker = cb
	return i
}

// Init creates the audit index with its mapping if it doesn't exist
func (i *Indexer) Init(ctx context.Context) error {
	if i.es == nil {
		return nil
	}
	if err := i.es.EnsureIndex(ctx, i.index, indexMapping); err != nil {
		return fmt.Errorf("ensure audit index %s: %w", i.index, err)
	}
	i.logger.Info("Elasticsearch audit index ready", zap.String("index", i.index))
	return nil
}

// Register subscribes the indexer to every event on the bus
func (i *Indexer) Register(bus events.Bus) *events.Subscription {
	return bus.SubscribeAll(i.HandleEvent)
}

// HandleEvent records one event. Indexing errors are absorbed by the audit
// log and never returned.
func (i *Indexer) HandleEvent(ctx context.Context, event events.Event) error {
	record := FromEvent(event)
	if i.es == nil {
		i.fallback.Log(record)
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := i.write(ctx, record.EventID, data); err != nil {
		i.logger.Warn("Failed to index audit event",
			zap.String("event_id", record.EventID),
			zap.Error(err))
		i.fallback.Log(record)
	}
	return nil
}

func (i *Indexer) write(ctx context.Context, docID string, data []byte) error {
	if i.breaker == nil {
		return i.es.Index(ctx, i.index, docID, data)
	}
	return i.breaker.Execute(ctx, func(ctx context.Context) error {
		return i.es.Index(ctx, i.index, docID, data)
	})
}

// FromEvent maps a bus event onto an audit record
func FromEvent(event events.Event) *logger.AuditEvent {
	record := &logger.AuditEvent{
		EventID:   event.ID,
		EventType: event.Type,
		Domain:    event.Domain,
		Actor:     event.UserID,
		Action:    action(event.Type),
		Status:    "success",
		Timestamp: event.Timestamp,
	}
	record.Resource, _ = event.Payload["resource_type"].(string)
	record.ResourceID, _ = event.Payload["id"].(string)
	record.ResourceName, _ = event.Payload["name"].(string)

	metadata := make(map[string]interface{})
	if loc, ok := event.Payload["location"].(string); ok && loc != "" {
		metadata["location"] = loc
	}
	if event.TraceID != "" {
		metadata["trace_id"] = event.TraceID
	}
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	if len(metadata) > 0 {
		record.Metadata = metadata
	}
	return record
}

// action maps "scim.user.created" to "create"
func action(eventType string) string {
	verb := eventType[strings.LastIndex(eventType, ".")+1:]
	switch verb {
	case "created":
		return "create"
	case "updated":
		return "update"
	case "deleted":
		return "delete"
	case "preregistered":
		return "preregister"
	}
	return verb
}
