// Package events provides the in-process bus that carries SCIM resource
// lifecycle events to the notifier and audit subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SCIM lifecycle event types
const (
	EventUserCreated       = "scim.user.created"
	EventUserUpdated       = "scim.user.updated"
	EventUserDeleted       = "scim.user.deleted"
	EventUserPreRegistered = "scim.user.preregistered"
	EventGroupCreated      = "scim.group.created"
	EventGroupUpdated      = "scim.group.updated"
	EventGroupDeleted      = "scim.group.deleted"
)

// anyType subscribes to every event type
const anyType = "*"

// ErrClosed is returned when publishing on a closed bus
var ErrClosed = errors.New("event bus is closed")

// Event is one resource lifecycle change
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Domain    string                 `json:"domain"`
	Timestamp time.Time              `json:"timestamp"`
	TraceID   string                 `json:"trace_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// NewEvent creates an event with a generated ID and the current time
func NewEvent(eventType, source, domain string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Domain:    domain,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// WithTraceID sets the trace the change was made under
func (e Event) WithTraceID(traceID string) Event {
	e.TraceID = traceID
	return e
}

// WithUserID sets the authenticated caller that made the change
func (e Event) WithUserID(userID string) Event {
	e.UserID = userID
	return e
}

// WithMetadata adds one metadata entry. The map is copied so events
// derived from the same value don't share it.
func (e Event) WithMetadata(key, value string) Event {
	metadata := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	metadata[key] = value
	e.Metadata = metadata
	return e
}

// JSON serializes the event
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventHandler processes events
type EventHandler func(ctx context.Context, event Event) error

// Subscription is a registered handler
type Subscription struct {
	ID        string
	EventType string
	Handler   EventHandler
	Filter    func(Event) bool
}

func (s *Subscription) matches(event Event) bool {
	if s.EventType != anyType && s.EventType != event.Type {
		return false
	}
	return s.Filter == nil || s.Filter(event)
}

// Bus delivers events to subscribers
type Bus interface {
	// Publish runs every matching handler before returning
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers in the background; errors go to the bus error handler
	PublishAsync(ctx context.Context, event Event)

	Subscribe(eventType string, handler EventHandler) *Subscription
	SubscribeAll(handler EventHandler) *Subscription
	SubscribeWithFilter(eventType string, handler EventHandler, filter func(Event) bool) *Subscription
	Unsubscribe(sub *Subscription)

	// Close stops accepting events and waits for background deliveries
	Close() error
}

// MemoryBus is an in-process Bus. Handlers run in subscription order.
type MemoryBus struct {
	mu           sync.RWMutex
	subs         []*Subscription
	closed       bool
	inflight     sync.WaitGroup
	errorHandler func(error)
}

// NewMemoryBus creates an empty bus; async errors are dropped until
// SetErrorHandler is called
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{errorHandler: func(error) {}}
}

// SetErrorHandler sets the handler for errors of asynchronous deliveries
func (b *MemoryBus) SetErrorHandler(handler func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandler = handler
}

// Publish runs every matching handler, even after one fails, and returns
// the joined handler errors
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	return deliver(ctx, subs, event)
}

func deliver(ctx context.Context, subs []*Subscription, event Event) error {
	var errs []error
	for _, sub := range subs {
		if !sub.matches(event) {
			continue
		}
		if err := invoke(ctx, sub, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// invoke turns a handler panic into an error
func invoke(ctx context.Context, sub *Subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler %s panicked on %s: %v", sub.ID, event.Type, r)
		}
	}()
	return sub.Handler(ctx, event)
}

// PublishAsync delivers the event in a goroutine. Handlers get a context
// detached from the caller's cancellation.
func (b *MemoryBus) PublishAsync(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := slices.Clone(b.subs)
	onError := b.errorHandler
	b.inflight.Add(1)
	b.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer b.inflight.Done()
		if err := deliver(ctx, subs, event); err != nil {
			onError(err)
		}
	}()
}

// Subscribe registers handler for one event type
func (b *MemoryBus) Subscribe(eventType string, handler EventHandler) *Subscription {
	return b.SubscribeWithFilter(eventType, handler, nil)
}

// SubscribeAll registers handler for every event
func (b *MemoryBus) SubscribeAll(handler EventHandler) *Subscription {
	return b.SubscribeWithFilter(anyType, handler, nil)
}

// SubscribeWithFilter registers handler for events of eventType that pass filter
func (b *MemoryBus) SubscribeWithFilter(eventType string, handler EventHandler, filter func(Event) bool) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		EventType: eventType,
		Handler:   handler,
		Filter:    filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes a subscription
func (b *MemoryBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s *Subscription) bool { return s.ID == sub.ID })
}

// Close stops accepting events and waits for in-flight async deliveries
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()
	return nil
}
