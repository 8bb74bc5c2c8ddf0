package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventUserCreated, "scim-service", "acme", map[string]interface{}{"id": "42"}).
		WithUserID("okta").
		WithTraceID("trace-1").
		WithMetadata("request_id", "req-1")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "scim.user.created", e.Type)
	assert.Equal(t, "acme", e.Domain)
	assert.Equal(t, "okta", e.UserID)
	assert.Equal(t, "trace-1", e.TraceID)
	assert.Equal(t, "req-1", e.Metadata["request_id"])
	assert.False(t, e.Timestamp.IsZero())

	data, err := e.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"domain":"acme"`)
}

func TestMemoryBus_PublishRoutesByType(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var users, all, filtered atomic.Int32
	bus.Subscribe(EventUserCreated, func(ctx context.Context, e Event) error {
		users.Add(1)
		return nil
	})
	bus.SubscribeAll(func(ctx context.Context, e Event) error {
		all.Add(1)
		return nil
	})
	bus.SubscribeWithFilter(EventUserCreated, func(ctx context.Context, e Event) error {
		filtered.Add(1)
		return nil
	}, func(e Event) bool { return e.Domain == "acme" })

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEvent(EventUserCreated, "test", "acme", nil)))
	require.NoError(t, bus.Publish(ctx, NewEvent(EventUserCreated, "test", "other", nil)))
	require.NoError(t, bus.Publish(ctx, NewEvent(EventGroupDeleted, "test", "acme", nil)))

	assert.Equal(t, int32(2), users.Load())
	assert.Equal(t, int32(3), all.Load())
	assert.Equal(t, int32(1), filtered.Load())
}

func TestMemoryBus_HandlerErrorIsReturned(t *testing.T) {
	bus := NewMemoryBus()
	boom := errors.New("boom")
	var after atomic.Bool
	bus.Subscribe(EventGroupCreated, func(ctx context.Context, e Event) error { return boom })
	bus.Subscribe(EventGroupCreated, func(ctx context.Context, e Event) error {
		after.Store(true)
		return nil
	})

	err := bus.Publish(context.Background(), NewEvent(EventGroupCreated, "test", "acme", nil))
	assert.ErrorIs(t, err, boom)
	assert.True(t, after.Load(), "later handlers still run")
}

func TestMemoryBus_PublishAsync(t *testing.T) {
	bus := NewMemoryBus()

	var got []string
	var mu sync.Mutex
	var errs atomic.Int32
	bus.SetErrorHandler(func(err error) { errs.Add(1) })
	bus.Subscribe(EventUserDeleted, func(ctx context.Context, e Event) error {
		assert.NoError(t, ctx.Err())
		mu.Lock()
		got = append(got, e.Payload["id"].(string))
		mu.Unlock()
		return errors.New("sink down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"1", "2", "3"} {
		bus.PublishAsync(ctx, NewEvent(EventUserDeleted, "test", "acme", map[string]interface{}{"id": id}))
	}
	cancel()

	// Close waits for in-flight handlers
	require.NoError(t, bus.Close())
	assert.ElementsMatch(t, []string{"1", "2", "3"}, got)
	assert.Equal(t, int32(3), errs.Load())

	assert.Error(t, bus.Publish(context.Background(), NewEvent(EventUserDeleted, "test", "acme", nil)))
	bus.PublishAsync(context.Background(), NewEvent(EventUserDeleted, "test", "acme", nil))
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	var calls atomic.Int32
	handler := func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	}
	sub := bus.Subscribe(EventUserUpdated, handler)
	all := bus.SubscribeAll(handler)

	bus.Unsubscribe(sub)
	bus.Unsubscribe(all)
	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventUserUpdated, "test", "acme", nil)))
	assert.Zero(t, calls.Load())
}

func TestMemoryBus_HandlerPanicBecomesError(t *testing.T) {
	bus := NewMemoryBus()
	var after atomic.Bool
	bus.SubscribeAll(func(ctx context.Context, e Event) error { panic("nil map") })
	bus.SubscribeAll(func(ctx context.Context, e Event) error {
		after.Store(true)
		return nil
	})

	err := bus.Publish(context.Background(), NewEvent(EventUserCreated, "test", "acme", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked on scim.user.created")
	assert.True(t, after.Load())
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), NewEvent(EventUserCreated, "test", "acme", nil)), ErrClosed)
}

func TestEvent_WithMetadataCopies(t *testing.T) {
	base := NewEvent(EventUserCreated, "test", "acme", nil)
	a := base.WithMetadata("k", "a")
	b := base.WithMetadata("k", "b")
	assert.Equal(t, "a", a.Metadata["k"])
	assert.Equal(t, "b", b.Metadata["k"])
	assert.Empty(t, base.Metadata)
}
