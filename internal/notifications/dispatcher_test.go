package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/scim-engine/internal/common/events"
	"github.com/openidx/scim-engine/internal/common/testutil"
)

func TestDispatcher_EnqueuesRegistrationEmail(t *testing.T) {
	mock := testutil.NewMockRedis(t)
	d := NewDispatcher(mock.Database(), "https://portal.example.com/register", zaptest.NewLogger(t))

	bus := events.NewMemoryBus()
	d.Register(bus)

	err := bus.Publish(context.Background(), events.NewEvent(events.EventUserPreRegistered, "scim-service", "acme", map[string]interface{}{
		"id":         "42",
		"name":       "jdoe",
		"email":      "jdoe@example.com",
		"given_name": "Jane",
	}))
	require.NoError(t, err)

	queued := mock.List(EmailQueue)
	require.Len(t, queued, 1)

	var msg EmailMessage
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &msg))
	assert.Equal(t, "jdoe@example.com", msg.To)
	assert.Equal(t, RegistrationTemplate, msg.TemplateName)
	assert.Equal(t, "acme", msg.Data["domain"])
	assert.Equal(t, "jdoe", msg.Data["user_name"])
	assert.Equal(t, "https://portal.example.com/register?domain=acme&user=42", msg.Data["registration_url"])
}

func TestDispatcher_IgnoresOtherEventsAndMissingEmail(t *testing.T) {
	mock := testutil.NewMockRedis(t)
	d := NewDispatcher(mock.Database(), "https://portal.example.com/register", zaptest.NewLogger(t))

	bus := events.NewMemoryBus()
	d.Register(bus)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, events.NewEvent(events.EventUserCreated, "scim-service", "acme",
		map[string]interface{}{"id": "1", "email": "a@example.com"})))
	require.NoError(t, bus.Publish(ctx, events.NewEvent(events.EventUserPreRegistered, "scim-service", "acme",
		map[string]interface{}{"id": "2"})))

	assert.Empty(t, mock.List(EmailQueue))
}

func TestDispatcher_RedisDown(t *testing.T) {
	mock := testutil.NewMockRedis(t)
	d := NewDispatcher(mock.Database(), "https://portal.example.com/register", zaptest.NewLogger(t))
	mock.Stop()

	err := d.HandleEvent(context.Background(), events.NewEvent(events.EventUserPreRegistered, "scim-service", "acme",
		map[string]interface{}{"id": "3", "email": "c@example.com"}))
	assert.Error(t, err)
}
