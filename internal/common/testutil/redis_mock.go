// Package testutil provides testing utilities for the SCIM engine
package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/openidx/scim-engine/internal/common/database"
)

// MockRedis manages a miniredis instance and a client bound to it. Both
// are closed when the test finishes.
type MockRedis struct {
	mini   *miniredis.Miniredis
	client *redis.Client
}

// NewMockRedis starts miniredis for the duration of t
func NewMockRedis(t testing.TB) *MockRedis {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &MockRedis{mini: mini, client: client}
}

// Client returns the Redis client
func (m *MockRedis) Client() *redis.Client { return m.client }

// Mini returns the underlying miniredis instance for direct manipulation
func (m *MockRedis) Mini() *miniredis.Miniredis { return m.mini }

// Database wraps the client the way database.NewRedis does
func (m *MockRedis) Database() *database.RedisClient {
	return &database.RedisClient{Client: m.client}
}

// FastForward advances the mock Redis time, expiring keys whose TTL passed
func (m *MockRedis) FastForward(d time.Duration) { m.mini.FastForward(d) }

// List returns the elements of a Redis list, head first
func (m *MockRedis) List(key string) []string {
	if !m.mini.Exists(key) {
		return nil
	}
	items, err := m.mini.List(key)
	if err != nil {
		return nil
	}
	return items
}

// Stop shuts miniredis down so later commands fail, for testing fail-open paths
func (m *MockRedis) Stop() { m.mini.Close() }
