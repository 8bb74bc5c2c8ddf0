package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openidx/scim-engine/internal/common/database"
	"github.com/openidx/scim-engine/internal/common/events"
	"github.com/openidx/scim-engine/internal/common/resilience"
)

// fakeElasticsearch answers the subset of the REST API the indexer uses
type fakeElasticsearch struct {
	mu      sync.Mutex
	indices map[string]bool
	docs    map[string][]byte
}

func (f *fakeElasticsearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if !f.indices[parts[0]] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && len(parts) == 1:
		f.indices[parts[0]] = true
		_, _ = io.WriteString(w, `{"acknowledged": true}`)
	case len(parts) == 3 && parts[1] == "_doc":
		body, _ := io.ReadAll(r.Body)
		f.docs[parts[0]+"/"+parts[2]] = body
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result": "created"}`)
	default:
		_, _ = io.WriteString(w, `{}`)
	}
}

func (f *fakeElasticsearch) doc(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[key]
	return d, ok
}

func (f *fakeElasticsearch) hasIndex(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indices[name]
}

func newFakeCluster(t *testing.T) (*fakeElasticsearch, *database.ElasticsearchClient) {
	t.Helper()
	fake := &fakeElasticsearch{indices: map[string]bool{}, docs: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return fake, &database.ElasticsearchClient{Client: client, URL: srv.URL}
}

func userCreated() events.Event {
	return events.NewEvent(events.EventUserCreated, "scim-service", "acme", map[string]interface{}{
		"id":            "42",
		"resource_type": "User",
		"name":          "jdoe",
		"location":      "https://scim.example.com/acme/scim/Users/42",
	}).WithUserID("okta").WithMetadata("request_id", "req-1")
}

func TestIndexer_IndexesIntoElasticsearch(t *testing.T) {
	fake, es := newFakeCluster(t)
	indexer := NewIndexer(es, "", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, indexer.Init(ctx))
	assert.True(t, fake.hasIndex(DefaultIndex))

	bus := events.NewMemoryBus()
	indexer.Register(bus)
	event := userCreated()
	require.NoError(t, bus.Publish(ctx, event))

	doc, ok := fake.doc(DefaultIndex + "/" + event.ID)
	require.True(t, ok)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(doc, &got))
	assert.Equal(t, "scim.user.created", got["event_type"])
	assert.Equal(t, "create", got["action"])
	assert.Equal(t, "acme", got["domain"])
	assert.Equal(t, "okta", got["actor"])
	assert.Equal(t, "User", got["resource"])
	assert.Equal(t, "42", got["resource_id"])
	assert.Equal(t, "req-1", got["metadata"].(map[string]interface{})["request_id"])
}

type failingIndexer struct{}

func (failingIndexer) Index(ctx context.Context, index, docID string, body []byte) error {
	return errors.New("cluster unavailable")
}

func (failingIndexer) EnsureIndex(ctx context.Context, index, mapping string) error {
	return errors.New("cluster unavailable")
}

func TestIndexer_FallsBackToAuditLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	indexer := NewIndexer(failingIndexer{}, "audit", zap.New(core))

	assert.Error(t, indexer.Init(context.Background()))
	require.NoError(t, indexer.HandleEvent(context.Background(), userCreated()))

	audit := logs.FilterMessage("Audit event").All()
	require.Len(t, audit, 1)
	fields := audit[0].ContextMap()
	assert.Equal(t, "audit", fields["log_type"])
	assert.Equal(t, "42", fields["resource_id"])
	assert.Equal(t, 1, logs.FilterMessage("Failed to index audit event").Len())
}

type countingIndexer struct {
	failingIndexer
	calls int
}

func (c *countingIndexer) Index(ctx context.Context, index, docID string, body []byte) error {
	c.calls++
	return c.failingIndexer.Index(ctx, index, docID, body)
}

func TestIndexer_BreakerSkipsUnavailableCluster(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	es := &countingIndexer{}
	breaker := resilience.New(resilience.Config{Name: "audit-test", Threshold: 2, ResetTimeout: time.Hour})
	indexer := NewIndexer(es, "", zap.New(core)).WithBreaker(breaker)

	for i := 0; i < 5; i++ {
		require.NoError(t, indexer.HandleEvent(context.Background(), userCreated()))
	}

	assert.Equal(t, 2, es.calls)
	assert.Equal(t, resilience.StateOpen, breaker.State())
	assert.Equal(t, 5, logs.FilterMessage("Audit event").Len())
}

func TestIndexer_WithoutCluster(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	indexer := NewIndexer(nil, "", zap.New(core))

	require.NoError(t, indexer.Init(context.Background()))
	require.NoError(t, indexer.HandleEvent(context.Background(),
		events.NewEvent(events.EventGroupDeleted, "scim-service", "acme", map[string]interface{}{"id": "7", "resource_type": "Group"})))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "delete", logs.All()[0].ContextMap()["action"])
}

func TestAction(t *testing.T) {
	assert.Equal(t, "create", action(events.EventGroupCreated))
	assert.Equal(t, "update", action(events.EventUserUpdated))
	assert.Equal(t, "preregister", action(events.EventUserPreRegistered))
	assert.Equal(t, "custom", action("custom"))
}
