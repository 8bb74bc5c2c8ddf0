package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("test-service"))
	router.GET("/:domain/scim/Users", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/acme/scim/Users", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	body := scrape(t, router)
	assert.Contains(t, body, "scim_http_requests_total")
	assert.Contains(t, body, "scim_http_request_duration_seconds_bucket")
	// Route templates keep tenant names out of label values
	assert.Contains(t, body, `path="/:domain/scim/Users"`)
	assert.NotContains(t, body, `path="/acme/scim/Users"`)
	assert.NotContains(t, body, `path="/metrics"`)
}

func TestMiddleware_UnknownPath(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("unknown-test"))
	router.GET("/metrics", Handler())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	body := scrape(t, router)
	assert.Contains(t, body, `path="unknown"`)
	assert.Contains(t, body, `status="404"`)
}

func TestMiddleware_DifferentMethods(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("method-test"))
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		router.Handle(m, "/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}
	router.GET("/metrics", Handler())

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(m, "/", nil))
	}

	body := scrape(t, router)
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		assert.Contains(t, body, `method="`+m+`"`)
	}
}

func TestProvisioningMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", Handler())

	RecordResourceOperation("User", "create", nil)
	RecordResourceOperation("Group", "patch", errors.New("conflict"))
	RecordBulkRequest(3)
	RecordBulkResult("POST", nil)
	RecordBulkResult("DELETE", errors.New("not found"))
	RecordPatchOperation("add", "success")
	RecordFilterParseError()

	body := scrape(t, router)
	assert.Contains(t, body, `scim_resource_operations_total{operation="create",outcome="success",resource="User"}`)
	assert.Contains(t, body, `scim_resource_operations_total{operation="patch",outcome="failure",resource="Group"}`)
	assert.Contains(t, body, "scim_bulk_operations_bucket")
	assert.Contains(t, body, `scim_bulk_operation_results_total{method="DELETE",outcome="failure"}`)
	assert.Contains(t, body, `scim_patch_operations_total{op="add",outcome="success"}`)
	assert.Contains(t, body, "scim_filter_parse_errors_total")
}

func TestAuthAndStorageMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", Handler())

	RecordAuthAttempt("static", "success")
	RecordAuthAttempt("bearer", "missing")
	RecordDBQuery("scim-service", "select", "scim_resources", 5*time.Millisecond)
	RecordCacheOperation("auth", "token_validate", "hit")

	body := scrape(t, router)
	assert.Contains(t, body, `scim_auth_attempts_total{method="bearer",outcome="missing"}`)
	assert.Contains(t, body, `scim_db_query_duration_seconds_bucket`)
	assert.Contains(t, body, `scim_cache_operations_total{operation="token_validate",outcome="hit",service="auth"}`)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "failure", Outcome(errors.New("x")))
}

func TestHandler_ServeHTTP(t *testing.T) {
	handler := Handler()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := gin.CreateTestContext(w)
		c.Request = r
		handler(c)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, body)
}

func BenchmarkMiddleware(b *testing.B) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("bench-service"))
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
