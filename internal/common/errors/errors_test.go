package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNew(t *testing.T) {
	err := New(ErrInvalidValue, "Field [userName] is required", ScimTypeInvalidValue, http.StatusBadRequest)

	assert.Equal(t, ErrInvalidValue, err.Code)
	assert.Equal(t, "Field [userName] is required", err.Message)
	assert.Equal(t, ScimTypeInvalidValue, err.ScimType)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Nil(t, err.Err)
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	err := Wrap(originalErr, ErrInternal, "Wrapped error", http.StatusInternalServerError)

	assert.Equal(t, ErrInternal, err.Code)
	assert.Equal(t, originalErr, err.Err)
	assert.True(t, errors.Is(err, originalErr))
	assert.Equal(t, "[INTERNAL_ERROR] Wrapped error: connection refused", err.Error())
}

func TestTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		status   int
		scimType string
	}{
		{"invalid syntax", InvalidSyntax("bad"), http.StatusBadRequest, "invalidSyntax"},
		{"invalid value", InvalidValue("bad"), http.StatusBadRequest, "invalidValue"},
		{"invalid path", InvalidPath("bad"), http.StatusBadRequest, "invalidPath"},
		{"no target", NoTarget("bad"), http.StatusBadRequest, "noTarget"},
		{"mutability", Mutability("id"), http.StatusBadRequest, "mutability"},
		{"uniqueness", Uniqueness("dup"), http.StatusConflict, "uniqueness"},
		{"not found", NotFound("missing"), http.StatusNotFound, ""},
		{"unauthorized", Unauthorized("no"), http.StatusUnauthorized, ""},
		{"payload too large", PayloadTooLarge("big"), http.StatusRequestEntityTooLarge, ""},
		{"internal", Internal("boom", nil), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.scimType, tt.err.ScimType)
		})
	}
}

func TestToResponse(t *testing.T) {
	resp := ToResponse(Uniqueness("User with username [jdoe] already exists"))

	assert.Equal(t, []string{ErrorSchema}, resp.Schemas)
	assert.Equal(t, "409", resp.Status)
	assert.Equal(t, "uniqueness", resp.ScimType)
	assert.Equal(t, "User with username [jdoe] already exists", resp.Detail)
}

func TestToResponse_WrappedAppError(t *testing.T) {
	err := fmt.Errorf("store: %w", NotFound("User [42] not found"))

	resp := ToResponse(err)
	assert.Equal(t, "404", resp.Status)
	assert.Equal(t, "User [42] not found", resp.Detail)
	assert.True(t, IsErrorCode(err, ErrNotFound))
	assert.Equal(t, http.StatusNotFound, GetStatusCode(err))
}

func TestToResponse_PlainError(t *testing.T) {
	resp := ToResponse(errors.New("driver exploded"))

	assert.Equal(t, "500", resp.Status)
	assert.Empty(t, resp.ScimType)
	assert.NotContains(t, resp.Detail, "exploded")
}

func TestHandleError(t *testing.T) {
	router := gin.New()
	router.GET("/unauthorized", func(c *gin.Context) {
		HandleError(c, Unauthorized("The access token is invalid"))
	})
	router.GET("/large", func(c *gin.Context) {
		HandleError(c, PayloadTooLarge("too many"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unauthorized", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Contains(t, w.Header().Get("Content-Type"), "application/scim+json")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "401", body["status"])
	assert.Equal(t, "The access token is invalid", body["detail"])
	_, hasType := body["scimType"]
	assert.False(t, hasType)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/large", nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestErrorHandler(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	router.GET("/panic-app", func(c *gin.Context) {
		panic(InvalidSyntax("Unable to parse body message"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic-app", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalidSyntax")
}

func TestWithMetadata(t *testing.T) {
	err := NotFound("missing").WithMetadata("id", "42")
	assert.Equal(t, "42", err.Metadata["id"])
}
