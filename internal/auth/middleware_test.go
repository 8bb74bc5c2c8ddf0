package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupAuthRouter(t *testing.T, missingToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := NewStaticValidator([]string{"secret-token"})
	require.NoError(t, err)

	router := gin.New()
	router.Use(Authenticate(MiddlewareConfig{
		Validator:    validator,
		MissingToken: missingToken,
		Logger:       zaptest.NewLogger(t),
	}))
	router.GET("/acme/scim/Users", func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		require.True(t, ok)
		userID, _ := c.Get(ContextKeyUserID)
		c.JSON(http.StatusOK, gin.H{"subject": p.Subject, "user_id": userID})
	})
	return router
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name         string
		missingToken string
		target       string
		header       string
		wantStatus   int
		wantDetail   string
	}{
		{
			name:       "bearer header",
			target:     "/acme/scim/Users",
			header:     "Bearer secret-token",
			wantStatus: http.StatusOK,
		},
		{
			name:       "scheme is case insensitive",
			target:     "/acme/scim/Users",
			header:     "bearer secret-token",
			wantStatus: http.StatusOK,
		},
		{
			name:       "access_token query parameter",
			target:     "/acme/scim/Users?access_token=secret-token",
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing token",
			target:     "/acme/scim/Users",
			wantStatus: http.StatusUnauthorized,
			wantDetail: MessageMissingTokenOAuth2,
		},
		{
			name:         "missing token header mode",
			missingToken: MissingTokenHeader,
			target:       "/acme/scim/Users",
			wantStatus:   http.StatusUnauthorized,
			wantDetail:   "Authorization failure. The authorization header is invalid or missing.",
		},
		{
			name:       "basic scheme counts as missing",
			target:     "/acme/scim/Users",
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantDetail: MessageMissingTokenOAuth2,
		},
		{
			name:       "invalid token",
			target:     "/acme/scim/Users",
			header:     "Bearer wrong",
			wantStatus: http.StatusUnauthorized,
			wantDetail: "The access token is invalid",
		},
		{
			name:       "invalid query token",
			target:     "/acme/scim/Users?access_token=wrong",
			wantStatus: http.StatusUnauthorized,
			wantDetail: "The access token is invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupAuthRouter(t, tt.missingToken)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeError(t, w)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "static-0", body["subject"])
				assert.Equal(t, "static-0", body["user_id"])
				return
			}

			assert.Equal(t, `Bearer realm="scim"`, w.Header().Get("WWW-Authenticate"))
			assert.Contains(t, w.Header().Get("Content-Type"), "application/scim+json")
			assert.Equal(t, []any{"urn:ietf:params:scim:api:messages:2.0:Error"}, body["schemas"])
			assert.Equal(t, "401", body["status"])
			assert.Equal(t, tt.wantDetail, body["detail"])
			assert.NotContains(t, body, "scimType")
		})
	}
}

func TestMissingTokenMessage(t *testing.T) {
	assert.Equal(t,
		"Missing access token. The access token must be sent using the Authorization header field (Bearer scheme) or the 'access_token' body parameter",
		MessageMissingTokenOAuth2)
}
