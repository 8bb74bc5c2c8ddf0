package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/common/errors"
	"github.com/openidx/scim-engine/internal/metrics"
)

// Missing token detail modes
const (
	MissingTokenOAuth2 = "oauth2"
	MissingTokenHeader = "header"
)

// Unauthorized details rendered to SCIM clients
const (
	MessageMissingTokenOAuth2 = "Missing access token. The access token must be sent using the Authorization header field (Bearer scheme) or the 'access_token' body parameter"
	MessageMissingTokenHeader = "Authorization failure. The authorization header is invalid or missing."
	MessageInvalidToken       = "The access token is invalid"
)

// MiddlewareConfig holds configuration for the authentication middleware
type MiddlewareConfig struct {
	Validator Validator
	// MissingToken selects the detail reported when no token is sent:
	// MissingTokenOAuth2 (default) or MissingTokenHeader
	MissingToken string
	Logger       *zap.Logger
}

// Authenticate validates the bearer token of every request and stores the
// principal in the Gin context. Failures render a SCIM 401.
func Authenticate(config MiddlewareConfig) gin.HandlerFunc {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	missing := MessageMissingTokenOAuth2
	if config.MissingToken == MissingTokenHeader {
		missing = MessageMissingTokenHeader
	}

	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			logger.Debug("Authentication failed: missing token",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
			metrics.RecordAuthAttempt("bearer", "missing")
			errors.HandleError(c, errors.Unauthorized(missing))
			return
		}

		principal, err := config.Validator.Validate(c.Request.Context(), token)
		if err != nil {
			logger.Warn("Token validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
			)
			metrics.RecordAuthAttempt("bearer", "invalid")
			errors.HandleError(c, errors.Unauthorized(MessageInvalidToken))
			return
		}

		SetPrincipal(c, principal)
		metrics.RecordAuthAttempt(principal.Method, "success")
		c.Next()
	}
}

// extractToken reads the Bearer credential from the Authorization header,
// falling back to the access_token query parameter
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, credential, ok := strings.Cut(strings.TrimSpace(header), " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(credential)
		}
		return ""
	}
	return c.Query("access_token")
}
