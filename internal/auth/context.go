package auth

import (
	"github.com/gin-gonic/gin"
)

// Context key constants for storing values in Gin context
const (
	ContextKeyUserID    = "user_id"
	ContextKeyPrincipal = "auth_principal"
)

// SetPrincipal stores the authenticated caller in the Gin context. The
// subject is also stored under user_id for the request logger.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(ContextKeyPrincipal, p)
	c.Set(ContextKeyUserID, p.Subject)
}

// GetPrincipal returns the authenticated caller, if any
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	if c == nil {
		return nil, false
	}
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
