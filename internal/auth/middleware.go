package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey holds the validated *APIKey.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAcquirerID holds the acquirer the key belongs to.
	ContextKeyAcquirerID = "authAcquirerID"
)

// Middleware resolves the API key from the Authorization or X-API-Key
// header. Invalid or missing keys leave the request unauthenticated.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}
		if raw != "" {
			if key, err := m.ValidateKey(c.Request.Context(), raw); err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAcquirerID, key.AcquirerID)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects unauthenticated requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the key of an authenticated request.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}

// GetAuthenticatedAcquirer returns the caller's acquirer, or "".
func GetAuthenticatedAcquirer(c *gin.Context) string {
	return c.GetString(ContextKeyAcquirerID)
}

// IsAuthenticated reports whether the request carried a valid key.
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetAPIKey(c)
	return ok
}
