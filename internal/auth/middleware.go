package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Headers set by the gateway after it has authenticated the session.
const (
	HeaderUserID = "X-User-ID"
	HeaderTier   = "X-Subscription-Tier"
)

// Middleware copies the gateway identity headers onto the request context.
// It does not reject anonymous requests; use Required for that.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID != "" {
			id := Identity{UserID: userID, Tier: ParseTier(c.GetHeader(HeaderTier))}
			c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	}
}

// Required rejects requests without an identity with 401.
func Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}
		c.Next()
	}
}

// Elevated rejects identities below the premium tier with 403.
func Elevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}
		if !id.Elevated() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "insufficient subscription tier"})
			return
		}
		c.Next()
	}
}
