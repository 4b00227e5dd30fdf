package middleware

import (
	"strings"

	"seekcap-controlplane/pkg/identity"

	"github.com/gin-gonic/gin"
)

// deriveChannel guesses the calling surface from the api key prefix.
func deriveChannel(key string) string {
	switch {
	case strings.HasPrefix(key, "portal_"):
		return "portal"
	case strings.HasPrefix(key, "admin_"):
		return "admin"
	case key == "":
		return "web"
	default:
		return "api"
	}
}

// Channel stores the request channel and user agent on the request context
// so audit entries can pick them up.
func Channel() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := identity.WithChannel(c.Request.Context(), deriveChannel(c.GetHeader("X-API-Key")))
		ctx = identity.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
