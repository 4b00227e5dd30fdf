package middleware

import (
	"strings"

	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Authenticate attaches the caller identity when a valid bearer token is
// present. Anonymous requests pass through, the gate decides what they see.
func Authenticate(v *identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			_ = c.Error(errutil.Unauthorized("invalid authorization header format", nil))
			c.Abort()
			return
		}

		claims, err := v.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			zap.L().Debug("rejected bearer token", zap.Error(err))
			_ = c.Error(errutil.Unauthorized("invalid or expired token", err))
			c.Abort()
			return
		}

		ctx := identity.WithIdentity(c.Request.Context(), claims.Identity())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireIdentity rejects anonymous API calls with 401.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity.FromContext(c.Request.Context()) == nil {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
