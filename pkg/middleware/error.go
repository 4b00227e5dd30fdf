package middleware

import (
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const RoleAdmin = "admin"

// Error renders the last error attached with c.Error. Backend error text is
// only shown to admins.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be, ok := errutil.As(last.Err)
		status := be.Code.HTTPStatus()
		if !ok || status >= 500 {
			zap.L().Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", string(be.Code)),
				zap.Error(last.Err),
			)
		}

		if identity.FromContext(c.Request.Context()).HasRole(RoleAdmin) {
			c.AbortWithStatusJSON(status, be.JSON())
			return
		}
		c.AbortWithStatusJSON(status, be.PublicJSON())
	}
}
