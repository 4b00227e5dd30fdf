package gate

import (
	"net/http"

	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/pkg/middleware"
	"seekcap-controlplane/services/entitlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	guard *Guard
}

func NewHandler(guard *Guard) *Handler {
	return &Handler{guard: guard}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	me := r.Group("/me", middleware.RequireIdentity())
	me.GET("/entitlements", h.Entitlements)
	me.GET("/features", h.Features)
	me.GET("/features/:name", h.Feature)

	r.GET("/access/route", h.Route)
	r.POST("/accounts/:user_id/refresh", h.guard.RequireAPICapability(entitlement.CapAccountsManage), h.Refresh)

	portal := r.Group("/portal")
	for _, f := range h.guard.catalog.All() {
		if f.Capability == "" {
			continue
		}
		portal.GET("/"+f.Name, h.guard.RequireCapability(f.Capability), h.portalFeature(f.Name))
	}
}

func (h *Handler) Entitlements(c *gin.Context) {
	ctx := c.Request.Context()
	ent, err := h.guard.resolver.Resolve(ctx, identity.FromContext(ctx))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ent)
}

func (h *Handler) Features(c *gin.Context) {
	ctx := c.Request.Context()
	account, err := h.guard.resolver.Account(ctx, identity.FromContext(ctx).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	features := h.guard.catalog.All()
	out := make([]FeatureDecision, 0, len(features))
	for _, f := range features {
		out = append(out, h.guard.GuardFeature(ctx, account, f.Name))
	}

	c.JSON(http.StatusOK, gin.H{"features": out})
}

func (h *Handler) Feature(c *gin.Context) {
	ctx := c.Request.Context()
	account, err := h.guard.resolver.Account(ctx, identity.FromContext(ctx).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, h.guard.GuardFeature(ctx, account, c.Param("name")))
}

type routeQuery struct {
	Capability string `form:"capability" binding:"required"`
	Path       string `form:"path"`
}

// Route answers route guard questions for the rendering layer.
func (h *Handler) Route(c *gin.Context) {
	var q routeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.ValidationFailed("capability is required", err))
		return
	}

	ctx := c.Request.Context()
	d, err := h.guard.GuardRoute(ctx, identity.FromContext(ctx), entitlement.Capability(q.Capability), q.Path)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// Refresh drops the cached account projection after a payment change.
func (h *Handler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")
	if err := h.guard.resolver.Invalidate(ctx, userID); err != nil {
		_ = c.Error(err)
		return
	}

	zap.L().With(logFields(ctx)...).Info("account projection invalidated", zap.String("user_id", userID))
	c.Status(http.StatusNoContent)
}

func (h *Handler) portalFeature(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		account, err := h.guard.resolver.Account(ctx, identity.FromContext(ctx).UserID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, h.guard.GuardFeature(ctx, account, name))
	}
}
