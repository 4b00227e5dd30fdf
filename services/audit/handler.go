package audit

import (
	"errors"
	"io"
	"net/http"

	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/services/entitlement"
	"seekcap-controlplane/services/gate"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
	guard   *gate.Guard
}

func NewHandler(service *Service, guard *gate.Guard) *Handler {
	return &Handler{service: service, guard: guard}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	g := r.Group("/audit")
	g.GET("", h.guard.RequireAPICapability(entitlement.CapAuditRead), h.Query)
	g.POST("/export", h.guard.RequireAPICapability(entitlement.CapAuditExport), h.Export)
}

// Query lists audit entries newest first.
func (h *Handler) Query(c *gin.Context) {
	var f Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	res, err := h.service.Query(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Export(c *gin.Context) {
	var f Filter
	if err := c.ShouldBindJSON(&f); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	res, err := h.service.Export(ctx, identity.FromContext(ctx), f)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, res)
}
