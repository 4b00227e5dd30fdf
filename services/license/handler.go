package license

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"seekcap-controlplane/pkg/db/pagination"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/pkg/middleware"
	"seekcap-controlplane/pkg/retry"
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
	read := h.guard.RequireAPICapability(entitlement.CapLicensesRead)
	manage := h.guard.RequireAPICapability(entitlement.CapLicensesManage)
	catalog := h.guard.RequireAPICapability(entitlement.CapCatalogManage)

	g := r.Group("/licenses")
	g.GET("/mine", middleware.RequireIdentity(), h.ListMine)
	g.GET("", read, h.List)
	g.POST("", manage, h.Issue)
	g.GET("/:id", read, h.Get)
	g.POST("/:id/activate", manage, h.Activate)
	g.POST("/:id/suspend", manage, h.Suspend)
	g.POST("/:id/revoke", manage, h.Revoke)
	g.POST("/:id/reassign", manage, h.Reassign)

	t := r.Group("/license-tiers")
	t.GET("", middleware.RequireIdentity(), h.ListTiers)
	t.POST("", catalog, h.CreateTier)
	t.POST("/:id/deprecate", catalog, h.DeprecateTier)
}

func (h *Handler) Issue(c *gin.Context) {
	var req IssueParams
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	l, err := h.service.Issue(ctx, identity.FromContext(ctx), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, l)
}

func (h *Handler) Get(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (h *Handler) List(c *gin.Context) {
	var f ListFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	res, err := h.service.List(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// ListMine lists the licenses assigned to the caller's email.
func (h *Handler) ListMine(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	ctx := c.Request.Context()
	res, err := h.service.List(ctx, ListFilter{
		AssignedTo: identity.FromContext(ctx).Email,
		Status:     Status(c.Query("status")),
		Pagination: page,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Activate(c *gin.Context) {
	ctx := c.Request.Context()
	l, err := h.service.Activate(ctx, identity.FromContext(ctx), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, l)
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Suspend(c *gin.Context) {
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	l, err := h.service.Suspend(ctx, identity.FromContext(ctx), c.Param("id"), req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (h *Handler) Revoke(c *gin.Context) {
	ctx := c.Request.Context()
	l, err := h.service.Revoke(ctx, identity.FromContext(ctx), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, l)
}

type reassignRequest struct {
	AssignedTo string `json:"assigned_to"`
}

// Reassign retries once when a concurrent writer won the race.
func (h *Handler) Reassign(c *gin.Context) {
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	actor := identity.FromContext(ctx)
	l, err := retry.OnConflict(ctx, "license.reassign", func(ctx context.Context) (*License, error) {
		return h.service.Reassign(ctx, actor, c.Param("id"), req.AssignedTo)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func (h *Handler) ListTiers(c *gin.Context) {
	includeDeprecated, _ := strconv.ParseBool(c.Query("include_deprecated"))
	tiers, err := h.service.ListTiers(c.Request.Context(), includeDeprecated)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

func (h *Handler) CreateTier(c *gin.Context) {
	var req TierParams
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	t, err := h.service.CreateTier(ctx, identity.FromContext(ctx), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, t)
}

func (h *Handler) DeprecateTier(c *gin.Context) {
	ctx := c.Request.Context()
	t, err := h.service.DeprecateTier(ctx, identity.FromContext(ctx), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, t)
}
