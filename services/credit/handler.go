package credit

import (
	"context"
	"net/http"

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
	read := h.guard.RequireAPICapability(entitlement.CapCreditsRead)
	request := h.guard.RequireAPICapability(entitlement.CapCreditsRequest)
	approve := h.guard.RequireAPICapability(entitlement.CapCreditsApprove)
	consume := h.guard.RequireAPICapability(entitlement.CapCreditsConsume)

	g := r.Group("/credits")
	g.GET("/mine", middleware.RequireIdentity(), h.ListMine)
	g.GET("/balance", middleware.RequireIdentity(), h.Balance)
	g.POST("/spend", consume, h.Spend)
	g.GET("", approve, h.List)
	g.POST("", request, h.Request)
	g.GET("/:id", read, h.Get)
	g.POST("/:id/approve", approve, h.Approve)
	g.POST("/:id/reject", approve, h.Reject)
	g.POST("/:id/fulfill", approve, h.Fulfill)
	g.POST("/:id/consume", consume, h.Consume)
}

// Request files a purchase for the caller. Administrators may file on
// behalf of another user.
func (h *Handler) Request(c *gin.Context) {
	var req RequestParams
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	actor := identity.FromContext(ctx)
	if req.UserID == "" || !actor.HasRole(middleware.RoleAdmin) {
		req.UserID = actor.UserID
		req.OwnerEmail = actor.Email
	}

	p, err := h.service.RequestPurchase(ctx, actor, req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := owns(identity.FromContext(ctx), p); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
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

func (h *Handler) ListMine(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	ctx := c.Request.Context()
	res, err := h.service.List(ctx, ListFilter{
		UserID:     identity.FromContext(ctx).UserID,
		Status:     Status(c.Query("status")),
		Pagination: page,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Balance(c *gin.Context) {
	ctx := c.Request.Context()
	total, err := h.service.TotalAvailable(ctx, identity.FromContext(ctx).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"available": total})
}

func (h *Handler) Approve(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.service.Approve(ctx, identity.FromContext(ctx), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) Reject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("a rejection reason is required", err))
		return
	}

	ctx := c.Request.Context()
	p, err := h.service.Reject(ctx, identity.FromContext(ctx), c.Param("id"), req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
}

func (h *Handler) Fulfill(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.service.Fulfill(ctx, identity.FromContext(ctx), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

// Consume retries once when another spend moved credits_used first.
func (h *Handler) Consume(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	actor := identity.FromContext(ctx)
	p, err := retry.OnConflict(ctx, "credit.consume", func(ctx context.Context) (*Purchase, error) {
		current, err := h.service.Get(ctx, c.Param("id"))
		if err != nil {
			return nil, err
		}
		if err := owns(actor, current); err != nil {
			return nil, err
		}
		return h.service.Consume(ctx, actor, current.ID, req.Amount)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
}

func (h *Handler) Spend(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	actor := identity.FromContext(ctx)
	res, err := retry.OnConflict(ctx, "credit.spend", func(ctx context.Context) (*SpendResult, error) {
		return h.service.Spend(ctx, actor, actor.UserID, req.Amount)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// owns hides other users' purchases from everyone but administrators.
func owns(actor *identity.Identity, p *Purchase) error {
	if actor.HasRole(middleware.RoleAdmin) || (actor != nil && actor.UserID == p.UserID) {
		return nil
	}
	return errutil.NotFound("credit purchase not found", nil)
}
