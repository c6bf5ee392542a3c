package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/invites"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

// inviteLedger is the interface expected by InviteHandler, satisfied by *invites.Ledger.
type inviteLedger interface {
	Grant(ctx context.Context, u *users.User, n int) ([]*invites.Invite, error)
	Revoke(ctx context.Context, u *users.User, n int) (int, error)
	HasAvailable(u *users.User) bool
	HasInviteActivity(ctx context.Context, u *users.User) (bool, error)
	Issue(ctx context.Context, inviter *users.User, email, message string) (*invites.Invite, error)
	Redeem(ctx context.Context, token string) (*invites.Invite, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]*invites.Invite, error)
}

type userLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// InviteHandler exposes the invite quota and issued invites.
type InviteHandler struct {
	ledger      inviteLedger
	users       userLookup
	requireUser gin.HandlerFunc
	logger      *zap.Logger
}

// NewInviteHandler creates an InviteHandler.
func NewInviteHandler(ledger inviteLedger, lookup userLookup, requireUser gin.HandlerFunc, logger *zap.Logger) *InviteHandler {
	return &InviteHandler{ledger: ledger, users: lookup, requireUser: requireUser, logger: logger}
}

// Register mounts the invite routes. Token lookup is public so a signup form
// can check an invite before the account exists.
func (h *InviteHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/invites/:token", h.Lookup)

	authed := rg.Group("", h.requireUser)
	{
		authed.POST("/invites", h.Issue)
		authed.GET("/users/:id/invites", h.List)
		authed.POST("/users/:id/invites/grant", session.RequireUserAdmin(), h.Grant)
		authed.POST("/users/:id/invites/revoke", session.RequireUserAdmin(), h.Revoke)
	}
}

type issueInviteRequest struct {
	Email   string `json:"email"   binding:"required"`
	Message string `json:"message"`
}

type grantRequest struct {
	Count int `json:"count" binding:"required,min=1"`
}

// revokeRequest takes either a positive count or all=true.
type revokeRequest struct {
	Count int  `json:"count"`
	All   bool `json:"all"`
}

// Issue handles POST /invites.
func (h *InviteHandler) Issue(c *gin.Context) {
	var req issueInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inviter := session.UserFromCtx(c)
	inv, err := h.ledger.Issue(c.Request.Context(), inviter, req.Email, req.Message)
	if err != nil {
		writeError(c, h.logger, "failed to issue invite", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"invite":            inv,
		"available_invites": inviter.EffectiveAvailableInvites(),
	})
}

// Lookup handles GET /invites/:token. The token itself is not echoed.
func (h *InviteHandler) Lookup(c *gin.Context) {
	inv, err := h.ledger.Redeem(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, h.logger, "failed to look up invite", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":      inv.Email,
		"inviter_id": inv.UserID,
		"expires_at": inv.ExpiresAt,
	})
}

// List handles GET /users/:id/invites for the account itself or a user-admin.
func (h *InviteHandler) List(c *gin.Context) {
	target, ok := h.target(c, false)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	active, err := h.ledger.ListActive(ctx, target.ID)
	if err != nil {
		writeError(c, h.logger, "failed to list invites", err)
		return
	}
	activity, err := h.ledger.HasInviteActivity(ctx, target)
	if err != nil {
		writeError(c, h.logger, "failed to list invites", err)
		return
	}
	if active == nil {
		active = []*invites.Invite{}
	}
	c.JSON(http.StatusOK, gin.H{
		"available_invites": target.EffectiveAvailableInvites(),
		"has_available":     h.ledger.HasAvailable(target),
		"has_activity":      activity,
		"invites":           active,
	})
}

// Grant handles POST /users/:id/invites/grant.
func (h *InviteHandler) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, ok := h.target(c, true)
	if !ok {
		return
	}

	active, err := h.ledger.Grant(c.Request.Context(), target, req.Count)
	if err != nil {
		writeError(c, h.logger, "failed to grant invites", err)
		return
	}
	if active == nil {
		active = []*invites.Invite{}
	}
	c.JSON(http.StatusOK, gin.H{
		"available_invites": target.EffectiveAvailableInvites(),
		"invites":           active,
	})
}

// Revoke handles POST /users/:id/invites/revoke.
func (h *InviteHandler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n := req.Count
	if req.All {
		n = invites.RevokeAll
	} else if n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be positive unless all is set"})
		return
	}
	target, ok := h.target(c, true)
	if !ok {
		return
	}

	left, err := h.ledger.Revoke(c.Request.Context(), target, n)
	if err != nil {
		writeError(c, h.logger, "failed to revoke invites", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available_invites": left})
}

// target loads the :id user. Unless adminOnly, the caller may also act on
// their own account.
func (h *InviteHandler) target(c *gin.Context, adminOnly bool) (*users.User, bool) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return nil, false
	}
	actor := session.UserFromCtx(c)
	if !actor.IsUserAdmin() && (adminOnly || actor.ID != id) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not permitted"})
		return nil, false
	}
	if actor.ID == id {
		return actor, true
	}
	u, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "failed to load user", err)
		return nil, false
	}
	return u, true
}
