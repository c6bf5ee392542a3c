package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

type accountUsers interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, password, confirmation string) (bool, error)
}

// AccountHandler serves the signed-in user's own account.
type AccountHandler struct {
	users       accountUsers
	tokens      *session.Issuer
	requireUser gin.HandlerFunc
	logger      *zap.Logger
}

// NewAccountHandler creates an AccountHandler. requireUser is normally
// session.RequireUser.
func NewAccountHandler(svc accountUsers, tokens *session.Issuer, requireUser gin.HandlerFunc, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{users: svc, tokens: tokens, requireUser: requireUser, logger: logger}
}

// Register mounts the /me routes.
func (h *AccountHandler) Register(rg *gin.RouterGroup) {
	me := rg.Group("/me", h.requireUser)
	{
		me.GET("", h.Me)
		me.PUT("/password", h.ChangePassword)
	}
}

type changePasswordRequest struct {
	Password        string `json:"password"         binding:"required"`
	ConfirmPassword string `json:"confirm_password"`
}

// Me handles GET /me with the derived capabilities alongside the account.
func (h *AccountHandler) Me(c *gin.Context) {
	u := session.UserFromCtx(c)
	caps := gin.H{
		"trusted":            u.IsTrusted(),
		"moderator":          u.IsModerator(),
		"user_admin":         u.IsUserAdmin(),
		"can_manage_invites": u.CanManageInvites(),
		"available_invites":  u.EffectiveAvailableInvites(),
	}
	c.JSON(http.StatusOK, gin.H{
		"user":         u,
		"capabilities": caps,
	})
}

// ChangePassword handles PUT /me/password. When the credential changes the
// presented session stops working, so a fresh token is returned.
func (h *AccountHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	u := session.UserFromCtx(c)
	changed, err := h.users.ChangePassword(ctx, u.ID, req.Password, req.ConfirmPassword)
	if err != nil {
		writeError(c, h.logger, "password change failed", err)
		return
	}
	if !changed {
		c.JSON(http.StatusOK, gin.H{"changed": false})
		return
	}

	fresh, err := h.users.GetByID(ctx, u.ID)
	if err != nil {
		writeError(c, h.logger, "reload account failed", err)
		return
	}
	tok, err := h.tokens.Issue(fresh)
	if err != nil {
		h.logger.Error("issue session after password change", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": true, "token": tok})
}
