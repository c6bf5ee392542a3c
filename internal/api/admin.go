package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/counters"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

type adminUsers interface {
	SetRoles(ctx context.Context, actor *users.User, userID uuid.UUID, change users.RoleChange) (*users.User, error)
	Destroy(ctx context.Context, userID uuid.UUID) error
}

type counterReconciler interface {
	Reconcile(ctx context.Context, userID uuid.UUID) (counters.Result, error)
	Sweep(ctx context.Context) (counters.SweepStats, error)
}

// AdminHandler exposes user-admin maintenance: roles, account removal,
// counter reconciliation and the audit trail.
type AdminHandler struct {
	users       adminUsers
	reconciler  counterReconciler
	audit       auditlog.Log
	requireUser gin.HandlerFunc
	logger      *zap.Logger
}

// NewAdminHandler creates an AdminHandler. audit may be nil, which disables
// the audit routes.
func NewAdminHandler(svc adminUsers, reconciler counterReconciler, audit auditlog.Log, requireUser gin.HandlerFunc, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{users: svc, reconciler: reconciler, audit: audit, requireUser: requireUser, logger: logger}
}

// Register mounts the /admin routes behind RequireUserAdmin.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin", h.requireUser, session.RequireUserAdmin())
	{
		admin.PATCH("/users/:id/roles", h.SetRoles)
		admin.DELETE("/users/:id", h.Destroy)
		admin.POST("/users/:id/reconcile", h.Reconcile)
		admin.POST("/reconcile", h.Sweep)
		if h.audit != nil {
			admin.GET("/users/:id/audit", h.UserAudit)
			admin.GET("/audit/verify", h.VerifyAudit)
		}
	}
}

// SetRoles handles PATCH /admin/users/:id/roles.
func (h *AdminHandler) SetRoles(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var change users.RoleChange
	if err := c.ShouldBindJSON(&change); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.SetRoles(c.Request.Context(), session.UserFromCtx(c), id, change)
	if err != nil {
		writeError(c, h.logger, "failed to change roles", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// Destroy handles DELETE /admin/users/:id.
func (h *AdminHandler) Destroy(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.users.Destroy(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, "failed to delete user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reconcile handles POST /admin/users/:id/reconcile.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	res, err := h.reconciler.Reconcile(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "failed to reconcile counters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "corrected": res.Corrected()})
}

// Sweep handles POST /admin/reconcile, reconciling every account.
func (h *AdminHandler) Sweep(c *gin.Context) {
	stats, err := h.reconciler.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "counter sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// UserAudit handles GET /admin/users/:id/audit?limit=N.
func (h *AdminHandler) UserAudit(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	entries, err := h.audit.BySubject(c.Request.Context(), id.String(), limit)
	if err != nil {
		writeError(c, h.logger, "failed to query audit log", err)
		return
	}
	if entries == nil {
		entries = []*auditlog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// VerifyAudit handles GET /admin/audit/verify.
func (h *AdminHandler) VerifyAudit(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.audit.Verify(ctx); err != nil {
		h.logger.Warn("audit log integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	head, err := h.audit.Head(ctx)
	if err != nil {
		writeError(c, h.logger, "failed to query audit log", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "head": head})
}
