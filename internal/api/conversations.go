package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/conversations"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

// conversationSvc is the interface expected by ConversationHandler,
// satisfied by *conversations.Aggregator.
type conversationSvc interface {
	PaginatedPartners(ctx context.Context, u *users.User, page, perPage int) (*conversations.PartnerPage, error)
	PaginatedInbox(ctx context.Context, u *users.User, page, perPage int) (*conversations.MessagePage, error)
	PaginatedSentbox(ctx context.Context, u *users.User, page, perPage int) (*conversations.MessagePage, error)
	PaginatedThread(ctx context.Context, u *users.User, other uuid.UUID, page, perPage int) (*conversations.MessagePage, error)
	MessageCount(ctx context.Context, u *users.User, other uuid.UUID) (int, error)
	UnreadCountFrom(ctx context.Context, u *users.User, sender uuid.UUID) (int, error)
	UnreadTotal(ctx context.Context, u *users.User) (int, error)
	MarkRead(ctx context.Context, u *users.User, sender uuid.UUID) (int64, error)
	Send(ctx context.Context, sender, recipient *users.User, body string) (*conversations.Message, error)
	DeleteForViewer(ctx context.Context, viewer *users.User, messageID uuid.UUID) error
}

// ConversationHandler serves private messages grouped by partner.
type ConversationHandler struct {
	conversations conversationSvc
	users         userLookup
	requireUser   gin.HandlerFunc
	logger        *zap.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(svc conversationSvc, lookup userLookup, requireUser gin.HandlerFunc, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{conversations: svc, users: lookup, requireUser: requireUser, logger: logger}
}

// UnreadMemo installs the per-request unread-count memo.
func UnreadMemo() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(conversations.WithUnreadMemo(c.Request.Context()))
		c.Next()
	}
}

// Register mounts the conversation and message routes.
func (h *ConversationHandler) Register(rg *gin.RouterGroup) {
	conv := rg.Group("/conversations", h.requireUser, UnreadMemo())
	{
		conv.GET("", h.ListPartners)
		conv.GET("/:id", h.Thread)
		conv.POST("/:id/read", h.MarkRead)
	}

	msgs := rg.Group("/messages", h.requireUser, UnreadMemo())
	{
		msgs.POST("", h.Send)
		msgs.GET("/inbox", h.Inbox)
		msgs.GET("/sent", h.Sent)
		msgs.GET("/unread", h.Unread)
		msgs.DELETE("/:id", h.Delete)
	}
}

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Body        string `json:"body"`
}

// ListPartners handles GET /conversations.
func (h *ConversationHandler) ListPartners(c *gin.Context) {
	page, perPage := pageQuery(c)
	ctx := c.Request.Context()
	u := session.UserFromCtx(c)

	res, err := h.conversations.PaginatedPartners(ctx, u, page, perPage)
	if err != nil {
		writeError(c, h.logger, "failed to list conversations", err)
		return
	}
	unread, err := h.conversations.UnreadTotal(ctx, u)
	if err != nil {
		writeError(c, h.logger, "failed to count unread messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"partners": res.Partners,
		"page":     res.Page,
		"unread":   unread,
	})
}

// Thread handles GET /conversations/:id, the messages exchanged with :id.
func (h *ConversationHandler) Thread(c *gin.Context) {
	other, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	page, perPage := pageQuery(c)
	ctx := c.Request.Context()
	u := session.UserFromCtx(c)

	res, err := h.conversations.PaginatedThread(ctx, u, other, page, perPage)
	if err != nil {
		writeError(c, h.logger, "failed to load conversation", err)
		return
	}
	total, err := h.conversations.MessageCount(ctx, u, other)
	if err != nil {
		writeError(c, h.logger, "failed to load conversation", err)
		return
	}
	unread, err := h.conversations.UnreadCountFrom(ctx, u, other)
	if err != nil {
		writeError(c, h.logger, "failed to load conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":      res.Messages,
		"page":          res.Page,
		"message_count": total,
		"unread":        unread,
	})
}

// MarkRead handles POST /conversations/:id/read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	sender, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	u := session.UserFromCtx(c)

	n, err := h.conversations.MarkRead(ctx, u, sender)
	if err != nil {
		writeError(c, h.logger, "failed to mark read", err)
		return
	}
	unread, err := h.conversations.UnreadTotal(ctx, u)
	if err != nil {
		writeError(c, h.logger, "failed to count unread messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n, "unread": unread})
}

// Inbox handles GET /messages/inbox.
func (h *ConversationHandler) Inbox(c *gin.Context) {
	page, perPage := pageQuery(c)
	res, err := h.conversations.PaginatedInbox(c.Request.Context(), session.UserFromCtx(c), page, perPage)
	if err != nil {
		writeError(c, h.logger, "failed to load inbox", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Sent handles GET /messages/sent.
func (h *ConversationHandler) Sent(c *gin.Context) {
	page, perPage := pageQuery(c)
	res, err := h.conversations.PaginatedSentbox(c.Request.Context(), session.UserFromCtx(c), page, perPage)
	if err != nil {
		writeError(c, h.logger, "failed to load sent messages", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Unread handles GET /messages/unread.
func (h *ConversationHandler) Unread(c *gin.Context) {
	n, err := h.conversations.UnreadTotal(c.Request.Context(), session.UserFromCtx(c))
	if err != nil {
		writeError(c, h.logger, "failed to count unread messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// Send handles POST /messages.
func (h *ConversationHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id must be a UUID"})
		return
	}

	ctx := c.Request.Context()
	recipient, err := h.users.GetByID(ctx, recipientID)
	if err != nil {
		writeError(c, h.logger, "failed to load recipient", err)
		return
	}
	m, err := h.conversations.Send(ctx, session.UserFromCtx(c), recipient, req.Body)
	if err != nil {
		writeError(c, h.logger, "failed to send message", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// Delete handles DELETE /messages/:id. The message disappears for the
// caller only.
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.conversations.DeleteForViewer(c.Request.Context(), session.UserFromCtx(c), id); err != nil {
		writeError(c, h.logger, "failed to delete message", err)
		return
	}
	c.Status(http.StatusNoContent)
}
