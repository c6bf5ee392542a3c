// Package api is the HTTP surface of the forum account core: signup and
// login, password changes, invites, conversations and the maintenance
// endpoints used by user-admins.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/conversations"
	"github.com/jmerrifield20/forumcore/internal/invites"
	"github.com/jmerrifield20/forumcore/internal/pagination"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

// writeError maps domain errors to responses. Anything unrecognised is
// logged and reported as a 500 carrying fallback.
func writeError(c *gin.Context, logger *zap.Logger, fallback string, err error) {
	var verr *users.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "validation failed",
			"problems": verr.Problems,
		})
	case errors.Is(err, users.ErrNotFound),
		errors.Is(err, invites.ErrNotFound),
		errors.Is(err, conversations.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, users.ErrForbidden),
		errors.Is(err, users.ErrBanned),
		errors.Is(err, users.ErrNotActivated):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, invites.ErrNoInvitesAvailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, invites.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// uuidParam parses the named path parameter, writing a 400 on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// pageQuery reads ?page= and ?per_page=. Missing or malformed values fall
// back to the first page and the default page size.
func pageQuery(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(pagination.DefaultPerPage)))
	return page, perPage
}
