package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/users"
)

const (
	ctxUser   = "forum_user"
	ctxClaims = "forum_session_claims"
)

// userLoader fetches the account behind a session.
type userLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// RequireUser returns a Gin middleware that enforces a valid session Bearer
// token for a current, unbanned account. The loaded *users.User is stored
// in the Gin context and the request context carries it as the audit actor.
func RequireUser(tokens *Issuer, loader userLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer session token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid session token",
			})
			return
		}
		id, err := uuid.Parse(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		u, err := loader.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account no longer exists"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
			return
		}
		if err := CheckCredential(claims, u); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if u.Banned {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account banned"})
			return
		}

		c.Set(ctxClaims, claims)
		c.Set(ctxUser, u)
		c.Request = c.Request.WithContext(auditlog.WithActor(c.Request.Context(), u.ID.String()))
		c.Next()
	}
}

// RequireUserAdmin must follow RequireUser. It rejects accounts that are not
// user-admins.
func RequireUserAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := UserFromCtx(c)
		if u == nil || !u.IsUserAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user-admin role required"})
			return
		}
		c.Next()
	}
}

// UserFromCtx returns the account injected by RequireUser, or nil.
func UserFromCtx(c *gin.Context) *users.User {
	v, _ := c.Get(ctxUser)
	u, _ := v.(*users.User)
	return u
}

// ClaimsFromCtx returns the session claims injected by RequireUser, or nil.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}
