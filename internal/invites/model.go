// Package invites manages the per-user invite quota and the invites issued
// against it.
package invites

import (
	"time"

	"github.com/google/uuid"
)

// Invite is an invitation issued by UserID to Email.
type Invite struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token,omitempty"`
	Message   string    `json:"message,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the invite has not yet expired at now.
func (i *Invite) Active(now time.Time) bool {
	return now.Before(i.ExpiresAt)
}
