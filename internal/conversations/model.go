// Package conversations aggregates private messages into per-partner
// conversations and serves the paginated inbox, sentbox and thread views.
package conversations

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/pagination"
	"github.com/jmerrifield20/forumcore/internal/users"
)

// Message is one directed private message. Read belongs to the recipient.
// Deleted hides the row from the recipient and DeletedBySender hides it
// from the sender; neither removes it for the other party.
type Message struct {
	ID              uuid.UUID `json:"id"`
	SenderID        uuid.UUID `json:"sender_id"`
	RecipientID     uuid.UUID `json:"recipient_id"`
	Body            string    `json:"body"`
	Read            bool      `json:"read"`
	Deleted         bool      `json:"-"`
	DeletedBySender bool      `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// PairActivity is the newest message time for one direction of one pair.
type PairActivity struct {
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	LastAt      time.Time
}

// Partner is another user the viewer has exchanged messages with.
type Partner struct {
	User           *users.User `json:"user"`
	LastMessagedAt time.Time   `json:"last_messaged_at"`
}

// PartnerPage is one page of a viewer's partners.
type PartnerPage struct {
	Partners []Partner       `json:"partners"`
	Page     pagination.Page `json:"page"`
}

// MessagePage is one page of messages.
type MessagePage struct {
	Messages []*Message      `json:"messages"`
	Page     pagination.Page `json:"page"`
}
