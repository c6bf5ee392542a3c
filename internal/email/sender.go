// Package email delivers the forum's outgoing mail. Invitations are the
// only messages the account core sends.
package email

import (
	"context"
	"strings"
)

// Message is one plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// headerSafe strips CR and LF so user-supplied values cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
