package invites

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmerrifield20/forumcore/internal/email"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

// deliver mails inv to its recipient. Delivery failures are logged only;
// the invite stays valid and the inviter can share the token by hand.
func (l *Ledger) deliver(ctx context.Context, inviter *users.User, inv *Invite) {
	if l.mail == nil {
		return
	}
	msg := invitationMessage(inviter.Username, inv, l.acceptURL)
	if err := l.mail.Send(ctx, msg); err != nil {
		l.logger.Warn("invite email not sent",
			zap.String("invite_id", inv.ID.String()),
			zap.Error(err),
		)
	}
}

func invitationMessage(from string, inv *Invite, acceptURL string) email.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has invited you to join the forum.\n\n", from)
	if inv.Message != "" {
		fmt.Fprintf(&b, "%s\n\n", inv.Message)
	}
	fmt.Fprintf(&b, "Accept the invitation here:\n%s\n\n", acceptLink(acceptURL, inv.Token))
	fmt.Fprintf(&b, "The invitation expires on %s.\n", inv.ExpiresAt.Format("January 2, 2006"))
	return email.Message{
		To:      inv.Email,
		Subject: from + " invited you to the forum",
		Body:    b.String(),
	}
}

func acceptLink(base, token string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return token
	}
	q := u.Query()
	q.Set("invite", token)
	u.RawQuery = q.Encode()
	return u.String()
}
