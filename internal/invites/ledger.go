package invites

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/email"
	"github.com/jmerrifield20/forumcore/internal/metrics"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

// RevokeAll passed to Revoke empties the quota.
const RevokeAll = -1

// DefaultExpiry is how long an issued invite stays redeemable.
const DefaultExpiry = 14 * 24 * time.Hour

var (
	// ErrNoInvitesAvailable is returned by Issue when the quota is empty.
	ErrNoInvitesAvailable = errors.New("no invites available")
	// ErrExpired is returned when redeeming an expired invite.
	ErrExpired = errors.New("invite expired")
)

// inviteRepo is the storage interface consumed by Ledger.
type inviteRepo interface {
	AddQuota(ctx context.Context, userID uuid.UUID, n int) (int, error)
	SubtractQuota(ctx context.Context, userID uuid.UUID, n int) (int, error)
	TakeOne(ctx context.Context, userID uuid.UUID) (int, bool, error)
	Create(ctx context.Context, inv *Invite) error
	GetByToken(ctx context.Context, token string) (*Invite, error)
	DeleteActiveByToken(ctx context.Context, token string, now time.Time) error
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Invite, error)
	CountIssued(ctx context.Context, userID uuid.UUID) (int, error)
	CountInvitees(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Ledger applies quota rules to users' available invites. User-admins (and
// admins) are exempt: their stored quota is never read or written.
type Ledger struct {
	repo      inviteRepo
	audit     auditlog.Recorder
	mail      email.Sender
	acceptURL string
	expiry    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewLedger creates a new Ledger.
func NewLedger(repo inviteRepo, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		expiry: DefaultExpiry,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetMailer sends every issued invite to its recipient through m. acceptURL
// is the frontend page that redeems a token; the token is appended as a
// query parameter.
func (l *Ledger) SetMailer(m email.Sender, acceptURL string) {
	l.mail = m
	l.acceptURL = acceptURL
}

// SetAuditLog records grants and revokes to rec.
func (l *Ledger) SetAuditLog(rec auditlog.Recorder) { l.audit = rec }

// SetExpiry overrides DefaultExpiry.
func (l *Ledger) SetExpiry(d time.Duration) {
	if d > 0 {
		l.expiry = d
	}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Grant adds n invites to u's quota and returns u's active invites.
// u.AvailableInvites is updated to the stored value.
func (l *Ledger) Grant(ctx context.Context, u *users.User, n int) ([]*Invite, error) {
	if n < 0 {
		return nil, &users.ValidationError{Problems: []users.FieldError{{Field: "count", Message: "must not be negative"}}}
	}
	if u.IsUserAdmin() || n == 0 {
		return l.ListActive(ctx, u.ID)
	}

	avail, err := l.repo.AddQuota(ctx, u.ID, n)
	if err != nil {
		return nil, fmt.Errorf("grant invites: %w", err)
	}
	u.AvailableInvites = avail

	metrics.RecordInviteQuota("grant")
	auditlog.Record(ctx, l.audit, l.logger, u.ID.String(), auditlog.ActionInvitesGrant,
		map[string]int{"granted": n, "available": avail})
	l.logger.Info("invites granted",
		zap.String("user_id", u.ID.String()),
		zap.Int("granted", n),
		zap.Int("available", avail),
	)
	return l.ListActive(ctx, u.ID)
}

// Revoke removes n invites from u's quota, or all of them for RevokeAll.
// The quota floors at zero instead of failing. For user-admins it is a
// no-op reporting UnlimitedInvites.
func (l *Ledger) Revoke(ctx context.Context, u *users.User, n int) (int, error) {
	if u.IsUserAdmin() {
		return u.EffectiveAvailableInvites(), nil
	}
	if n < 0 && n != RevokeAll {
		return 0, &users.ValidationError{Problems: []users.FieldError{{Field: "count", Message: "must not be negative"}}}
	}
	if n == 0 {
		return u.AvailableInvites, nil
	}

	avail, err := l.repo.SubtractQuota(ctx, u.ID, n)
	if err != nil {
		return 0, fmt.Errorf("revoke invites: %w", err)
	}
	u.AvailableInvites = avail

	metrics.RecordInviteQuota("revoke")
	auditlog.Record(ctx, l.audit, l.logger, u.ID.String(), auditlog.ActionInvitesRevoke,
		map[string]int{"revoked": n, "available": avail})
	l.logger.Info("invites revoked",
		zap.String("user_id", u.ID.String()),
		zap.Int("revoked", n),
		zap.Int("available", avail),
	)
	return avail, nil
}

// HasAvailable reports whether u may issue an invite now.
func (l *Ledger) HasAvailable(u *users.User) bool {
	return u.IsUserAdmin() || u.AvailableInvites > 0
}

// HasInvitedAnyone reports whether u owns at least one invite.
func (l *Ledger) HasInvitedAnyone(ctx context.Context, u *users.User) (bool, error) {
	n, err := l.repo.CountIssued(ctx, u.ID)
	return n > 0, err
}

// HasInvitees reports whether any account names u as its inviter.
func (l *Ledger) HasInvitees(ctx context.Context, u *users.User) (bool, error) {
	n, err := l.repo.CountInvitees(ctx, u.ID)
	return n > 0, err
}

// HasInviteActivity reports whether u has issued invites or has invitees.
func (l *Ledger) HasInviteActivity(ctx context.Context, u *users.User) (bool, error) {
	ok, err := l.HasInvitedAnyone(ctx, u)
	if err != nil || ok {
		return ok, err
	}
	return l.HasInvitees(ctx, u)
}

// Issue creates an invite from inviter to email, spending one invite from
// the quota. The quota check and decrement are one atomic store operation.
func (l *Ledger) Issue(ctx context.Context, inviter *users.User, email, message string) (*Invite, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &users.ValidationError{Problems: []users.FieldError{{Field: "email", Message: "is not an email address"}}}
	}

	exempt := inviter.IsUserAdmin()
	if !exempt {
		avail, ok, err := l.repo.TakeOne(ctx, inviter.ID)
		if err != nil {
			return nil, fmt.Errorf("take invite: %w", err)
		}
		if !ok {
			inviter.AvailableInvites = 0
			return nil, ErrNoInvitesAvailable
		}
		inviter.AvailableInvites = avail
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	inv := &Invite{
		UserID:    inviter.ID,
		Email:     email,
		Token:     token,
		Message:   strings.TrimSpace(message),
		ExpiresAt: l.now().Add(l.expiry),
	}
	if err := l.repo.Create(ctx, inv); err != nil {
		if !exempt {
			if avail, rerr := l.repo.AddQuota(ctx, inviter.ID, 1); rerr != nil {
				l.logger.Error("refund invite after failed issue",
					zap.String("user_id", inviter.ID.String()),
					zap.Error(rerr),
				)
			} else {
				inviter.AvailableInvites = avail
			}
		}
		return nil, err
	}

	metrics.RecordInviteIssued()
	l.logger.Info("invite issued",
		zap.String("user_id", inviter.ID.String()),
		zap.String("invite_id", inv.ID.String()),
	)
	l.deliver(ctx, inviter, inv)
	return inv, nil
}

// Redeem returns the active invite for token.
func (l *Ledger) Redeem(ctx context.Context, token string) (*Invite, error) {
	inv, err := l.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !inv.Active(l.now()) {
		return nil, ErrExpired
	}
	return inv, nil
}

// InviterFor resolves token to its inviter for signup. Unknown and expired
// tokens wrap users.ErrInvalidInvite.
func (l *Ledger) InviterFor(ctx context.Context, token string) (uuid.UUID, error) {
	inv, err := l.Redeem(ctx, token)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		return uuid.Nil, fmt.Errorf("%w: %w", users.ErrInvalidInvite, err)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return inv.UserID, nil
}

// Consume deletes a redeemed invite. It fails with users.ErrInvalidInvite
// when the token is unknown, expired or was consumed by someone else first.
func (l *Ledger) Consume(ctx context.Context, token string) error {
	err := l.repo.DeleteActiveByToken(ctx, token, l.now())
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", users.ErrInvalidInvite, err)
	}
	return err
}

// ListActive returns userID's unexpired invites.
func (l *Ledger) ListActive(ctx context.Context, userID uuid.UUID) ([]*Invite, error) {
	return l.repo.ListActive(ctx, userID, l.now())
}

// DeleteExpired removes every invite expired at now.
func (l *Ledger) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := l.repo.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("expired invites removed", zap.Int64("count", n))
	}
	return n, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
