package invites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/forumcore/internal/users"
)

// ErrNotFound is returned when no invite matches.
var ErrNotFound = errors.New("invite not found")

const inviteColumns = `id, user_id, email, token, message, expires_at, created_at`

// Repository stores invites and applies quota arithmetic in PostgreSQL.
// Quota changes are single relative UPDATEs so concurrent callers never
// overwrite each other.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// AddQuota adds n to available_invites and returns the new value.
func (r *Repository) AddQuota(ctx context.Context, userID uuid.UUID, n int) (int, error) {
	return r.updateQuota(ctx,
		`UPDATE users SET available_invites = available_invites + $2, updated_at = now()
		 WHERE id = $1 RETURNING available_invites`, userID, n)
}

// SubtractQuota removes up to n invites, flooring at zero, and returns the
// new value. RevokeAll empties the quota.
func (r *Repository) SubtractQuota(ctx context.Context, userID uuid.UUID, n int) (int, error) {
	if n == RevokeAll {
		return r.updateQuota(ctx,
			`UPDATE users SET available_invites = 0, updated_at = now()
			 WHERE id = $1 RETURNING available_invites`, userID)
	}
	return r.updateQuota(ctx,
		`UPDATE users SET available_invites = GREATEST(available_invites - $2, 0), updated_at = now()
		 WHERE id = $1 RETURNING available_invites`, userID, n)
}

// TakeOne decrements available_invites if it is positive. It reports false
// when the quota was already empty and users.ErrNotFound when the user does
// not exist.
func (r *Repository) TakeOne(ctx context.Context, userID uuid.UUID) (int, bool, error) {
	var (
		exists bool
		avail  *int
	)
	err := r.db.QueryRow(ctx, `
		WITH taken AS (
			UPDATE users SET available_invites = available_invites - 1, updated_at = now()
			WHERE id = $1 AND available_invites > 0
			RETURNING available_invites
		)
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1), (SELECT available_invites FROM taken)`,
		userID,
	).Scan(&exists, &avail)
	if err != nil {
		return 0, false, fmt.Errorf("decrement invite quota: %w", err)
	}
	if !exists {
		return 0, false, users.ErrNotFound
	}
	if avail == nil {
		return 0, false, nil
	}
	return *avail, true, nil
}

func (r *Repository) updateQuota(ctx context.Context, q string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, users.ErrNotFound
		}
		return 0, fmt.Errorf("update invite quota: %w", err)
	}
	return n, nil
}

// Create inserts inv. Sets ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, inv *Invite) error {
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO invites (`+inviteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.UserID, inv.Email, inv.Token, inv.Message, inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

// GetByToken retrieves an invite regardless of expiry.
func (r *Repository) GetByToken(ctx context.Context, token string) (*Invite, error) {
	rows, err := r.db.Query(ctx, `SELECT `+inviteColumns+` FROM invites WHERE token = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("query invite: %w", err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvite)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan invite: %w", err)
	}
	return inv, nil
}

// DeleteActiveByToken removes the invite for token if it is still
// unexpired at now. Concurrent callers race on the DELETE; exactly one of
// them gets the row, the rest get ErrNotFound.
func (r *Repository) DeleteActiveByToken(ctx context.Context, token string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM invites WHERE token = $1 AND expires_at > $2`, token, now)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns userID's unexpired invites, newest first.
func (r *Repository) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Invite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+inviteColumns+` FROM invites
		 WHERE user_id = $1 AND expires_at > $2
		 ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanInvite)
	if err != nil {
		return nil, fmt.Errorf("scan invites: %w", err)
	}
	return out, nil
}

// CountIssued counts invites owned by userID, expired or not.
func (r *Repository) CountIssued(ctx context.Context, userID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM invites WHERE user_id = $1`, userID)
}

// CountInvitees counts accounts whose inviter is userID.
func (r *Repository) CountInvitees(ctx context.Context, userID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE inviter_id = $1`, userID)
}

// DeleteExpired removes invites that expired at or before now.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM invites WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired invites: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) count(ctx context.Context, q string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func scanInvite(row pgx.CollectableRow) (*Invite, error) {
	var inv Invite
	err := row.Scan(&inv.ID, &inv.UserID, &inv.Email, &inv.Token, &inv.Message, &inv.ExpiresAt, &inv.CreatedAt)
	return &inv, err
}
