package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a user lookup finds no matching record.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateUsername is returned when the username is already taken.
var ErrDuplicateUsername = errors.New("username already taken")

// ErrDuplicateOpenID is returned when another account holds the OpenID URL.
var ErrDuplicateOpenID = errors.New("openid url already registered")

const userColumns = `id, username, email, realname, application, hashed_password, openid_url,
	admin, trusted, moderator, user_admin, banned, activated,
	available_invites, inviter_id, posts_count, discussions_count,
	last_active, created_at, updated_at`

// UserRepository stores users in PostgreSQL.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts u. Sets ID, CreatedAt, UpdatedAt on the user.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	q := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err := r.db.Exec(ctx, q,
		u.ID, u.Username, u.Email, u.RealName, u.Application, u.HashedPassword, nullable(u.OpenIDURL),
		u.Admin, u.Trusted, u.Moderator, u.UserAdmin, u.Banned, u.Activated,
		u.AvailableInvites, u.InviterID, u.PostsCount, u.DiscussionsCount,
		u.LastActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "users_openid_url_key" {
				return ErrDuplicateOpenID
			}
			return ErrDuplicateUsername
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// GetByOpenID retrieves a user by normalized OpenID URL.
func (r *UserRepository) GetByOpenID(ctx context.Context, openidURL string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE openid_url = $1`, openidURL)
}

// GetByIDs returns the users that exist among ids, in no particular order.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return out, nil
}

// UpdatePassword stores a new credential digest.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, hash string) error {
	q := `UPDATE users SET hashed_password = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, userID, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRoles writes u's authorization flags.
func (r *UserRepository) UpdateRoles(ctx context.Context, u *User) error {
	q := `
		UPDATE users
		SET admin = $2, trusted = $3, moderator = $4, user_admin = $5, banned = $6, activated = $7, updated_at = $8
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, u.ID,
		u.Admin, u.Trusted, u.Moderator, u.UserAdmin, u.Banned, u.Activated, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update roles: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastActive sets last_active to at unless the stored value is newer
// than staleBefore. It reports whether a row was written.
func (r *UserRepository) TouchLastActive(ctx context.Context, userID uuid.UUID, at, staleBefore time.Time) (bool, error) {
	q := `UPDATE users SET last_active = $2 WHERE id = $1 AND (last_active IS NULL OR last_active < $3)`
	tag, err := r.db.Exec(ctx, q, userID, at, staleBefore)
	if err != nil {
		return false, fmt.Errorf("touch last_active: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the user together with the invites, discussion views and
// discussion relationships it owns, in one transaction. Posts, discussions
// and messages are left in place.
func (r *UserRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM invites WHERE user_id = $1`,
		`DELETE FROM discussion_views WHERE user_id = $1`,
		`DELETE FROM discussion_relationships WHERE user_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, userID); err != nil {
			return fmt.Errorf("delete owned rows: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRelationship returns the user's relationship row for a discussion.
func (r *UserRepository) GetRelationship(ctx context.Context, userID, discussionID uuid.UUID) (*DiscussionRelationship, error) {
	rel := &DiscussionRelationship{UserID: userID, DiscussionID: discussionID}
	err := r.db.QueryRow(ctx, `
		SELECT following, favorite, participated
		FROM discussion_relationships
		WHERE user_id = $1 AND discussion_id = $2`, userID, discussionID,
	).Scan(&rel.Following, &rel.Favorite, &rel.Participated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return rel, nil
}

func (r *UserRepository) scanOne(ctx context.Context, q string, args ...any) (*User, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.CollectableRow) (*User, error) {
	var u User
	var openid *string
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.RealName, &u.Application, &u.HashedPassword, &openid,
		&u.Admin, &u.Trusted, &u.Moderator, &u.UserAdmin, &u.Banned, &u.Activated,
		&u.AvailableInvites, &u.InviterID, &u.PostsCount, &u.DiscussionsCount,
		&u.LastActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if openid != nil {
		u.OpenIDURL = *openid
	}
	return &u, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
