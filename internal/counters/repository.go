package counters

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/forumcore/internal/users"
)

// Repository reads and adjusts counters in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CachedCounts reads the cached columns.
func (r *Repository) CachedCounts(ctx context.Context, userID uuid.UUID) (Counts, error) {
	var c Counts
	err := r.db.QueryRow(ctx,
		`SELECT posts_count, discussions_count FROM users WHERE id = $1`, userID,
	).Scan(&c.Posts, &c.Discussions)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, users.ErrNotFound
	}
	return c, err
}

// ActualCounts counts the user's posts and discussions.
func (r *Repository) ActualCounts(ctx context.Context, userID uuid.UUID) (Counts, error) {
	var c Counts
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts WHERE user_id = $1),
			(SELECT COUNT(*) FROM discussions WHERE poster_id = $1)`, userID,
	).Scan(&c.Posts, &c.Discussions)
	return c, err
}

// ApplyDelta adds the deltas to the cached columns.
func (r *Repository) ApplyDelta(ctx context.Context, userID uuid.UUID, posts, discussions int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET posts_count = posts_count + $2, discussions_count = discussions_count + $3
		WHERE id = $1`, userID, posts, discussions)
	if err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

// UserIDsAfter returns up to limit user IDs greater than after, ascending.
func (r *Repository) UserIDsAfter(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
