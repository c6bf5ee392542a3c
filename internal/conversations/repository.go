package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no message matches.
var ErrNotFound = errors.New("message not found")

const messageColumns = `id, sender_id, recipient_id, body, read, deleted, deleted_by_sender, created_at`

const (
	pairPredicate   = `((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))`
	threadPredicate = `((sender_id = $1 AND recipient_id = $2 AND NOT deleted_by_sender)
		OR (sender_id = $2 AND recipient_id = $1 AND NOT deleted))`
)

// Repository reads and writes messages in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// PairActivity returns MAX(created_at) per direction for every pair that
// includes userID and a partner account that still exists. The aggregator
// merges the two directions.
func (r *Repository) PairActivity(ctx context.Context, userID uuid.UUID) ([]PairActivity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.sender_id, m.recipient_id, MAX(m.created_at)
		FROM messages m
		WHERE (m.sender_id = $1 OR m.recipient_id = $1)
		  AND EXISTS (
			SELECT 1 FROM users u
			WHERE u.id = CASE WHEN m.sender_id = $1 THEN m.recipient_id ELSE m.sender_id END)
		GROUP BY m.sender_id, m.recipient_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query pair activity: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PairActivity, error) {
		var p PairActivity
		err := row.Scan(&p.SenderID, &p.RecipientID, &p.LastAt)
		return p, err
	})
}

// FirstBetween returns the oldest message between a and b.
func (r *Repository) FirstBetween(ctx context.Context, a, b uuid.UUID) (*Message, error) {
	return r.scanOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+pairPredicate+`
		ORDER BY created_at ASC, id ASC LIMIT 1`, a, b)
}

// LastBetween returns the newest message between a and b.
func (r *Repository) LastBetween(ctx context.Context, a, b uuid.UUID) (*Message, error) {
	return r.scanOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+pairPredicate+`
		ORDER BY created_at DESC, id DESC LIMIT 1`, a, b)
}

// CountBetween counts all messages between a and b, deleted or not.
func (r *Repository) CountBetween(ctx context.Context, a, b uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages WHERE `+pairPredicate, a, b)
}

// CountUnreadFrom counts unread messages from sender to recipient.
func (r *Repository) CountUnreadFrom(ctx context.Context, recipient, sender uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages
		WHERE recipient_id = $1 AND sender_id = $2 AND NOT read`, recipient, sender)
}

// CountUnread counts recipient's unread messages still in the inbox.
func (r *Repository) CountUnread(ctx context.Context, recipient uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages
		WHERE recipient_id = $1 AND NOT read AND NOT deleted`, recipient)
}

// CountInbox counts messages received and not deleted by the recipient.
func (r *Repository) CountInbox(ctx context.Context, userID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages WHERE recipient_id = $1 AND NOT deleted`, userID)
}

// ListInbox returns a page of the inbox, newest first.
func (r *Repository) ListInbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Message, error) {
	return r.list(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE recipient_id = $1 AND NOT deleted
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
}

// CountSent counts messages sent and not deleted by the sender.
func (r *Repository) CountSent(ctx context.Context, userID uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages WHERE sender_id = $1 AND NOT deleted_by_sender`, userID)
}

// ListSent returns a page of the sentbox, newest first.
func (r *Repository) ListSent(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Message, error) {
	return r.list(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE sender_id = $1 AND NOT deleted_by_sender
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
}

// CountThread counts the messages viewer can still see with other.
func (r *Repository) CountThread(ctx context.Context, viewer, other uuid.UUID) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages WHERE `+threadPredicate, viewer, other)
}

// ListThread returns a page of the thread, oldest first.
func (r *Repository) ListThread(ctx context.Context, viewer, other uuid.UUID, limit, offset int) ([]*Message, error) {
	return r.list(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+threadPredicate+`
		ORDER BY created_at ASC, id ASC LIMIT $3 OFFSET $4`, viewer, other, limit, offset)
}

// MarkRead marks every unread message from sender to recipient as read.
func (r *Repository) MarkRead(ctx context.Context, recipient, sender uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE messages SET read = true
		WHERE recipient_id = $1 AND sender_id = $2 AND NOT read`, recipient, sender)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Create inserts m. Sets ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.SenderID, m.RecipientID, m.Body, m.Read, m.Deleted, m.DeletedBySender, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// GetByID retrieves a message.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.scanOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
}

// MarkDeleted sets the sender's or the recipient's soft-delete flag.
func (r *Repository) MarkDeleted(ctx context.Context, id uuid.UUID, bySender bool) error {
	q := `UPDATE messages SET deleted = true WHERE id = $1`
	if bySender {
		q = `UPDATE messages SET deleted_by_sender = true WHERE id = $1`
	}
	tag, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) scanOne(ctx context.Context, q string, args ...any) (*Message, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*Message, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return out, nil
}

func (r *Repository) count(ctx context.Context, q string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanMessage(row pgx.CollectableRow) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.Read, &m.Deleted, &m.DeletedBySender, &m.CreatedAt)
	return &m, err
}
