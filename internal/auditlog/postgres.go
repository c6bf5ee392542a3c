package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// appendLockKey serialises Append across forumd and forumctl processes.
const appendLockKey = int64(7_301_554_219)

const entryColumns = `idx, timestamp, subject, action, actor, data_hash, prev_hash, hash`

// PostgresLog stores the chain in the audit_log table.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog. The genesis row is inserted by the
// initial migration.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

// Append implements Log. The tail read and the insert share one transaction
// holding an advisory lock, so two writers can never chain off the same tail.
func (l *PostgresLog) Append(ctx context.Context, subject, action, actor string, payload any) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev := &Entry{}
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&prev.Index, &prev.Hash); err != nil {
		return nil, fmt.Errorf("read audit tail: %w", err)
	}

	// Postgres keeps microseconds; truncate so the stored row rehashes identically.
	e := &Entry{
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Subject:   subject,
		Action:    action,
		Actor:     actor,
	}
	if err := link(e, prev, payload); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Index, e.Timestamp, e.Subject, e.Action, e.Actor, e.DataHash, e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit tx: %w", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int("idx", e.Index),
		zap.String("action", e.Action),
		zap.String("subject", e.Subject),
	)
	return e, nil
}

// Get implements Log.
func (l *PostgresLog) Get(ctx context.Context, index int) (*Entry, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_log WHERE idx = $1`, index)
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// BySubject implements Log.
func (l *PostgresLog) BySubject(ctx context.Context, subject string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_log
		 WHERE subject = $1 AND idx > 0
		 ORDER BY idx DESC LIMIT $2`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan audit entries: %w", err)
	}
	return entries, nil
}

// Verify implements Log. It streams the table in index order, O(n).
func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var c chainChecker
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan audit row: %w", err)
		}
		if err := c.check(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Head implements Log.
func (l *PostgresLog) Head(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get audit head: %w", err)
	}
	return hash, nil
}

func scanEntry(row pgx.CollectableRow) (*Entry, error) {
	e := &Entry{}
	err := row.Scan(&e.Index, &e.Timestamp, &e.Subject, &e.Action,
		&e.Actor, &e.DataHash, &e.PrevHash, &e.Hash)
	return e, err
}
