// Package counters keeps the cached posts_count and discussions_count
// columns on users in line with the posts and discussions tables.
package counters

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/metrics"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of users loaded per Sweep page.
const DefaultBatchSize = 500

// Counts is a pair of per-user counters.
type Counts struct {
	Posts       int `json:"posts"`
	Discussions int `json:"discussions"`
}

// Result describes one reconciliation.
type Result struct {
	UserID           uuid.UUID `json:"user_id"`
	Cached           Counts    `json:"cached"`
	Actual           Counts    `json:"actual"`
	PostsDelta       int       `json:"posts_delta"`
	DiscussionsDelta int       `json:"discussions_delta"`
}

// Corrected reports whether any counter drifted.
func (r Result) Corrected() bool {
	return r.PostsDelta != 0 || r.DiscussionsDelta != 0
}

// SweepStats summarises a Sweep.
type SweepStats struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
	Failed    int `json:"failed"`
}

// counterStore is the storage interface consumed by Reconciler.
type counterStore interface {
	CachedCounts(ctx context.Context, userID uuid.UUID) (Counts, error)
	ActualCounts(ctx context.Context, userID uuid.UUID) (Counts, error)
	// ApplyDelta adds the deltas to the cached columns in one relative
	// UPDATE; it must never write absolute values.
	ApplyDelta(ctx context.Context, userID uuid.UUID, posts, discussions int) error
	UserIDsAfter(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Reconciler corrects counter drift.
type Reconciler struct {
	store     counterStore
	audit     auditlog.Recorder
	batchSize int
	logger    *zap.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(store counterStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, batchSize: DefaultBatchSize, logger: logger}
}

// SetAuditLog records each correction to rec.
func (r *Reconciler) SetAuditLog(rec auditlog.Recorder) { r.audit = rec }

// SetBatchSize overrides DefaultBatchSize.
func (r *Reconciler) SetBatchSize(n int) {
	if n > 0 {
		r.batchSize = n
	}
}

// Reconcile compares userID's cached counters with the true counts and
// applies the difference as a signed delta. Drift is corrected and logged,
// not returned as an error; store failures are returned.
func (r *Reconciler) Reconcile(ctx context.Context, userID uuid.UUID) (Result, error) {
	res := Result{UserID: userID}

	cached, err := r.store.CachedCounts(ctx, userID)
	if err != nil {
		metrics.RecordReconcile(false)
		return res, fmt.Errorf("load cached counts: %w", err)
	}
	actual, err := r.store.ActualCounts(ctx, userID)
	if err != nil {
		metrics.RecordReconcile(false)
		return res, fmt.Errorf("count owned rows: %w", err)
	}
	res.Cached, res.Actual = cached, actual
	res.PostsDelta = actual.Posts - cached.Posts
	res.DiscussionsDelta = actual.Discussions - cached.Discussions

	if !res.Corrected() {
		metrics.RecordReconcile(true)
		return res, nil
	}

	if err := r.store.ApplyDelta(ctx, userID, res.PostsDelta, res.DiscussionsDelta); err != nil {
		metrics.RecordReconcile(false)
		return res, fmt.Errorf("apply counter delta: %w", err)
	}
	metrics.RecordReconcile(true)

	for _, f := range []struct {
		name          string
		cached, delta int
	}{
		{"posts_count", cached.Posts, res.PostsDelta},
		{"discussions_count", cached.Discussions, res.DiscussionsDelta},
	} {
		if f.delta == 0 {
			continue
		}
		metrics.RecordCounterCorrection(f.name)
		r.logger.Warn("counter cache drift corrected",
			zap.String("user_id", userID.String()),
			zap.String("field", f.name),
			zap.Int("cached", f.cached),
			zap.Int("delta", f.delta),
		)
	}
	auditlog.Record(ctx, r.audit, r.logger, userID.String(), auditlog.ActionCounterCorrect, res)
	return res, nil
}

// Sweep reconciles every user in ID order, one page at a time. A failure on
// one user is logged and counted and the sweep moves on; only a failure to
// list users or a cancelled ctx stops it.
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ids, err := r.store.UserIDsAfter(ctx, after, r.batchSize)
		if err != nil {
			return stats, fmt.Errorf("list users: %w", err)
		}
		for _, id := range ids {
			res, err := r.Reconcile(ctx, id)
			stats.Checked++
			if err != nil {
				stats.Failed++
				r.logger.Error("reconcile user", zap.String("user_id", id.String()), zap.Error(err))
				continue
			}
			if res.Corrected() {
				stats.Corrected++
			}
		}
		if len(ids) < r.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	r.logger.Info("counter sweep finished",
		zap.Int("checked", stats.Checked),
		zap.Int("corrected", stats.Corrected),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
