package auditlog

import (
	"context"

	"github.com/jmerrifield20/forumcore/internal/metrics"
	"go.uber.org/zap"
)

type actorKey struct{}

// WithActor attaches the acting user's identifier to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor attached by WithActor, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return SystemActor
}

// Record appends an entry attributed to ActorFrom(ctx). A nil Recorder is a
// no-op. Append failures are logged and swallowed: the audited change has
// already been committed.
func Record(ctx context.Context, rec Recorder, logger *zap.Logger, subject, action string, payload any) {
	if rec == nil {
		return
	}
	if _, err := rec.Append(ctx, subject, action, ActorFrom(ctx), payload); err != nil {
		logger.Warn("audit append failed",
			zap.String("subject", subject),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}
	metrics.RecordAuditAppend()
}
