// Package auditlog records account events (role changes, invite quota
// changes, counter corrections, password changes) in an append-only,
// hash-chained log.
//
// The chain starts at a genesis entry whose Hash equals GenesisHash. Each
// later entry stores the hash of its predecessor, so Verify detects any
// rewritten or removed row.
//
// MemoryLog serves tests and single-process tools; PostgresLog is the
// durable implementation used by forumd.
package auditlog

import "context"

// Well-known actions.
const (
	ActionGenesis        = "genesis"
	ActionRoleChange     = "role.change"
	ActionInvitesGrant   = "invites.grant"
	ActionInvitesRevoke  = "invites.revoke"
	ActionCounterCorrect = "counters.correct"
	ActionPasswordChange = "password.change"
	ActionUserDestroy    = "user.destroy"
)

// SystemActor is recorded when no user triggered the event.
const SystemActor = "forum-system"

// Log is the append-only audit trail.
type Log interface {
	// Append chains a new entry. payload is JSON-marshalled and only its
	// SHA-256 is stored.
	Append(ctx context.Context, subject, action, actor string, payload any) (*Entry, error)

	Get(ctx context.Context, index int) (*Entry, error)

	// Len counts entries including genesis.
	Len(ctx context.Context) (int, error)

	// BySubject returns the newest entries about subject, newest first.
	BySubject(ctx context.Context, subject string, limit int) ([]*Entry, error)

	// Verify walks the whole chain and returns nil if it is intact.
	Verify(ctx context.Context) error

	// Head returns the hash of the newest entry.
	Head(ctx context.Context) (string, error)
}

// Recorder is the narrow append-only view handed to services.
type Recorder interface {
	Append(ctx context.Context, subject, action, actor string, payload any) (*Entry, error)
}
