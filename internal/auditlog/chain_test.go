package auditlog

import (
	"context"
	"testing"
)

func TestVerify_detectsTampering(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	_, _ = l.Append(ctx, "user-1", ActionRoleChange, "admin-1", map[string]bool{"trusted": true})
	_, _ = l.Append(ctx, "user-1", ActionRoleChange, "admin-1", map[string]bool{"admin": true})

	l.entries[1].Actor = "someone-else"

	if err := l.Verify(ctx); err == nil {
		t.Fatal("Verify() should reject a rewritten entry")
	}
}

func TestVerify_detectsRemovedEntry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog()
	_, _ = l.Append(ctx, "user-1", ActionInvitesGrant, "a", nil)
	_, _ = l.Append(ctx, "user-1", ActionInvitesRevoke, "a", nil)
	_, _ = l.Append(ctx, "user-1", ActionInvitesGrant, "a", nil)

	l.entries = append(l.entries[:2], l.entries[3:]...)

	if err := l.Verify(ctx); err == nil {
		t.Fatal("Verify() should reject a gap in the chain")
	}
}
