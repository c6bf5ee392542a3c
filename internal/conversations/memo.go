package conversations

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoKey struct{}

// unreadMemo caches unread totals for the lifetime of one request.
type unreadMemo struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

// WithUnreadMemo returns a context that memoizes UnreadTotal. Install it
// once per request; it must not outlive the request.
func WithUnreadMemo(ctx context.Context) context.Context {
	if memoFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, memoKey{}, &unreadMemo{counts: make(map[uuid.UUID]int)})
}

func memoFrom(ctx context.Context) *unreadMemo {
	m, _ := ctx.Value(memoKey{}).(*unreadMemo)
	return m
}

func (m *unreadMemo) get(userID uuid.UUID) (int, bool) {
	if m == nil {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.counts[userID]
	return n, ok
}

func (m *unreadMemo) put(userID uuid.UUID, n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counts[userID] = n
	m.mu.Unlock()
}

func (m *unreadMemo) forget(userID uuid.UUID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.counts, userID)
	m.mu.Unlock()
}
