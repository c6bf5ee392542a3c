package auditlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLog keeps the chain in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewMemoryLog returns a log holding only the genesis entry.
func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{now: func() time.Time { return time.Now().UTC() }}
	l.entries = []*Entry{genesisEntry(l.now())}
	return l
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, subject, action, actor string, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{Timestamp: l.now(), Subject: subject, Action: action, Actor: actor}
	if err := link(e, l.entries[len(l.entries)-1], payload); err != nil {
		return nil, err
	}
	l.entries = append(l.entries, e)
	cp := *e
	return &cp, nil
}

// Get implements Log.
func (l *MemoryLog) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	cp := *l.entries[index]
	return &cp, nil
}

// Len implements Log.
func (l *MemoryLog) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// BySubject implements Log.
func (l *MemoryLog) BySubject(_ context.Context, subject string, limit int) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Entry
	for i := len(l.entries) - 1; i > 0; i-- {
		if l.entries[i].Subject != subject {
			continue
		}
		cp := *l.entries[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Verify implements Log.
func (l *MemoryLog) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var c chainChecker
	for _, e := range l.entries {
		if err := c.check(e); err != nil {
			return err
		}
	}
	return nil
}

// Head implements Log.
func (l *MemoryLog) Head(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}
