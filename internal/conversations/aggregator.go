package conversations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/pagination"
	"github.com/jmerrifield20/forumcore/internal/users"
	"go.uber.org/zap"
)

// messageStore is the storage interface consumed by Aggregator.
type messageStore interface {
	PairActivity(ctx context.Context, userID uuid.UUID) ([]PairActivity, error)
	FirstBetween(ctx context.Context, a, b uuid.UUID) (*Message, error)
	LastBetween(ctx context.Context, a, b uuid.UUID) (*Message, error)
	CountBetween(ctx context.Context, a, b uuid.UUID) (int, error)
	CountUnreadFrom(ctx context.Context, recipient, sender uuid.UUID) (int, error)
	CountUnread(ctx context.Context, recipient uuid.UUID) (int, error)
	CountInbox(ctx context.Context, userID uuid.UUID) (int, error)
	ListInbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Message, error)
	CountSent(ctx context.Context, userID uuid.UUID) (int, error)
	ListSent(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Message, error)
	CountThread(ctx context.Context, viewer, other uuid.UUID) (int, error)
	ListThread(ctx context.Context, viewer, other uuid.UUID, limit, offset int) ([]*Message, error)
	MarkRead(ctx context.Context, recipient, sender uuid.UUID) (int64, error)
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	MarkDeleted(ctx context.Context, id uuid.UUID, bySender bool) error
}

// userLookup resolves partner IDs to accounts.
type userLookup interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*users.User, error)
}

// Aggregator answers who a user has exchanged messages with and what state
// each conversation is in. It is read-only apart from Send, MarkRead and
// DeleteForViewer.
type Aggregator struct {
	store  messageStore
	users  userLookup
	logger *zap.Logger
}

// NewAggregator creates a new Aggregator.
func NewAggregator(store messageStore, lookup userLookup, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, users: lookup, logger: logger}
}

type partnerActivity struct {
	id     uuid.UUID
	lastAt time.Time
}

// partnerOrder merges both message directions per partner ID and orders
// partners by their newest message, most recent first. Ties break on ID so
// pages are stable.
func (a *Aggregator) partnerOrder(ctx context.Context, userID uuid.UUID) ([]partnerActivity, error) {
	rows, err := a.store.PairActivity(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load pair activity: %w", err)
	}

	latest := make(map[uuid.UUID]time.Time, len(rows))
	for _, r := range rows {
		var other uuid.UUID
		switch {
		case r.SenderID == userID && r.RecipientID == userID:
			continue
		case r.SenderID == userID:
			other = r.RecipientID
		case r.RecipientID == userID:
			other = r.SenderID
		default:
			continue
		}
		if t, ok := latest[other]; !ok || r.LastAt.After(t) {
			latest[other] = r.LastAt
		}
	}

	order := make([]partnerActivity, 0, len(latest))
	for id, t := range latest {
		order = append(order, partnerActivity{id: id, lastAt: t})
	}
	sort.Slice(order, func(i, j int) bool {
		if !order[i].lastAt.Equal(order[j].lastAt) {
			return order[i].lastAt.After(order[j].lastAt)
		}
		return strings.Compare(order[i].id.String(), order[j].id.String()) < 0
	})
	return order, nil
}

// resolve attaches accounts to activity, skipping partners whose account no
// longer exists.
func (a *Aggregator) resolve(ctx context.Context, activity []partnerActivity) ([]Partner, error) {
	if len(activity) == 0 {
		return []Partner{}, nil
	}
	ids := make([]uuid.UUID, len(activity))
	for i, p := range activity {
		ids[i] = p.id
	}
	found, err := a.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load partners: %w", err)
	}
	byID := make(map[uuid.UUID]*users.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}

	out := make([]Partner, 0, len(activity))
	for _, p := range activity {
		u, ok := byID[p.id]
		if !ok {
			continue
		}
		out = append(out, Partner{User: u, LastMessagedAt: p.lastAt})
	}
	return out, nil
}

// Partners returns everyone u has exchanged messages with, most recently
// active conversation first.
func (a *Aggregator) Partners(ctx context.Context, u *users.User) ([]Partner, error) {
	order, err := a.partnerOrder(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return a.resolve(ctx, order)
}

// PaginatedPartners returns one page of Partners. Partners whose account is
// gone are dropped before counting, so Total always equals len(Partners).
func (a *Aggregator) PaginatedPartners(ctx context.Context, u *users.User, page, perPage int) (*PartnerPage, error) {
	all, err := a.Partners(ctx, u)
	if err != nil {
		return nil, err
	}
	p := pagination.Paginate(len(all), perPage, page)
	start, end := p.Window(len(all))
	return &PartnerPage{Partners: all[start:end], Page: p}, nil
}

// FirstMessageWith returns the oldest message between u and other. The bool
// is false when they have never exchanged messages.
func (a *Aggregator) FirstMessageWith(ctx context.Context, u *users.User, other uuid.UUID) (*Message, bool, error) {
	return found(a.store.FirstBetween(ctx, u.ID, other))
}

// LastMessageWith returns the newest message between u and other.
func (a *Aggregator) LastMessageWith(ctx context.Context, u *users.User, other uuid.UUID) (*Message, bool, error) {
	return found(a.store.LastBetween(ctx, u.ID, other))
}

func found(m *Message, err error) (*Message, bool, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// MessageCount counts every message between u and other in either
// direction, including ones either side has deleted from view.
func (a *Aggregator) MessageCount(ctx context.Context, u *users.User, other uuid.UUID) (int, error) {
	return a.store.CountBetween(ctx, u.ID, other)
}

// UnreadCountFrom counts messages from sender that u has not read.
func (a *Aggregator) UnreadCountFrom(ctx context.Context, u *users.User, sender uuid.UUID) (int, error) {
	return a.store.CountUnreadFrom(ctx, u.ID, sender)
}

// UnreadFrom reports whether u has unread messages from sender.
func (a *Aggregator) UnreadFrom(ctx context.Context, u *users.User, sender uuid.UUID) (bool, error) {
	n, err := a.UnreadCountFrom(ctx, u, sender)
	return n > 0, err
}

// UnreadTotal counts u's unread, undeleted messages. Within a context from
// WithUnreadMemo the store is queried once.
func (a *Aggregator) UnreadTotal(ctx context.Context, u *users.User) (int, error) {
	memo := memoFrom(ctx)
	if n, ok := memo.get(u.ID); ok {
		return n, nil
	}
	n, err := a.store.CountUnread(ctx, u.ID)
	if err != nil {
		return 0, err
	}
	memo.put(u.ID, n)
	return n, nil
}

// PaginatedInbox pages through messages u received and has not deleted.
func (a *Aggregator) PaginatedInbox(ctx context.Context, u *users.User, page, perPage int) (*MessagePage, error) {
	return a.paginate(page, perPage,
		func() (int, error) { return a.store.CountInbox(ctx, u.ID) },
		func(limit, offset int) ([]*Message, error) { return a.store.ListInbox(ctx, u.ID, limit, offset) },
	)
}

// PaginatedSentbox pages through messages u sent and has not deleted.
func (a *Aggregator) PaginatedSentbox(ctx context.Context, u *users.User, page, perPage int) (*MessagePage, error) {
	return a.paginate(page, perPage,
		func() (int, error) { return a.store.CountSent(ctx, u.ID) },
		func(limit, offset int) ([]*Message, error) { return a.store.ListSent(ctx, u.ID, limit, offset) },
	)
}

// PaginatedThread pages through the conversation between u and other in
// chronological order. Each side's own deletions are hidden only from that
// side.
func (a *Aggregator) PaginatedThread(ctx context.Context, u *users.User, other uuid.UUID, page, perPage int) (*MessagePage, error) {
	return a.paginate(page, perPage,
		func() (int, error) { return a.store.CountThread(ctx, u.ID, other) },
		func(limit, offset int) ([]*Message, error) { return a.store.ListThread(ctx, u.ID, other, limit, offset) },
	)
}

// paginate tolerates the count and the page query disagreeing: the page
// holds whatever the list query returned.
func (a *Aggregator) paginate(page, perPage int, count func() (int, error), list func(limit, offset int) ([]*Message, error)) (*MessagePage, error) {
	total, err := count()
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	p := pagination.Paginate(total, perPage, page)
	msgs, err := list(p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return &MessagePage{Messages: msgs, Page: p}, nil
}

// MarkRead marks every message from sender to u as read.
func (a *Aggregator) MarkRead(ctx context.Context, u *users.User, sender uuid.UUID) (int64, error) {
	n, err := a.store.MarkRead(ctx, u.ID, sender)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	memoFrom(ctx).forget(u.ID)
	return n, nil
}

// Send stores a message from sender to recipient.
func (a *Aggregator) Send(ctx context.Context, sender, recipient *users.User, body string) (*Message, error) {
	problems := &users.ValidationError{}
	if strings.TrimSpace(body) == "" {
		problems.Add("body", "can't be blank")
	}
	if sender.ID == recipient.ID {
		problems.Add("recipient", "can't be yourself")
	}
	if err := problems.Err(); err != nil {
		return nil, err
	}
	if sender.Banned {
		return nil, users.ErrForbidden
	}

	m := &Message{SenderID: sender.ID, RecipientID: recipient.ID, Body: body}
	if err := a.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	memoFrom(ctx).forget(recipient.ID)
	a.logger.Debug("message sent",
		zap.String("message_id", m.ID.String()),
		zap.String("sender_id", sender.ID.String()),
	)
	return m, nil
}

// DeleteForViewer hides a message from viewer only. Viewers that are
// neither party get ErrNotFound.
func (a *Aggregator) DeleteForViewer(ctx context.Context, viewer *users.User, messageID uuid.UUID) error {
	m, err := a.store.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	switch viewer.ID {
	case m.SenderID:
		return a.store.MarkDeleted(ctx, m.ID, true)
	case m.RecipientID:
		if err := a.store.MarkDeleted(ctx, m.ID, false); err != nil {
			return err
		}
		memoFrom(ctx).forget(viewer.ID)
		return nil
	}
	return ErrNotFound
}
