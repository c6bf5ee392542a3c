package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/api"
	"github.com/jmerrifield20/forumcore/internal/conversations"
	"github.com/jmerrifield20/forumcore/internal/pagination"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubConversations keeps messages in a slice and answers with the same
// visibility rules as the aggregator.
type stubConversations struct {
	msgs       []*conversations.Message
	lastPage   int
	lastPer    int
	unreadHits int
}

func (s *stubConversations) PaginatedPartners(_ context.Context, u *users.User, page, perPage int) (*conversations.PartnerPage, error) {
	s.lastPage, s.lastPer = page, perPage
	return &conversations.PartnerPage{Partners: []conversations.Partner{}, Page: pagination.Paginate(0, perPage, page)}, nil
}

func (s *stubConversations) box(keep func(m *conversations.Message) bool, page, perPage int) *conversations.MessagePage {
	out := []*conversations.Message{}
	for _, m := range s.msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	return &conversations.MessagePage{Messages: out, Page: pagination.Paginate(len(out), perPage, page)}
}

func (s *stubConversations) PaginatedInbox(_ context.Context, u *users.User, page, perPage int) (*conversations.MessagePage, error) {
	return s.box(func(m *conversations.Message) bool { return m.RecipientID == u.ID && !m.Deleted }, page, perPage), nil
}

func (s *stubConversations) PaginatedSentbox(_ context.Context, u *users.User, page, perPage int) (*conversations.MessagePage, error) {
	return s.box(func(m *conversations.Message) bool { return m.SenderID == u.ID && !m.DeletedBySender }, page, perPage), nil
}

func (s *stubConversations) PaginatedThread(_ context.Context, u *users.User, other uuid.UUID, page, perPage int) (*conversations.MessagePage, error) {
	return s.box(func(m *conversations.Message) bool {
		return (m.SenderID == u.ID && m.RecipientID == other && !m.DeletedBySender) ||
			(m.SenderID == other && m.RecipientID == u.ID && !m.Deleted)
	}, page, perPage), nil
}

func (s *stubConversations) MessageCount(_ context.Context, u *users.User, other uuid.UUID) (int, error) {
	n := 0
	for _, m := range s.msgs {
		if (m.SenderID == u.ID && m.RecipientID == other) || (m.SenderID == other && m.RecipientID == u.ID) {
			n++
		}
	}
	return n, nil
}

func (s *stubConversations) UnreadCountFrom(_ context.Context, u *users.User, sender uuid.UUID) (int, error) {
	n := 0
	for _, m := range s.msgs {
		if m.SenderID == sender && m.RecipientID == u.ID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *stubConversations) UnreadTotal(_ context.Context, u *users.User) (int, error) {
	s.unreadHits++
	n := 0
	for _, m := range s.msgs {
		if m.RecipientID == u.ID && !m.Read && !m.Deleted {
			n++
		}
	}
	return n, nil
}

func (s *stubConversations) MarkRead(_ context.Context, u *users.User, sender uuid.UUID) (int64, error) {
	var n int64
	for _, m := range s.msgs {
		if m.SenderID == sender && m.RecipientID == u.ID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *stubConversations) Send(_ context.Context, sender, recipient *users.User, body string) (*conversations.Message, error) {
	if body == "" {
		verr := &users.ValidationError{}
		verr.Add("body", "can't be blank")
		return nil, verr
	}
	m := &conversations.Message{ID: uuid.New(), SenderID: sender.ID, RecipientID: recipient.ID, Body: body, CreatedAt: time.Now()}
	s.msgs = append(s.msgs, m)
	return m, nil
}

func (s *stubConversations) DeleteForViewer(_ context.Context, viewer *users.User, id uuid.UUID) error {
	for _, m := range s.msgs {
		if m.ID != id {
			continue
		}
		switch viewer.ID {
		case m.SenderID:
			m.DeletedBySender = true
			return nil
		case m.RecipientID:
			m.Deleted = true
			return nil
		}
	}
	return conversations.ErrNotFound
}

func setupConversations(t *testing.T, us ...*users.User) (http.Handler, *stubConversations, *session.Issuer) {
	t.Helper()
	iss := newIssuer(t)
	dir := newDirectory(us...)
	svc := &stubConversations{}
	r := newEngine()
	api.NewConversationHandler(svc, dir, session.RequireUser(iss, dir), zap.NewNop()).Register(r.Group("/api/v1"))
	return r, svc, iss
}

func TestSendAndRead(t *testing.T) {
	alice, bob := member("alice"), member("bob")
	r, svc, iss := setupConversations(t, alice, bob)
	aliceTok, bobTok := tokenFor(t, iss, alice), tokenFor(t, iss, bob)

	for _, body := range []string{"hi", "are you there?"} {
		w := do(r, http.MethodPost, "/api/v1/messages", aliceTok, map[string]string{"recipient_id": bob.ID.String(), "body": body})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	require.Len(t, svc.msgs, 2)

	w := do(r, http.MethodGet, "/api/v1/messages/unread", bobTok, nil)
	assert.Equal(t, float64(2), decode(t, w)["unread"])

	w = do(r, http.MethodGet, "/api/v1/conversations/"+alice.ID.String(), bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["message_count"])
	assert.Equal(t, float64(2), body["unread"])

	w = do(r, http.MethodPost, "/api/v1/conversations/"+alice.ID.String()+"/read", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(2), body["marked"])
	assert.Equal(t, float64(0), body["unread"])
}

func TestSend_errors(t *testing.T) {
	alice := member("alice")
	r, _, iss := setupConversations(t, alice)
	tok := tokenFor(t, iss, alice)

	w := do(r, http.MethodPost, "/api/v1/messages", tok, map[string]string{"recipient_id": uuid.NewString(), "body": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/v1/messages", tok, map[string]string{"recipient_id": "not-a-uuid", "body": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteForViewer_isAsymmetric(t *testing.T) {
	alice, bob, eve := member("alice"), member("bob"), member("eve")
	r, svc, iss := setupConversations(t, alice, bob, eve)
	m := &conversations.Message{ID: uuid.New(), SenderID: alice.ID, RecipientID: bob.ID, Body: "x"}
	svc.msgs = append(svc.msgs, m)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/v1/messages/"+m.ID.String(), tokenFor(t, iss, eve), nil).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/v1/messages/"+m.ID.String(), tokenFor(t, iss, bob), nil).Code)

	inbox := decode(t, do(r, http.MethodGet, "/api/v1/messages/inbox", tokenFor(t, iss, bob), nil))
	assert.Empty(t, inbox["messages"])
	sent := decode(t, do(r, http.MethodGet, "/api/v1/messages/sent", tokenFor(t, iss, alice), nil))
	assert.Len(t, sent["messages"], 1)
}

func TestListPartners_pageQuery(t *testing.T) {
	alice := member("alice")
	r, svc, iss := setupConversations(t, alice)

	w := do(r, http.MethodGet, "/api/v1/conversations?page=3&per_page=10", tokenFor(t, iss, alice), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, svc.lastPage)
	assert.Equal(t, 10, svc.lastPer)

	w = do(r, http.MethodGet, "/api/v1/conversations?page=oops", tokenFor(t, iss, alice), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, svc.lastPage)
	assert.Equal(t, pagination.DefaultPerPage, svc.lastPer)
}

func TestThread_badID(t *testing.T) {
	alice := member("alice")
	r, _, iss := setupConversations(t, alice)
	w := do(r, http.MethodGet, "/api/v1/conversations/nobody", tokenFor(t, iss, alice), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
