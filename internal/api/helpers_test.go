package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/stretchr/testify/require"
)

// ── Shared fixtures ──────────────────────────────────────────────────────

type stubDirectory struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*users.User
}

func newDirectory(us ...*users.User) *stubDirectory {
	d := &stubDirectory{byID: make(map[uuid.UUID]*users.User)}
	for _, u := range us {
		d.byID[u.ID] = u
	}
	return d
}

func (d *stubDirectory) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *stubDirectory) put(u *users.User) {
	d.mu.Lock()
	d.byID[u.ID] = u
	d.mu.Unlock()
}

func newIssuer(t *testing.T) *session.Issuer {
	t.Helper()
	iss, err := session.NewIssuer([]byte("api-test-secret-api-test-secret-!!"), "https://forum.test", time.Hour)
	require.NoError(t, err)
	return iss
}

func member(name string) *users.User {
	return &users.User{ID: uuid.New(), Username: name, HashedPassword: "sha1$" + name, Activated: true}
}

func userAdmin(name string) *users.User {
	u := member(name)
	u.UserAdmin = true
	return u
}

func tokenFor(t *testing.T, iss *session.Issuer, u *users.User) string {
	t.Helper()
	tok, err := iss.Issue(u)
	require.NoError(t, err)
	return tok
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func do(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
