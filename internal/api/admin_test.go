package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/api"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/counters"
	"github.com/jmerrifield20/forumcore/internal/session"
	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAdminUsers struct {
	dir       *stubDirectory
	destroyed []uuid.UUID
}

func (s *stubAdminUsers) SetRoles(ctx context.Context, actor *users.User, id uuid.UUID, change users.RoleChange) (*users.User, error) {
	if change.Admin != nil && !actor.Admin {
		return nil, users.ErrForbidden
	}
	u, err := s.dir.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if change.Trusted != nil {
		u.Trusted = *change.Trusted
	}
	return u, nil
}

func (s *stubAdminUsers) Destroy(_ context.Context, id uuid.UUID) error {
	s.destroyed = append(s.destroyed, id)
	return nil
}

type stubReconciler struct {
	err error
}

func (s *stubReconciler) Reconcile(_ context.Context, id uuid.UUID) (counters.Result, error) {
	if s.err != nil {
		return counters.Result{}, s.err
	}
	return counters.Result{
		UserID:     id,
		Cached:     counters.Counts{Posts: 5},
		Actual:     counters.Counts{Posts: 7},
		PostsDelta: 2,
	}, nil
}

func (s *stubReconciler) Sweep(_ context.Context) (counters.SweepStats, error) {
	return counters.SweepStats{Checked: 3, Corrected: 1}, nil
}

type adminFixture struct {
	router http.Handler
	users  *stubAdminUsers
	recon  *stubReconciler
	audit  *auditlog.MemoryLog
	iss    *session.Issuer
}

func setupAdmin(t *testing.T, us ...*users.User) *adminFixture {
	t.Helper()
	dir := newDirectory(us...)
	f := &adminFixture{
		users: &stubAdminUsers{dir: dir},
		recon: &stubReconciler{},
		audit: auditlog.NewMemoryLog(),
		iss:   newIssuer(t),
	}
	r := newEngine()
	api.NewAdminHandler(f.users, f.recon, f.audit, session.RequireUser(f.iss, dir), zap.NewNop()).Register(r.Group("/api/v1"))
	f.router = r
	return f
}

func TestAdmin_requiresUserAdmin(t *testing.T) {
	x := member("x")
	f := setupAdmin(t, x)

	w := do(f.router, http.MethodPost, "/api/v1/admin/users/"+x.ID.String()+"/reconcile", tokenFor(t, f.iss, x), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_reconcile(t *testing.T) {
	x, admin := member("x"), userAdmin("a")
	f := setupAdmin(t, x, admin)
	tok := tokenFor(t, f.iss, admin)

	w := do(f.router, http.MethodPost, "/api/v1/admin/users/"+x.ID.String()+"/reconcile", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["corrected"])
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(2), result["posts_delta"])

	w = do(f.router, http.MethodPost, "/api/v1/admin/reconcile", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["checked"])

	f.recon.err = errors.New("connection refused")
	w = do(f.router, http.MethodPost, "/api/v1/admin/users/"+x.ID.String()+"/reconcile", tok, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdmin_roles(t *testing.T) {
	x, ua := member("x"), userAdmin("ua")
	f := setupAdmin(t, x, ua)
	tok := tokenFor(t, f.iss, ua)

	w := do(f.router, http.MethodPatch, "/api/v1/admin/users/"+x.ID.String()+"/roles", tok, map[string]bool{"trusted": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["trusted"])

	// Only full admins hand out admin.
	w = do(f.router, http.MethodPatch, "/api/v1/admin/users/"+x.ID.String()+"/roles", tok, map[string]bool{"admin": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(f.router, http.MethodPatch, "/api/v1/admin/users/"+uuid.NewString()+"/roles", tok, map[string]bool{"trusted": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_destroy(t *testing.T) {
	x, ua := member("x"), userAdmin("ua")
	f := setupAdmin(t, x, ua)

	w := do(f.router, http.MethodDelete, "/api/v1/admin/users/"+x.ID.String(), tokenFor(t, f.iss, ua), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []uuid.UUID{x.ID}, f.users.destroyed)
}

func TestAdmin_audit(t *testing.T) {
	x, ua := member("x"), userAdmin("ua")
	f := setupAdmin(t, x, ua)
	tok := tokenFor(t, f.iss, ua)
	ctx := context.Background()
	_, err := f.audit.Append(ctx, x.ID.String(), auditlog.ActionInvitesGrant, ua.ID.String(), map[string]int{"granted": 2})
	require.NoError(t, err)
	_, err = f.audit.Append(ctx, x.ID.String(), auditlog.ActionRoleChange, ua.ID.String(), nil)
	require.NoError(t, err)

	w := do(f.router, http.MethodGet, "/api/v1/admin/users/"+x.ID.String()+"/audit", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entries := decode(t, w)["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, auditlog.ActionRoleChange, entries[0].(map[string]any)["action"])

	w = do(f.router, http.MethodGet, "/api/v1/admin/users/"+x.ID.String()+"/audit?limit=0", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(f.router, http.MethodGet, "/api/v1/admin/audit/verify", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["valid"])
	assert.NotEmpty(t, body["head"])
}
