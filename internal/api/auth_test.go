package api_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/api"
	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubAuthUsers struct {
	signupUser *users.User
	signupErr  error
	authUser   *users.User
	authErr    error
	marked     int
}

func (s *stubAuthUsers) Signup(_ context.Context, in users.SignupInput) (*users.User, error) {
	if s.signupErr != nil {
		return nil, s.signupErr
	}
	if s.signupUser != nil {
		return s.signupUser, nil
	}
	return &users.User{ID: uuid.New(), Username: in.Username, Email: in.Email, Activated: true}, nil
}

func (s *stubAuthUsers) Authenticate(_ context.Context, _, _ string) (*users.User, error) {
	if s.authErr != nil {
		return nil, s.authErr
	}
	return s.authUser, nil
}

func (s *stubAuthUsers) GetOrCreateFromIdentityProvider(_ context.Context, _, _, _ string) (*users.User, bool, error) {
	return nil, false, users.ErrNotFound
}

func (s *stubAuthUsers) MarkActive(_ context.Context, _ *users.User, _ time.Time) error {
	s.marked++
	return nil
}

func setupAuth(t *testing.T, svc *stubAuthUsers, providers map[string]api.OAuthProviderConfig) http.Handler {
	t.Helper()
	r := newEngine()
	h := api.NewAuthHandler(svc, newIssuer(t), providers, zap.NewNop())
	h.Register(r.Group("/api/v1"))
	return r
}

func TestSignup_activatedGetsToken(t *testing.T) {
	r := setupAuth(t, &stubAuthUsers{}, nil)

	w := do(r, http.MethodPost, "/api/v1/auth/signup", "", users.SignupInput{Username: "alice", Email: "a@x.io", Password: "pw", ConfirmPassword: "pw"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotEmpty(t, body["token"])
}

func TestSignup_pendingApprovalGetsNoToken(t *testing.T) {
	pending := &users.User{ID: uuid.New(), Username: "bob"}
	r := setupAuth(t, &stubAuthUsers{signupUser: pending}, nil)

	w := do(r, http.MethodPost, "/api/v1/auth/signup", "", users.SignupInput{Username: "bob"})
	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.NotContains(t, body, "token")
	assert.Contains(t, body, "note")
}

func TestSignup_validationProblems(t *testing.T) {
	verr := &users.ValidationError{}
	verr.Add("username", "is already taken")
	verr.Add("confirm_password", "doesn't match password")
	r := setupAuth(t, &stubAuthUsers{signupErr: verr}, nil)

	w := do(r, http.MethodPost, "/api/v1/auth/signup", "", users.SignupInput{Username: "alice"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	problems, ok := decode(t, w)["problems"].([]any)
	assert.True(t, ok)
	assert.Len(t, problems, 2)
}

func TestLogin(t *testing.T) {
	u := member("alice")
	tests := []struct {
		name string
		svc  *stubAuthUsers
		want int
	}{
		{"ok", &stubAuthUsers{authUser: u}, http.StatusOK},
		{"bad password", &stubAuthUsers{authErr: users.ErrInvalidCredentials}, http.StatusUnauthorized},
		{"banned", &stubAuthUsers{authErr: users.ErrBanned}, http.StatusForbidden},
		{"pending", &stubAuthUsers{authErr: users.ErrNotActivated}, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := setupAuth(t, tc.svc, nil)
			w := do(r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "pw"})
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			if tc.want == http.StatusOK {
				assert.Equal(t, 1, tc.svc.marked)
			}
		})
	}
}

func TestLogin_missingFields(t *testing.T) {
	r := setupAuth(t, &stubAuthUsers{}, nil)
	w := do(r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthRedirect(t *testing.T) {
	r := setupAuth(t, &stubAuthUsers{}, map[string]api.OAuthProviderConfig{
		"github": {ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/cb"},
		"google": {ClientID: "cid"}, // no secret: disabled
	})

	w := do(r, http.MethodGet, "/api/v1/auth/oauth/github", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://github.com/login/oauth/authorize"), loc)
	assert.Contains(t, loc, "state=")

	w = do(r, http.MethodGet, "/api/v1/auth/oauth/google", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOAuthCallback_rejectsBadState(t *testing.T) {
	r := setupAuth(t, &stubAuthUsers{}, map[string]api.OAuthProviderConfig{
		"github": {ClientID: "cid", ClientSecret: "secret"},
	})
	w := do(r, http.MethodGet, "/api/v1/auth/oauth/github/callback?state=forged&code=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
