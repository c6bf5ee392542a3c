//go:build integration

// Package integration_test runs the account services against a migrated
// PostgreSQL database. Set DATABASE_URL and run with -tags integration.
package integration_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/conversations"
	"github.com/jmerrifield20/forumcore/internal/counters"
	"github.com/jmerrifield20/forumcore/internal/invites"
	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stack struct {
	db         *pgxpool.Pool
	audit      *auditlog.PostgresLog
	repo       *users.UserRepository
	users      *users.UserService
	ledger     *invites.Ledger
	aggregator *conversations.Aggregator
	reconciler *counters.Reconciler
}

func setupIntegration(t *testing.T) *stack {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "connect to postgres")
	require.NoError(t, db.Ping(ctx), "ping postgres")

	// Clean tables for deterministic tests; the genesis audit entry stays.
	for _, q := range []string{
		"DELETE FROM messages",
		"DELETE FROM discussion_relationships",
		"DELETE FROM discussion_views",
		"DELETE FROM posts",
		"DELETE FROM discussions",
		"DELETE FROM invites",
		"DELETE FROM users",
		"DELETE FROM audit_log WHERE idx > 0",
	} {
		_, err := db.Exec(ctx, q)
		require.NoError(t, err, q)
	}

	logger := zap.NewNop()
	creds, err := users.NewCredentialManager(users.AlgorithmBcrypt, 4)
	require.NoError(t, err)

	s := &stack{db: db, audit: auditlog.NewPostgresLog(db, logger), repo: users.NewUserRepository(db)}
	s.users = users.NewUserService(s.repo, creds, users.StaticSignupPolicy(false), logger)
	s.users.SetAuditLog(s.audit)
	s.ledger = invites.NewLedger(invites.NewRepository(db), logger)
	s.ledger.SetAuditLog(s.audit)
	s.users.SetInvitations(s.ledger)
	s.aggregator = conversations.NewAggregator(conversations.NewRepository(db), s.users, logger)
	s.reconciler = counters.NewReconciler(counters.NewRepository(db), logger)
	s.reconciler.SetAuditLog(s.audit)

	t.Cleanup(db.Close)
	return s
}

func (s *stack) signup(t *testing.T, name string) *users.User {
	t.Helper()
	u, err := s.users.Signup(context.Background(), users.SignupInput{
		Username:        name,
		Email:           name + "@example.com",
		Password:        "secret-" + name,
		ConfirmPassword: "secret-" + name,
	})
	require.NoError(t, err, "signup %s", name)
	require.True(t, u.Activated)
	return u
}

func TestIntegration_SignupAuthenticateAndDuplicates(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	alice := s.signup(t, "alice")

	got, err := s.users.Authenticate(ctx, "alice", "secret-alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = s.users.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	dup := &users.User{Username: "alice", Email: "x@example.com", HashedPassword: "sha1$x"}
	assert.ErrorIs(t, s.repo.Create(ctx, dup), users.ErrDuplicateUsername)
}

func TestIntegration_RolesAndDestroy(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	admin := s.signup(t, "root")
	yes := true
	_, err := s.users.SetRoles(ctx, admin, admin.ID, users.RoleChange{UserAdmin: &yes})
	assert.ErrorIs(t, err, users.ErrForbidden, "non-user-admins cannot change roles")

	_, err = s.db.Exec(ctx, "UPDATE users SET user_admin = true WHERE id = $1", admin.ID)
	require.NoError(t, err)
	admin, err = s.users.GetByID(ctx, admin.ID)
	require.NoError(t, err)

	bob := s.signup(t, "bob")
	bob, err = s.users.SetRoles(ctx, admin, bob.ID, users.RoleChange{Trusted: &yes})
	require.NoError(t, err)
	assert.True(t, bob.IsTrusted())

	require.NoError(t, s.users.Destroy(ctx, bob.ID))
	_, err = s.users.GetByID(ctx, bob.ID)
	assert.ErrorIs(t, err, users.ErrNotFound)
}

func TestIntegration_InviteLifecycle(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	carol := s.signup(t, "carol")
	_, err := s.ledger.Issue(ctx, carol, "friend@example.com", "")
	assert.ErrorIs(t, err, invites.ErrNoInvitesAvailable)

	_, err = s.ledger.Grant(ctx, carol, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, carol.AvailableInvites)

	inv, err := s.ledger.Issue(ctx, carol, "friend@example.com", "join us")
	require.NoError(t, err)
	assert.Equal(t, 1, carol.AvailableInvites)

	active, err := s.ledger.ListActive(ctx, carol.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, inv.ID, active[0].ID)

	redeemed, err := s.ledger.Redeem(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, carol.ID, redeemed.UserID)

	left, err := s.ledger.Revoke(ctx, carol, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, left, "quota floors at zero")

	hasActivity, err := s.ledger.HasInviteActivity(ctx, carol)
	require.NoError(t, err)
	assert.True(t, hasActivity)

	s.ledger.SetClock(func() time.Time { return time.Now().Add(invites.DefaultExpiry + time.Hour) })
	n, err := s.ledger.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = s.ledger.Redeem(ctx, inv.Token)
	assert.ErrorIs(t, err, invites.ErrNotFound)
}

func TestIntegration_Conversations(t *testing.T) {
	s := setupIntegration(t)
	ctx := conversations.WithUnreadMemo(context.Background())

	dave := s.signup(t, "dave")
	erin := s.signup(t, "erin")
	fred := s.signup(t, "fred")

	_, err := s.aggregator.Send(ctx, erin, dave, "hi dave")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.aggregator.Send(ctx, dave, fred, "hi fred")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.aggregator.Send(ctx, fred, dave, "hello back")
	require.NoError(t, err)

	partners, err := s.aggregator.Partners(ctx, dave)
	require.NoError(t, err)
	require.Len(t, partners, 2)
	assert.Equal(t, fred.ID, partners[0].User.ID, "most recent partner first")
	assert.Equal(t, erin.ID, partners[1].User.ID)

	unread, err := s.aggregator.UnreadTotal(ctx, dave)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	marked, err := s.aggregator.MarkRead(ctx, dave, erin.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, marked)
	unread, err = s.aggregator.UnreadTotal(ctx, dave)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	count, err := s.aggregator.MessageCount(ctx, dave, fred.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIntegration_CounterReconcile(t *testing.T) {
	s := setupIntegration(t)
	ctx := context.Background()

	gina := s.signup(t, "gina")
	discussionID := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO discussions (id, poster_id, title, created_at) VALUES ($1, $2, 'first', $3)`,
		discussionID, gina.ID, now)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.db.Exec(ctx, `INSERT INTO posts (id, user_id, discussion_id, body, created_at) VALUES ($1, $2, $3, 'x', $4)`,
			uuid.New(), gina.ID, discussionID, now)
		require.NoError(t, err)
	}

	res, err := s.reconciler.Reconcile(ctx, gina.ID)
	require.NoError(t, err)
	assert.True(t, res.Corrected())
	assert.Equal(t, 3, res.PostsDelta)
	assert.Equal(t, 1, res.DiscussionsDelta)

	fresh, err := s.users.GetByID(ctx, gina.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.PostsCount)
	assert.Equal(t, 1, fresh.DiscussionsCount)

	stats, err := s.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Checked)
	assert.Equal(t, 0, stats.Corrected)

	require.NoError(t, s.audit.Verify(ctx))
	entries, err := s.audit.BySubject(ctx, gina.ID.String(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, auditlog.ActionCounterCorrect, entries[0].Action)
}
