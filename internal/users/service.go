package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/auditlog"
	"github.com/jmerrifield20/forumcore/internal/metrics"
	"go.uber.org/zap"
)

// Authentication failures. Callers should present ErrInvalidCredentials for
// both unknown usernames and wrong passwords.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBanned             = errors.New("account banned")
	ErrNotActivated       = errors.New("account awaiting activation")
	ErrForbidden          = errors.New("not permitted")
)

// ErrInvalidInvite is wrapped by Invitations implementations for unknown or
// expired invite tokens.
var ErrInvalidInvite = errors.New("invalid invite")

// ActivityGranularity is the minimum spacing between persisted last_active
// updates.
const ActivityGranularity = 10 * time.Minute

var usernamePattern = regexp.MustCompile(`^[\w\d\-\s_#!]+$`)

// SignupPolicy reports whether new accounts need manual approval. When it
// does, signups must explain themselves in Application and start inactive.
type SignupPolicy func(ctx context.Context) bool

// StaticSignupPolicy returns a policy with a fixed answer.
func StaticSignupPolicy(requireApproval bool) SignupPolicy {
	return func(context.Context) bool { return requireApproval }
}

// Invitations resolves invite tokens presented at signup. Consume must be
// atomic and fail with ErrInvalidInvite for a token already consumed.
type Invitations interface {
	InviterFor(ctx context.Context, token string) (uuid.UUID, error)
	Consume(ctx context.Context, token string) error
}

// userRepo is the storage interface consumed by UserService.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByOpenID(ctx context.Context, openidURL string) (*User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, hash string) error
	UpdateRoles(ctx context.Context, u *User) error
	TouchLastActive(ctx context.Context, userID uuid.UUID, at, staleBefore time.Time) (bool, error)
	Delete(ctx context.Context, userID uuid.UUID) error
	GetRelationship(ctx context.Context, userID, discussionID uuid.UUID) (*DiscussionRelationship, error)
}

// UserService implements account lifecycle on top of the credential and
// trust rules.
type UserService struct {
	repo         userRepo
	creds        *CredentialManager
	policy       SignupPolicy
	invites      Invitations
	audit        auditlog.Recorder
	defaultQuota int
	logger       *zap.Logger
}

// NewUserService creates a new UserService. A nil policy never requires
// approval.
func NewUserService(repo userRepo, creds *CredentialManager, policy SignupPolicy, logger *zap.Logger) *UserService {
	if policy == nil {
		policy = StaticSignupPolicy(false)
	}
	return &UserService{repo: repo, creds: creds, policy: policy, logger: logger}
}

// SetInvitations enables invite tokens at signup.
func (s *UserService) SetInvitations(inv Invitations) { s.invites = inv }

// SetAuditLog records role, password and destroy events to rec.
func (s *UserService) SetAuditLog(rec auditlog.Recorder) { s.audit = rec }

// SetDefaultInviteQuota sets available_invites for new accounts.
func (s *UserService) SetDefaultInviteQuota(n int) { s.defaultQuota = n }

// Credentials exposes the service's CredentialManager.
func (s *UserService) Credentials() *CredentialManager { return s.creds }

// Signup validates in and creates a local-credential account. All field
// problems are returned together as a *ValidationError.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*User, error) {
	requireApproval := s.policy(ctx)

	u := &User{
		Username:         strings.TrimSpace(in.Username),
		Email:            strings.TrimSpace(in.Email),
		RealName:         strings.TrimSpace(in.RealName),
		Application:      strings.TrimSpace(in.Application),
		AvailableInvites: s.defaultQuota,
		Activated:        !requireApproval,
	}

	problems := &ValidationError{}
	switch {
	case u.Username == "":
		problems.Add("username", "can't be blank")
	case !usernamePattern.MatchString(u.Username):
		problems.Add("username", "may only contain letters, digits, spaces and -_#!")
	}
	if u.Email == "" {
		problems.Add("email", "can't be blank")
	} else if !strings.Contains(u.Email, "@") {
		problems.Add("email", "is not an email address")
	}
	if requireApproval && u.Application == "" {
		problems.Add("application", "can't be blank")
	}

	if in.OpenIDURL != "" {
		normalized, err := NormalizeOpenIDURL(in.OpenIDURL)
		if err != nil {
			problems.Add("openid_url", "is not a valid URL")
		} else {
			u.OpenIDURL = normalized
		}
	}

	u.Password, u.ConfirmPassword = in.Password, in.ConfirmPassword
	if err := s.creds.AutoGeneratePassword(u); err != nil {
		return nil, err
	}
	if u.Password == "" && u.OpenIDURL == "" {
		problems.Add("password", "can't be blank")
	} else if err := s.creds.SetPassword(u, u.Password, u.ConfirmPassword); err != nil {
		if !problems.Merge(err) {
			return nil, err
		}
	}

	if in.InviteToken != "" {
		if s.invites == nil {
			problems.Add("invite_token", "invites are not enabled")
		} else {
			inviterID, err := s.invites.InviterFor(ctx, in.InviteToken)
			switch {
			case errors.Is(err, ErrInvalidInvite):
				problems.Add("invite_token", "is invalid or expired")
			case err != nil:
				return nil, fmt.Errorf("resolve invite: %w", err)
			default:
				u.InviterID = &inviterID
			}
		}
	}

	if err := problems.Err(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername):
			return nil, fieldError("username", "is already taken")
		case errors.Is(err, ErrDuplicateOpenID):
			return nil, fieldError("openid_url", "is already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	// The consume is the atomic step: a signup that loses the race for a
	// shared token removes the account it just created.
	if in.InviteToken != "" && u.InviterID != nil {
		if err := s.invites.Consume(ctx, in.InviteToken); err != nil {
			if derr := s.repo.Delete(ctx, u.ID); derr != nil {
				s.logger.Error("remove account after failed invite consume",
					zap.String("user_id", u.ID.String()),
					zap.Error(derr),
				)
			}
			if errors.Is(err, ErrInvalidInvite) {
				return nil, fieldError("invite_token", "is invalid or expired")
			}
			return nil, fmt.Errorf("consume invite: %w", err)
		}
	}

	s.logger.Info("user signed up",
		zap.String("user_id", u.ID.String()),
		zap.String("username", u.Username),
		zap.Bool("activated", u.Activated),
	)
	return u, nil
}

// SignupWithIdentityProvider creates an account for an external identity.
// A username is derived from preferred (or the email) and suffixed until
// free; the local password is generated.
func (s *UserService) SignupWithIdentityProvider(ctx context.Context, openidURL, emailAddr, preferred string) (*User, error) {
	username, err := s.generateUniqueUsername(ctx, preferred, emailAddr)
	if err != nil {
		return nil, fmt.Errorf("generate username: %w", err)
	}
	return s.Signup(ctx, SignupInput{
		Username:    username,
		Email:       emailAddr,
		OpenIDURL:   openidURL,
		Application: "signed up with " + openidURL,
	})
}

// GetOrCreateFromIdentityProvider returns the account holding openidURL, or
// signs one up. The bool is true for a newly created account.
func (s *UserService) GetOrCreateFromIdentityProvider(ctx context.Context, openidURL, emailAddr, preferred string) (*User, bool, error) {
	normalized, err := NormalizeOpenIDURL(openidURL)
	if err != nil {
		return nil, false, fieldError("openid_url", "is not a valid URL")
	}

	u, err := s.repo.GetByOpenID(ctx, normalized)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup openid user: %w", err)
	}

	u, err = s.SignupWithIdentityProvider(ctx, normalized, emailAddr, preferred)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// Authenticate checks username and password. Legacy digests are upgraded to
// the configured algorithm on success.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u.HashedPassword == "" || !s.creds.Verify(password, u.HashedPassword) {
		return nil, ErrInvalidCredentials
	}
	if u.Banned {
		return nil, ErrBanned
	}
	if !u.Activated {
		return nil, ErrNotActivated
	}

	if s.creds.NeedsRehash(u.HashedPassword) {
		if digest, err := s.creds.Hash(password); err == nil {
			if err := s.repo.UpdatePassword(ctx, u.ID, digest); err != nil {
				s.logger.Warn("rehash password", zap.String("user_id", u.ID.String()), zap.Error(err))
			} else {
				u.HashedPassword = digest
				s.logger.Info("password digest upgraded",
					zap.String("user_id", u.ID.String()),
					zap.String("algorithm", string(s.creds.Algorithm())),
				)
			}
		}
	}
	return u, nil
}

// ChangePassword sets a new password. It reports true when the stored
// credential changed; sessions issued before that point should be rejected.
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, password, confirmation string) (bool, error) {
	if password == "" {
		return false, fieldError("password", "can't be blank")
	}
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if err := s.creds.SetPassword(u, password, confirmation); err != nil {
		return false, err
	}
	if !u.PasswordChanged {
		return false, nil
	}
	if err := s.repo.UpdatePassword(ctx, u.ID, u.HashedPassword); err != nil {
		return false, fmt.Errorf("store password: %w", err)
	}

	metrics.RecordPasswordChange()
	auditlog.Record(ctx, s.audit, s.logger, u.ID.String(), auditlog.ActionPasswordChange, nil)
	s.logger.Info("password changed", zap.String("user_id", u.ID.String()))
	return true, nil
}

// SetRoles applies change to the user on behalf of actor. Only user-admins
// may change roles and only admins may grant or remove admin.
func (s *UserService) SetRoles(ctx context.Context, actor *User, userID uuid.UUID, change RoleChange) (*User, error) {
	if actor == nil || !actor.IsUserAdmin() {
		return nil, ErrForbidden
	}
	if change.Admin != nil && !actor.Admin {
		return nil, ErrForbidden
	}

	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if change.empty() {
		return u, nil
	}
	change.apply(u)
	if err := s.repo.UpdateRoles(ctx, u); err != nil {
		return nil, err
	}

	ctx = auditlog.WithActor(ctx, actor.ID.String())
	auditlog.Record(ctx, s.audit, s.logger, u.ID.String(), auditlog.ActionRoleChange, change)
	s.logger.Info("roles changed",
		zap.String("user_id", u.ID.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return u, nil
}

// MarkActive records activity at now, writing at most once per
// ActivityGranularity.
func (s *UserService) MarkActive(ctx context.Context, u *User, now time.Time) error {
	if u.LastActive != nil && now.Sub(*u.LastActive) < ActivityGranularity {
		return nil
	}
	if _, err := s.repo.TouchLastActive(ctx, u.ID, now, now.Add(-ActivityGranularity)); err != nil {
		return err
	}
	u.LastActive = &now
	return nil
}

// Destroy deletes the account and the invites, discussion views and
// discussion relationships it owns.
func (s *UserService) Destroy(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}
	auditlog.Record(ctx, s.audit, s.logger, userID.String(), auditlog.ActionUserDestroy, nil)
	s.logger.Info("user destroyed", zap.String("user_id", userID.String()))
	return nil
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByIDs retrieves the existing users among ids.
func (s *UserService) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error) {
	return s.repo.GetByIDs(ctx, ids)
}

// GetByUsername retrieves a user by username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// Relationship returns the user's relationship to a discussion. The bool is
// false when no row exists.
func (s *UserService) Relationship(ctx context.Context, userID, discussionID uuid.UUID) (*DiscussionRelationship, bool, error) {
	rel, err := s.repo.GetRelationship(ctx, userID, discussionID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rel, true, nil
}

// IsFavorite reports whether the user favorited the discussion.
func (s *UserService) IsFavorite(ctx context.Context, userID, discussionID uuid.UUID) (bool, error) {
	rel, ok, err := s.Relationship(ctx, userID, discussionID)
	return ok && rel.Favorite, err
}

// IsFollowing reports whether the user follows the discussion.
func (s *UserService) IsFollowing(ctx context.Context, userID, discussionID uuid.UUID) (bool, error) {
	rel, ok, err := s.Relationship(ctx, userID, discussionID)
	return ok && rel.Following, err
}

// HasParticipated reports whether the user posted in the discussion.
func (s *UserService) HasParticipated(ctx context.Context, userID, discussionID uuid.UUID) (bool, error) {
	rel, ok, err := s.Relationship(ctx, userID, discussionID)
	return ok && rel.Participated, err
}

// generateUniqueUsername sanitises preferred (falling back to the email's
// local part) and appends a numeric suffix if taken.
func (s *UserService) generateUniqueUsername(ctx context.Context, preferred, emailAddr string) (string, error) {
	base := sanitizeUsername(preferred)
	if base == "" {
		local := emailAddr
		if at := strings.Index(emailAddr, "@"); at > 0 {
			local = emailAddr[:at]
		}
		base = sanitizeUsername(local)
	}
	if base == "" {
		base = "user"
	}

	if _, err := s.repo.GetByUsername(ctx, base); errors.Is(err, ErrNotFound) {
		return base, nil
	} else if err != nil {
		return "", err
	}
	for i := 2; i <= 9999; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		_, err := s.repo.GetByUsername(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("could not generate unique username for %q", base)
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_#! ", r) {
			b.WriteRune(r)
		}
	}
	result := strings.TrimSpace(b.String())
	if len(result) > 32 {
		result = strings.TrimSpace(result[:32])
	}
	return result
}
