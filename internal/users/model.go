package users

import (
	"time"

	"github.com/google/uuid"
)

// User is a forum account: identity, credentials, role flags, invite quota
// and cached activity counters.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	RealName    string    `json:"realname,omitempty"`
	Application string    `json:"application,omitempty"`

	HashedPassword string `json:"-"`
	OpenIDURL      string `json:"openid_url,omitempty"`

	Admin     bool `json:"admin"`
	Trusted   bool `json:"trusted"`
	Moderator bool `json:"moderator"`
	UserAdmin bool `json:"user_admin"`
	Banned    bool `json:"banned"`
	Activated bool `json:"activated"`

	AvailableInvites int        `json:"available_invites"`
	InviterID        *uuid.UUID `json:"inviter_id,omitempty"`

	// Cached counters. Reconciled against the posts and discussions tables
	// by the counters package; never authoritative.
	PostsCount       int `json:"posts_count"`
	DiscussionsCount int `json:"discussions_count"`

	LastActive *time.Time `json:"last_active,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Transient, never persisted.
	Password        string `json:"-"`
	ConfirmPassword string `json:"-"`
	PasswordChanged bool   `json:"-"`
}

// DiscussionRelationship is a user's standing toward one discussion.
type DiscussionRelationship struct {
	UserID       uuid.UUID `json:"user_id"`
	DiscussionID uuid.UUID `json:"discussion_id"`
	Following    bool      `json:"following"`
	Favorite     bool      `json:"favorite"`
	Participated bool      `json:"participated"`
}

// RoleChange toggles authorization flags. Nil fields are left unchanged.
type RoleChange struct {
	Admin     *bool `json:"admin,omitempty"`
	Trusted   *bool `json:"trusted,omitempty"`
	Moderator *bool `json:"moderator,omitempty"`
	UserAdmin *bool `json:"user_admin,omitempty"`
	Banned    *bool `json:"banned,omitempty"`
	Activated *bool `json:"activated,omitempty"`
}

func (c RoleChange) empty() bool {
	return c.Admin == nil && c.Trusted == nil && c.Moderator == nil &&
		c.UserAdmin == nil && c.Banned == nil && c.Activated == nil
}

func (c RoleChange) apply(u *User) {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&u.Admin, c.Admin)
	set(&u.Trusted, c.Trusted)
	set(&u.Moderator, c.Moderator)
	set(&u.UserAdmin, c.UserAdmin)
	set(&u.Banned, c.Banned)
	set(&u.Activated, c.Activated)
}

// SignupInput carries a signup form.
type SignupInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	RealName        string `json:"realname"`
	Application     string `json:"application"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	OpenIDURL       string `json:"openid_url"`
	InviteToken     string `json:"invite_token"`
}
