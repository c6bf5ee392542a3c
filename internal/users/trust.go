package users

// UnlimitedInvites is what EffectiveAvailableInvites reports for accounts
// that bypass the invite quota.
const UnlimitedInvites = 1

// IsTrusted reports access to trusted-only categories.
func (u *User) IsTrusted() bool { return u.Trusted || u.Admin }

// IsUserAdmin reports whether u may manage other accounts.
func (u *User) IsUserAdmin() bool { return u.UserAdmin || u.Admin }

// IsModerator reports moderation rights. Admin implies moderator.
func (u *User) IsModerator() bool { return u.Moderator || u.Admin }

// CanManageInvites reports whether u bypasses the invite quota.
func (u *User) CanManageInvites() bool { return u.IsUserAdmin() }

// EffectiveAvailableInvites is the quota to display and gate on.
func (u *User) EffectiveAvailableInvites() int {
	if u.IsUserAdmin() {
		return UnlimitedInvites
	}
	return u.AvailableInvites
}
