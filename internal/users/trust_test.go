package users_test

import (
	"testing"

	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/stretchr/testify/assert"
)

func TestTrustRules(t *testing.T) {
	tests := []struct {
		name                          string
		u                             users.User
		trusted, userAdmin, moderator bool
		effective                     int
	}{
		{"plain", users.User{AvailableInvites: 3}, false, false, false, 3},
		{"trusted", users.User{Trusted: true}, true, false, false, 0},
		{"moderator", users.User{Moderator: true}, false, false, true, 0},
		{"user admin", users.User{UserAdmin: true}, false, true, false, users.UnlimitedInvites},
		{"admin overrides", users.User{Admin: true}, true, true, true, users.UnlimitedInvites},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.u
			assert.Equal(t, tt.trusted, u.IsTrusted())
			assert.Equal(t, tt.userAdmin, u.IsUserAdmin())
			assert.Equal(t, tt.userAdmin, u.CanManageInvites())
			assert.Equal(t, tt.moderator, u.IsModerator())
			assert.Equal(t, tt.effective, u.EffectiveAvailableInvites())
		})
	}
}
