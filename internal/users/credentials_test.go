package users_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jmerrifield20/forumcore/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newCreds(t *testing.T, alg users.Algorithm) *users.CredentialManager {
	t.Helper()
	m, err := users.NewCredentialManager(alg, bcrypt.MinCost)
	require.NoError(t, err)
	return m
}

func TestNewCredentialManager_rejectsUnknownAlgorithm(t *testing.T) {
	_, err := users.NewCredentialManager("md5", 0)
	assert.Error(t, err)
}

func TestHashVerify(t *testing.T) {
	for _, alg := range []users.Algorithm{users.AlgorithmBcrypt, users.AlgorithmSHA1} {
		t.Run(string(alg), func(t *testing.T) {
			m := newCreds(t, alg)
			for _, p := range []string{"secret", "", "pässwörd", "a much longer passphrase with spaces"} {
				digest, err := m.Hash(p)
				require.NoError(t, err)
				assert.True(t, m.Verify(p, digest), "verify(%q, hash(%q))", p, p)
				assert.False(t, m.Verify(p+"x", digest), "verify must fail for a different plaintext")
			}
		})
	}
}

func TestVerify_bcryptDoesNotTruncate(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)
	longest := strings.Repeat("a", users.MaxBcryptPasswordBytes)

	digest, err := m.Hash(longest)
	require.NoError(t, err)
	assert.True(t, m.Verify(longest, digest))
	assert.False(t, m.Verify(longest+"b", digest), "73 bytes sharing a 72-byte prefix must not verify")
	assert.False(t, m.Verify(longest+"XYZ", digest))
}

func TestSetPassword_tooLongIsValidationError(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)
	long := strings.Repeat("b", 80)

	u := &users.User{}
	err := m.SetPassword(u, long, long)
	var ve *users.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.True(t, ve.Has("password"))
	assert.Empty(t, u.HashedPassword)
	assert.False(t, u.PasswordChanged)

	_, err = m.Hash(long)
	assert.True(t, errors.As(err, &ve))

	// A stored 72-byte digest must not make a longer password look unchanged.
	prefix := strings.Repeat("c", users.MaxBcryptPasswordBytes)
	require.NoError(t, m.SetPassword(u, prefix, prefix))
	err = m.SetPassword(u, prefix+"d", prefix+"d")
	assert.True(t, errors.As(err, &ve))
	assert.False(t, u.PasswordChanged)

	sha := newCreds(t, users.AlgorithmSHA1)
	assert.NoError(t, sha.SetPassword(&users.User{}, long, long), "sha1 digests have no length limit")
}

func TestSHA1_isDeterministic(t *testing.T) {
	m := newCreds(t, users.AlgorithmSHA1)
	a, _ := m.Hash("hunter2")
	b, _ := m.Hash("hunter2")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "sha1$"))
}

func TestVerify_bareLegacyDigest(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)
	// sha1("password") as stored by older installs.
	legacy := "5baa61e4c9b93f3f0682250b6cf8331b7ee68fd8"
	assert.True(t, m.Verify("password", legacy))
	assert.False(t, m.Verify("Password", legacy))
	assert.True(t, m.NeedsRehash(legacy))
}

func TestVerify_unknownDigest(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)
	assert.False(t, m.Verify("anything", "not-a-digest"))
	assert.False(t, m.Verify("", ""))
}

func TestSetPassword_mismatch(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)
	u := &users.User{}

	err := m.SetPassword(u, "one", "two")

	var ve *users.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has("confirm_password"))
	assert.Empty(t, u.HashedPassword)
	assert.False(t, u.PasswordChanged)
}

func TestSetPassword_changedSignal(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)
	u := &users.User{}

	require.NoError(t, m.SetPassword(u, "first", "first"))
	assert.True(t, u.PasswordChanged, "initial password is a change")
	first := u.HashedPassword

	require.NoError(t, m.SetPassword(u, "first", "first"))
	assert.False(t, u.PasswordChanged, "same password must not signal a change")
	assert.Equal(t, first, u.HashedPassword)

	require.NoError(t, m.SetPassword(u, "second", "second"))
	assert.True(t, u.PasswordChanged)
	assert.NotEqual(t, first, u.HashedPassword)
	assert.True(t, m.Verify("second", u.HashedPassword))
}

func TestSetPassword_blankIsNoop(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)
	u := &users.User{HashedPassword: "sha1$abc"}
	require.NoError(t, m.SetPassword(u, "", ""))
	assert.Equal(t, "sha1$abc", u.HashedPassword)
	assert.False(t, u.PasswordChanged)
}

func TestAutoGeneratePassword(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		u := &users.User{OpenIDURL: "http://id.example.com/alice"}
		require.NoError(t, m.AutoGeneratePassword(u))

		assert.GreaterOrEqual(t, len(u.Password), 7)
		assert.LessOrEqual(t, len(u.Password), 9)
		assert.Equal(t, u.Password, u.ConfirmPassword)
		for _, r := range u.Password {
			ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			assert.True(t, ok, "unexpected rune %q", r)
		}
		seen[u.Password] = true
	}
	assert.Greater(t, len(seen), 45, "generated passwords should not repeat")
}

func TestAutoGeneratePassword_skips(t *testing.T) {
	m := newCreds(t, users.AlgorithmBcrypt)

	noOpenID := &users.User{}
	require.NoError(t, m.AutoGeneratePassword(noOpenID))
	assert.Empty(t, noOpenID.Password)

	hasPassword := &users.User{OpenIDURL: "http://id.example.com/", HashedPassword: "sha1$x"}
	require.NoError(t, m.AutoGeneratePassword(hasPassword))
	assert.Empty(t, hasPassword.Password)
}

func TestNeedsRehash_bcryptCost(t *testing.T) {
	low := newCreds(t, users.AlgorithmBcrypt)
	digest, err := low.Hash("pw")
	require.NoError(t, err)
	assert.False(t, low.NeedsRehash(digest))

	higher, err := users.NewCredentialManager(users.AlgorithmBcrypt, bcrypt.MinCost+1)
	require.NoError(t, err)
	assert.True(t, higher.NeedsRehash(digest))
}
