package users

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // legacy digests only
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm names a password hashing scheme. Stored digests are
// self-describing so several algorithms can coexist in one table.
type Algorithm string

const (
	// AlgorithmBcrypt is the default for new credentials.
	AlgorithmBcrypt Algorithm = "bcrypt"
	// AlgorithmSHA1 reproduces unsalted legacy digests. Stored as
	// "sha1$<hex>"; bare 40-character hex digests are read as SHA-1 too.
	AlgorithmSHA1 Algorithm = "sha1"
)

const sha1Prefix = "sha1$"

// MaxBcryptPasswordBytes is the longest plaintext bcrypt digests in full.
// Longer passwords are refused rather than silently truncated.
const MaxBcryptPasswordBytes = 72

const (
	generatedAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	generatedMinLength = 7
	generatedMaxLength = 9
)

// CredentialManager hashes and verifies passwords.
type CredentialManager struct {
	algorithm Algorithm
	cost      int
}

// NewCredentialManager returns a manager that hashes new passwords with alg.
// cost applies to bcrypt; zero selects bcrypt.DefaultCost.
func NewCredentialManager(alg Algorithm, cost int) (*CredentialManager, error) {
	switch alg {
	case "":
		alg = AlgorithmBcrypt
	case AlgorithmBcrypt, AlgorithmSHA1:
	default:
		return nil, fmt.Errorf("unknown password algorithm %q", alg)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if alg == AlgorithmBcrypt && (cost < bcrypt.MinCost || cost > bcrypt.MaxCost) {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &CredentialManager{algorithm: alg, cost: cost}, nil
}

// Algorithm returns the algorithm used for new digests.
func (m *CredentialManager) Algorithm() Algorithm { return m.algorithm }

// Hash digests plaintext with the configured algorithm.
func (m *CredentialManager) Hash(plaintext string) (string, error) {
	if m.algorithm == AlgorithmSHA1 {
		return sha1Digest(plaintext), nil
	}
	if len(plaintext) > MaxBcryptPasswordBytes {
		return "", errPasswordTooLong()
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), m.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plaintext matches stored, whichever supported
// algorithm produced stored.
func (m *CredentialManager) Verify(plaintext, stored string) bool {
	switch algorithmOf(stored) {
	case AlgorithmBcrypt:
		if len(plaintext) > MaxBcryptPasswordBytes {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext)) == nil
	case AlgorithmSHA1:
		want := strings.TrimPrefix(stored, sha1Prefix)
		got := strings.TrimPrefix(sha1Digest(plaintext), sha1Prefix)
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(want)), []byte(got)) == 1
	default:
		return false
	}
}

// NeedsRehash reports whether stored was produced by something other than
// the configured algorithm and should be replaced after a successful login.
func (m *CredentialManager) NeedsRehash(stored string) bool {
	if stored == "" {
		return false
	}
	alg := algorithmOf(stored)
	if alg != m.algorithm {
		return true
	}
	if alg == AlgorithmBcrypt {
		cost, err := bcrypt.Cost([]byte(stored))
		return err == nil && cost != m.cost
	}
	return false
}

// SetPassword replaces u's credential with plaintext after checking the
// confirmation. u.PasswordChanged is set only when the stored credential
// actually changes, so callers can invalidate other sessions on that signal.
// An empty plaintext and confirmation leaves u untouched.
func (m *CredentialManager) SetPassword(u *User, plaintext, confirmation string) error {
	u.PasswordChanged = false
	if plaintext == "" && confirmation == "" {
		return nil
	}
	if plaintext != confirmation {
		return fieldError("confirm_password", "doesn't match password")
	}
	if m.algorithm == AlgorithmBcrypt && len(plaintext) > MaxBcryptPasswordBytes {
		return errPasswordTooLong()
	}
	u.Password = plaintext
	u.ConfirmPassword = confirmation

	if u.HashedPassword != "" && m.Verify(plaintext, u.HashedPassword) {
		return nil
	}

	digest, err := m.Hash(plaintext)
	if err != nil {
		return err
	}
	u.HashedPassword = digest
	u.PasswordChanged = true
	return nil
}

func errPasswordTooLong() error {
	return fieldError("password", fmt.Sprintf("is too long (maximum is %d bytes)", MaxBcryptPasswordBytes))
}

// AutoGeneratePassword gives identity-provider accounts a random local
// password so the usual credential validation applies. Accounts without an
// OpenID URL, or with a password already set or submitted, are left alone.
func (m *CredentialManager) AutoGeneratePassword(u *User) error {
	if u.OpenIDURL == "" || u.HashedPassword != "" || u.Password != "" {
		return nil
	}
	pw, err := randomPassword()
	if err != nil {
		return err
	}
	u.Password = pw
	u.ConfirmPassword = pw
	return nil
}

func randomPassword() (string, error) {
	span := big.NewInt(generatedMaxLength - generatedMinLength + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate password length: %w", err)
	}
	length := generatedMinLength + int(n.Int64())

	alphabet := big.NewInt(int64(len(generatedAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i] = generatedAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

func sha1Digest(plaintext string) string {
	sum := sha1.Sum([]byte(plaintext)) //nolint:gosec
	return sha1Prefix + hex.EncodeToString(sum[:])
}

func algorithmOf(stored string) Algorithm {
	switch {
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return AlgorithmBcrypt
	case strings.HasPrefix(stored, sha1Prefix):
		return AlgorithmSHA1
	case len(stored) == 40 && isHex(stored):
		return AlgorithmSHA1
	}
	return ""
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
