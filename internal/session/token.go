// Package session issues and checks the bearer tokens that authenticate
// forum users, and the short-lived state tokens used by the OAuth flow.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmerrifield20/forumcore/internal/users"
)

const (
	typeUser       = "user"
	typeOAuthState = "oauth-state"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// ErrCredentialChanged is returned for a session issued before the user's
// password last changed.
var ErrCredentialChanged = errors.New("session invalidated by credential change")

// Claims are the JWT claims of a user session. Credential is a fingerprint
// of the stored password digest at issue time; changing the password changes
// the digest and so orphans the session.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Credential string `json:"cred,omitempty"`
	Type       string `json:"type"` // "user" or "oauth-state"
}

// Issuer signs and verifies session tokens with an HMAC secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer. A zero ttl selects DefaultTTL.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Issue creates a session token for u.
func (i *Issuer) Issue(u *users.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		UserID:     u.ID.String(),
		Username:   u.Username,
		Credential: Fingerprint(u.HashedPassword),
		Type:       typeUser,
	}
	return i.sign(claims)
}

// Verify parses a session token and returns its claims.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	claims, err := i.parse(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	if claims.Type != typeUser {
		return nil, fmt.Errorf("not a session token")
	}
	return claims, nil
}

// CheckCredential reports ErrCredentialChanged when claims were issued
// against a different password digest than u holds now.
func CheckCredential(claims *Claims, u *users.User) error {
	if claims.Credential != Fingerprint(u.HashedPassword) {
		return ErrCredentialChanged
	}
	return nil
}

// IssueOAuthState creates a ten-minute state token naming the provider.
func (i *Issuer) IssueOAuthState(provider string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   typeOAuthState,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			ID:        uuid.New().String(),
		},
		UserID: provider,
		Type:   typeOAuthState,
	}
	return i.sign(claims)
}

// VerifyOAuthState validates a state token and returns its provider.
func (i *Issuer) VerifyOAuthState(tokenStr string) (string, error) {
	claims, err := i.parse(tokenStr)
	if err != nil {
		return "", fmt.Errorf("invalid oauth state: %w", err)
	}
	if claims.Type != typeOAuthState {
		return "", fmt.Errorf("not an oauth state token")
	}
	return claims.UserID, nil
}

// Fingerprint shortens a password digest for embedding in a token.
func Fingerprint(digest string) string {
	if digest == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(digest))
	return hex.EncodeToString(sum[:8])
}

func (i *Issuer) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
