package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningKeyBytes is the size of a generated signing key and the minimum
// length of a configured one.
const SigningKeyBytes = 32

// DefaultTokenTTL is the lifetime of an issued token when none is configured.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the payload of a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Roles []Role `json:"roles"`

	// UserID is the account ID the token was issued to. Unlike the
	// subject it is never reused.
	UserID string `json:"uid,omitempty"`
}

// RoleSet returns the claimed roles as a set.
func (c *Claims) RoleSet() RoleSet {
	return NewRoleSet(c.Roles...)
}

// TokenCodec issues and verifies HS256 bearer tokens.
// It is safe for concurrent use.
type TokenCodec struct {
	key []byte
	ttl time.Duration
}

// NewTokenCodec creates a codec. The key must be non-empty and ttl positive.
func NewTokenCodec(key []byte, ttl time.Duration) (*TokenCodec, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be positive, got %s", ttl)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenCodec{key: k, ttl: ttl}, nil
}

// GenerateSigningKey returns SigningKeyBytes of random key material.
// Tokens signed with it do not survive a restart.
func GenerateSigningKey() ([]byte, error) {
	key := make([]byte, SigningKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return key, nil
}

// TTL returns the configured token lifetime.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for subject with exp = now + TTL. Each token carries a
// random jti, so two tokens issued in the same second still differ.
func (c *TokenCodec) Issue(subject string, roles RoleSet, now time.Time) (string, error) {
	return c.issue(subject, "", roles, now)
}

// IssueForUser signs a token for an account, binding it to the account ID as
// well as the username.
func (c *TokenCodec) IssueForUser(user *User, now time.Time) (string, error) {
	if user.ID == "" {
		return "", errors.New("issuing token: empty user ID")
	}
	return c.issue(user.Username, user.ID, RolesOf(user), now)
}

func (c *TokenCodec) issue(subject, userID string, roles RoleSet, now time.Time) (string, error) {
	if subject == "" {
		return "", errors.New("issuing token: empty subject")
	}
	if roles.IsEmpty() {
		return "", errors.New("issuing token: empty role set")
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
		Roles:  roles.Roles(),
		UserID: userID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and structure of a token and returns its
// claims. Expiry is deliberately not checked here; use IsExpired.
// Every failure wraps ErrTokenInvalid.
func (c *TokenCodec) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrTokenInvalid)
	}
	if claims.IssuedAt != nil && !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, fmt.Errorf("%w: expiry not after issue time", ErrTokenInvalid)
	}
	if len(claims.Roles) == 0 {
		return nil, fmt.Errorf("%w: missing roles", ErrTokenInvalid)
	}
	for _, r := range claims.Roles {
		if _, err := ParseRole(string(r)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
	}

	return claims, nil
}

// IsExpired reports whether exp <= now.
func (c *TokenCodec) IsExpired(claims *Claims, now time.Time) bool {
	return !now.Before(claims.ExpiresAt.Time)
}

// Expiry decodes a token and returns its expiry time.
func (c *TokenCodec) Expiry(tokenString string) (time.Time, error) {
	claims, err := c.Decode(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}
