package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RoleSource selects where an authenticated principal's roles come from.
type RoleSource string

const (
	// RoleSourceToken trusts the role snapshot in the token. A demoted
	// admin keeps admin rights until their existing tokens expire.
	RoleSourceToken RoleSource = "token"

	// RoleSourceLive re-reads the account on every request. Demotion and
	// deletion take effect immediately at the cost of one lookup per request.
	RoleSourceLive RoleSource = "live"
)

// ParseRoleSource converts a configuration value into a RoleSource.
func ParseRoleSource(s string) (RoleSource, error) {
	switch RoleSource(s) {
	case RoleSourceToken, "":
		return RoleSourceToken, nil
	case RoleSourceLive:
		return RoleSourceLive, nil
	default:
		return "", fmt.Errorf("unknown role source %q", s)
	}
}

// CredentialStore is the subset of UserRepository the Authenticator reads
// and, for hash upgrades, writes.
type CredentialStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// AuthenticatorDeps holds the collaborators of an Authenticator.
type AuthenticatorDeps struct {
	Codec       *TokenCodec
	Revocations *RevocationStore
	Users       CredentialStore
	RoleSource  RoleSource
	Logger      *slog.Logger
	Recorder    Recorder // optional
}

// Authenticator resolves bearer tokens into principals and exchanges
// credentials for tokens.
type Authenticator struct {
	codec       *TokenCodec
	revocations *RevocationStore
	users       CredentialStore
	roleSource  RoleSource
	logger      *slog.Logger
	recorder    Recorder
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(deps AuthenticatorDeps) (*Authenticator, error) {
	if deps.Codec == nil {
		return nil, errors.New("authenticator: codec is required")
	}
	if deps.Revocations == nil {
		return nil, errors.New("authenticator: revocation store is required")
	}
	if deps.Users == nil {
		return nil, errors.New("authenticator: user store is required")
	}
	if deps.RoleSource == "" {
		deps.RoleSource = RoleSourceToken
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}

	return &Authenticator{
		codec:       deps.Codec,
		revocations: deps.Revocations,
		users:       deps.Users,
		roleSource:  deps.RoleSource,
		logger:      deps.Logger,
		recorder:    deps.Recorder,
	}, nil
}

// TTL returns the lifetime of tokens issued by Login.
func (a *Authenticator) TTL() time.Duration {
	return a.codec.TTL()
}

// Authenticate resolves a raw bearer token into a Principal.
//
// Checks run in a fixed order: signature and structure (ErrTokenInvalid),
// then revocation (ErrTokenRevoked), then expiry (ErrTokenExpired). A token
// that is both revoked and expired is therefore always reported as revoked.
// With RoleSourceLive a token whose account no longer exists, or whose
// username now belongs to a different account, fails with ErrUserNotFound.
func (a *Authenticator) Authenticate(ctx context.Context, token string, now time.Time) (*Principal, error) {
	claims, err := a.codec.Decode(token)
	if err != nil {
		a.recorder.AuthFailure(FailureInvalid)
		return nil, err
	}

	if a.revocations.Contains(token) {
		a.recorder.AuthFailure(FailureRevoked)
		return nil, ErrTokenRevoked
	}

	if a.codec.IsExpired(claims, now) {
		a.recorder.AuthFailure(FailureExpired)
		return nil, ErrTokenExpired
	}

	roles := claims.RoleSet()
	if a.roleSource == RoleSourceLive {
		user, err := a.users.GetByUsername(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				a.recorder.AuthFailure(FailureNoUser)
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("resolving live roles: %w", err)
		}
		roles = RolesOf(user)
		if roles.IsEmpty() || (claims.UserID != "" && claims.UserID != user.ID) {
			a.recorder.AuthFailure(FailureNoUser)
			return nil, ErrUserNotFound
		}
	}

	return &Principal{Subject: claims.Subject, UserID: claims.UserID, Roles: roles}, nil
}

// dummyHash is verified against when a username does not exist so that an
// unknown user costs the same as a wrong password.
var dummyHash = sync.OnceValue(func() string {
	h, err := HashPassword("tierlist-timing-equaliser")
	if err != nil {
		return ""
	}
	return h
})

// Login verifies credentials and issues a token.
//
// An unknown username returns ErrUserNotFound and a wrong password returns
// ErrInvalidCredentials. Callers must present both identically to clients.
// A successful login against a legacy bcrypt hash upgrades it to Argon2id.
func (a *Authenticator) Login(ctx context.Context, username, password string, now time.Time) (string, *User, error) {
	user, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			VerifyPassword(password, dummyHash()) //nolint:errcheck // timing equalisation only
			a.recorder.LoginAttempt(LoginUnknownUser)
			return "", nil, ErrUserNotFound
		}
		a.recorder.LoginAttempt(LoginError)
		return "", nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		a.recorder.LoginAttempt(LoginError)
		return "", nil, fmt.Errorf("verifying password for %s: %w", user.ID, err)
	}
	if !ok {
		a.recorder.LoginAttempt(LoginBadCredentials)
		return "", nil, ErrInvalidCredentials
	}

	if NeedsRehash(user.PasswordHash) {
		a.upgradeHash(ctx, user, password)
	}

	token, err := a.codec.IssueForUser(user, now)
	if err != nil {
		a.recorder.LoginAttempt(LoginError)
		return "", nil, fmt.Errorf("issuing token: %w", err)
	}

	a.recorder.LoginAttempt(LoginSucceeded)
	return token, user, nil
}

// upgradeHash replaces a legacy hash. Failure is logged and does not block the login.
func (a *Authenticator) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		err = a.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		a.logger.Warn("password hash upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	a.logger.Info("password hash upgraded to argon2id", "user_id", user.ID)
}

// Logout revokes token. It never fails. Strings that are not tokens signed
// by this server are ignored so that anonymous callers cannot grow the store.
func (a *Authenticator) Logout(token string) {
	if _, err := a.codec.Decode(token); err != nil {
		return
	}
	a.revocations.Add(token)
}
