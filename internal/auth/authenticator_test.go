package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type authFixture struct {
	auth   *Authenticator
	codec  *TokenCodec
	store  *RevocationStore
	users  *memUsers
	rec    *countingRecorder
	alice  *User
	carol  *User
	secret string
}

func newAuthFixture(t *testing.T, source RoleSource) *authFixture {
	t.Helper()

	hash, err := testPasswordHash()
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	alice := &User{ID: "usr-alice", Username: "alice", Email: "alice@example.com", PasswordHash: hash, Role: RoleUser}
	carol := &User{ID: "usr-carol", Username: "carol", Email: "carol@example.com", PasswordHash: hash, Role: RoleAdmin}

	codec := newTestCodec(t, time.Hour)
	store := NewRevocationStore(codec, nil)
	users := newMemUsers(alice, carol)
	rec := newCountingRecorder()

	a, err := NewAuthenticator(AuthenticatorDeps{
		Codec:       codec,
		Revocations: store,
		Users:       users,
		RoleSource:  source,
		Recorder:    rec,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}

	return &authFixture{
		auth: a, codec: codec, store: store, users: users, rec: rec,
		alice: alice, carol: carol, secret: "test-password",
	}
}

func TestNewAuthenticator_RequiresDeps(t *testing.T) {
	codec := newTestCodec(t, time.Hour)
	store := NewRevocationStore(codec, nil)
	users := newMemUsers()

	tests := []struct {
		name string
		deps AuthenticatorDeps
	}{
		{"no codec", AuthenticatorDeps{Revocations: store, Users: users}},
		{"no store", AuthenticatorDeps{Codec: codec, Users: users}},
		{"no users", AuthenticatorDeps{Codec: codec, Revocations: store}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAuthenticator(tt.deps); err == nil {
				t.Error("NewAuthenticator() should fail")
			}
		})
	}
}

func TestParseRoleSource(t *testing.T) {
	tests := []struct {
		in      string
		want    RoleSource
		wantErr bool
	}{
		{"", RoleSourceToken, false},
		{"token", RoleSourceToken, false},
		{"live", RoleSourceLive, false},
		{"LIVE", "", true},
		{"db", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRoleSource(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRoleSource(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseRoleSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)
	now := time.Now()

	token, user, err := f.auth.Login(context.Background(), "alice", f.secret, now)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != f.alice.ID {
		t.Errorf("user = %s, want %s", user.ID, f.alice.ID)
	}

	claims, err := f.codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("sub = %q, want alice", claims.Subject)
	}
	if claims.UserID != f.alice.ID {
		t.Errorf("uid = %q, want %s", claims.UserID, f.alice.ID)
	}
	if claims.RoleSet() != NewRoleSet(RoleUser) {
		t.Errorf("roles = %v, want [USER]", claims.Roles)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(time.Hour).Truncate(time.Second)) {
		t.Errorf("exp = %v, want now+TTL", claims.ExpiresAt.Time)
	}
	if f.rec.logins[LoginSucceeded] != 1 {
		t.Errorf("success logins = %d, want 1", f.rec.logins[LoginSucceeded])
	}
}

func TestLogin_AdminGetsBothRoles(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)

	token, _, err := f.auth.Login(context.Background(), "carol", f.secret, time.Now())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	claims, err := f.codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if claims.RoleSet() != NewRoleSet(RoleUser, RoleAdmin) {
		t.Errorf("roles = %v, want [USER ADMIN]", claims.Roles)
	}
}

func TestLogin_Failures(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)
	ctx := context.Background()

	_, _, err := f.auth.Login(ctx, "alice", "wrong-password", time.Now())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: error = %v, want ErrInvalidCredentials", err)
	}

	_, _, err = f.auth.Login(ctx, "nobody", f.secret, time.Now())
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown user: error = %v, want ErrUserNotFound", err)
	}

	if f.rec.logins[LoginBadCredentials] != 1 || f.rec.logins[LoginUnknownUser] != 1 {
		t.Errorf("login outcomes = %v", f.rec.logins)
	}
}

func TestLogin_StoreError(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)
	f.users.err = errors.New("disk on fire")

	_, _, err := f.auth.Login(context.Background(), "alice", f.secret, time.Now())
	if err == nil || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want wrapped store error", err)
	}
	if f.rec.logins[LoginError] != 1 {
		t.Errorf("error logins = %d, want 1", f.rec.logins[LoginError])
	}
}

func TestLogin_UpgradesBcryptHash(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	f.users.set(&User{ID: "usr-dave", Username: "dave", Email: "dave@example.com", PasswordHash: string(legacy), Role: RoleUser})

	if _, _, err := f.auth.Login(context.Background(), "dave", "legacy-secret", time.Now()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if f.users.updates != 1 {
		t.Fatalf("UpdatePassword calls = %d, want 1", f.users.updates)
	}

	stored, err := f.users.GetByUsername(context.Background(), "dave")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if NeedsRehash(stored.PasswordHash) {
		t.Error("stored hash should now be argon2id")
	}

	// The upgraded hash still accepts the same password.
	if _, _, err := f.auth.Login(context.Background(), "dave", "legacy-secret", time.Now()); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if f.users.updates != 1 {
		t.Errorf("UpdatePassword calls = %d, want 1 after second login", f.users.updates)
	}
}

// Alice logs in, her token authenticates, she logs out, and the same token
// is then rejected as revoked.
func TestAuthenticate_LoginLogoutLifecycle(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)
	ctx := context.Background()
	now := time.Now()

	token, _, err := f.auth.Login(ctx, "alice", f.secret, now)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	p, err := f.auth.Authenticate(ctx, token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.Subject != "alice" || p.IsAdmin() {
		t.Errorf("principal = %+v, want non-admin alice", p)
	}

	f.auth.Logout(token)

	if _, err := f.auth.Authenticate(ctx, token, now.Add(2*time.Minute)); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("after logout: error = %v, want ErrTokenRevoked", err)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)
	now := time.Now()

	token, err := f.codec.Issue("alice", NewRoleSet(RoleUser), now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := f.auth.Authenticate(context.Background(), token, now.Add(time.Hour+time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
	if f.rec.failures[FailureExpired] != 1 {
		t.Errorf("expired failures = %d, want 1", f.rec.failures[FailureExpired])
	}
}

func TestAuthenticate_RevokedWinsOverExpired(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)
	now := time.Now()

	token, err := f.codec.Issue("alice", NewRoleSet(RoleUser), now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	f.auth.Logout(token)

	if _, err := f.auth.Authenticate(context.Background(), token, now.Add(2*time.Hour)); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("error = %v, want ErrTokenRevoked", err)
	}
}

func TestAuthenticate_Invalid(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)

	if _, err := f.auth.Authenticate(context.Background(), "garbage", time.Now()); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
	if f.rec.failures[FailureInvalid] != 1 {
		t.Errorf("invalid failures = %d, want 1", f.rec.failures[FailureInvalid])
	}
}

// With token-sourced roles a demoted admin keeps admin rights until expiry;
// with live roles the demotion applies on the next request.
func TestAuthenticate_RoleSource(t *testing.T) {
	tests := []struct {
		source    RoleSource
		wantAdmin bool
	}{
		{RoleSourceToken, true},
		{RoleSourceLive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			f := newAuthFixture(t, tt.source)
			ctx := context.Background()
			now := time.Now()

			token, _, err := f.auth.Login(ctx, "carol", f.secret, now)
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			demoted := *f.carol
			demoted.Role = RoleUser
			f.users.set(&demoted)

			p, err := f.auth.Authenticate(ctx, token, now)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if p.IsAdmin() != tt.wantAdmin {
				t.Errorf("IsAdmin() = %v, want %v", p.IsAdmin(), tt.wantAdmin)
			}
		})
	}
}

func TestAuthenticate_LiveDeletedUser(t *testing.T) {
	f := newAuthFixture(t, RoleSourceLive)
	ctx := context.Background()
	now := time.Now()

	token, _, err := f.auth.Login(ctx, "alice", f.secret, now)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	f.users.remove("alice")

	if _, err := f.auth.Authenticate(ctx, token, now); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
	if f.rec.failures[FailureNoUser] != 1 {
		t.Errorf("no_user failures = %d, want 1", f.rec.failures[FailureNoUser])
	}
}

func TestAuthenticate_UsernameReusedByAnotherAccount(t *testing.T) {
	tests := []struct {
		source  RoleSource
		wantErr error
	}{
		{RoleSourceToken, nil},
		{RoleSourceLive, ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			f := newAuthFixture(t, tt.source)
			ctx := context.Background()
			now := time.Now()

			token, _, err := f.auth.Login(ctx, "alice", f.secret, now)
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			// alice is renamed and a new account takes the name.
			f.users.remove("alice")
			f.users.set(&User{ID: "usr-newcomer", Username: "alice", Email: "new@example.com", Role: RoleUser})

			p, err := f.auth.Authenticate(ctx, token, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if p.UserID != f.alice.ID {
				t.Errorf("UserID = %q, want %s", p.UserID, f.alice.ID)
			}
			if p.Owns(Resource{Owner: "alice", OwnerID: "usr-newcomer"}) {
				t.Error("stale token owns the newcomer's resource")
			}
		})
	}
}

func TestLogout_IgnoresJunk(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)

	f.auth.Logout("")
	f.auth.Logout("definitely-not-a-jwt")

	if f.store.Len() != 0 {
		t.Errorf("store size = %d, want 0", f.store.Len())
	}
}

func TestLogout_Idempotent(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)

	token, err := f.codec.Issue("alice", NewRoleSet(RoleUser), time.Now())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	f.auth.Logout(token)
	f.auth.Logout(token)

	if f.store.Len() != 1 {
		t.Errorf("store size = %d, want 1", f.store.Len())
	}
}

func TestAuthenticator_TTL(t *testing.T) {
	f := newAuthFixture(t, RoleSourceToken)
	if f.auth.TTL() != time.Hour {
		t.Errorf("TTL() = %v, want 1h", f.auth.TTL())
	}
}
