package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewTokenCodec_Validation(t *testing.T) {
	if _, err := NewTokenCodec(nil, time.Hour); err == nil {
		t.Error("NewTokenCodec() should reject an empty key")
	}
	if _, err := NewTokenCodec(testSecret, 0); err == nil {
		t.Error("NewTokenCodec() should reject a zero TTL")
	}
	if _, err := NewTokenCodec(testSecret, -time.Second); err == nil {
		t.Error("NewTokenCodec() should reject a negative TTL")
	}
}

func TestGenerateSigningKey(t *testing.T) {
	k1, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey() error = %v", err)
	}
	k2, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey() error = %v", err)
	}
	if len(k1) != SigningKeyBytes {
		t.Errorf("key length = %d, want %d", len(k1), SigningKeyBytes)
	}
	if string(k1) == string(k2) {
		t.Error("two generated keys should differ")
	}
}

func TestIssueDecode_RoundTrip(t *testing.T) {
	codec := newTestCodec(t, DefaultTokenTTL)
	now := time.Now()

	tests := []struct {
		name  string
		roles RoleSet
	}{
		{"user", NewRoleSet(RoleUser)},
		{"admin", NewRoleSet(RoleUser, RoleAdmin)},
		{"admin only", NewRoleSet(RoleAdmin)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := codec.Issue("alice", tt.roles, now)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}

			claims, err := codec.Decode(token)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if claims.Subject != "alice" {
				t.Errorf("Subject = %q, want alice", claims.Subject)
			}
			if claims.RoleSet() != tt.roles {
				t.Errorf("roles = %v, want %v", claims.Roles, tt.roles.Roles())
			}
			if claims.ID == "" {
				t.Error("jti should be set")
			}
			if codec.IsExpired(claims, now) {
				t.Error("freshly issued token should not be expired")
			}
			if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
				t.Error("exp must be after iat")
			}
		})
	}
}

func TestIssue_RejectsEmptySubjectOrRoles(t *testing.T) {
	codec := newTestCodec(t, time.Hour)

	if _, err := codec.Issue("", NewRoleSet(RoleUser), time.Now()); err == nil {
		t.Error("Issue() should reject an empty subject")
	}
	if _, err := codec.Issue("alice", 0, time.Now()); err == nil {
		t.Error("Issue() should reject an empty role set")
	}
}

func TestIssue_SameSecondTokensDiffer(t *testing.T) {
	codec := newTestCodec(t, time.Hour)
	now := time.Now()

	t1, err := codec.Issue("alice", NewRoleSet(RoleUser), now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	t2, err := codec.Issue("alice", NewRoleSet(RoleUser), now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if t1 == t2 {
		t.Error("tokens issued in the same instant should differ by jti")
	}
}

func TestDecode_TamperedTokenRejected(t *testing.T) {
	codec := newTestCodec(t, time.Hour)
	token, err := codec.Issue("alice", NewRoleSet(RoleUser), time.Now())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Flip every byte of the payload segment in turn.
	first := strings.IndexByte(token, '.')
	second := strings.LastIndexByte(token, '.')
	for i := first + 1; i < second; i++ {
		b := []byte(token)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		if _, err := codec.Decode(string(b)); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("byte %d mutated: Decode() error = %v, want ErrTokenInvalid", i, err)
		}
	}
}

func TestDecode_Invalid(t *testing.T) {
	codec := newTestCodec(t, time.Hour)
	other, err := NewTokenCodec([]byte("another-secret-key-of-32-bytes!!"), time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec() error = %v", err)
	}
	foreign, err := other.Issue("alice", NewRoleSet(RoleUser), time.Now())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return s
	}
	now := time.Now()
	base := jwt.RegisteredClaims{
		Subject:   "alice",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong key", foreign},
		{"alg none", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, &Claims{RegisteredClaims: base, Roles: []Role{RoleAdmin}})},
		{"HS512", sign(t, jwt.SigningMethodHS512, testSecret, &Claims{RegisteredClaims: base, Roles: []Role{RoleUser}})},
		{"missing subject", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: base.ExpiresAt},
			Roles:            []Role{RoleUser},
		})},
		{"missing expiry", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
			Roles:            []Role{RoleUser},
		})},
		{"expiry before issue", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "alice",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			},
			Roles: []Role{RoleUser},
		})},
		{"no roles", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{RegisteredClaims: base})},
		{"unknown role", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{RegisteredClaims: base, Roles: []Role{"ROOT"}})},
		{"lowercase role", sign(t, jwt.SigningMethodHS256, testSecret, &Claims{RegisteredClaims: base, Roles: []Role{"admin"}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Decode() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestDecode_DoesNotCheckExpiry(t *testing.T) {
	codec := newTestCodec(t, time.Second)
	issued := time.Now().Add(-time.Hour)

	token, err := codec.Issue("alice", NewRoleSet(RoleUser), issued)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode() of an expired token error = %v, want nil", err)
	}
	if !codec.IsExpired(claims, time.Now()) {
		t.Error("IsExpired() = false for a token that expired an hour ago")
	}
}

func TestIsExpired_Boundary(t *testing.T) {
	codec := newTestCodec(t, time.Minute)
	token, err := codec.Issue("alice", NewRoleSet(RoleUser), time.Now())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	exp := claims.ExpiresAt.Time

	for _, eps := range []time.Duration{time.Nanosecond, time.Millisecond, time.Second, time.Hour} {
		if codec.IsExpired(claims, exp.Add(-eps)) {
			t.Errorf("IsExpired(exp-%v) = true, want false", eps)
		}
		if !codec.IsExpired(claims, exp.Add(eps)) {
			t.Errorf("IsExpired(exp+%v) = false, want true", eps)
		}
	}
	if !codec.IsExpired(claims, exp) {
		t.Error("IsExpired(exp) = false, want true (exp <= now)")
	}
}

func TestExpiry(t *testing.T) {
	codec := newTestCodec(t, 2*time.Hour)
	now := time.Unix(1_800_000_000, 0)

	token, err := codec.Issue("alice", NewRoleSet(RoleUser), now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	exp, err := codec.Expiry(token)
	if err != nil {
		t.Fatalf("Expiry() error = %v", err)
	}
	if !exp.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("Expiry() = %v, want %v", exp, now.Add(2*time.Hour))
	}

	if _, err := codec.Expiry("junk"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Expiry(junk) error = %v, want ErrTokenInvalid", err)
	}
}

func TestIssueForUser(t *testing.T) {
	codec := newTestCodec(t, time.Hour)

	token, err := codec.IssueForUser(&User{ID: "usr-1", Username: "alice", Role: RoleAdmin}, time.Now())
	if err != nil {
		t.Fatalf("IssueForUser() error = %v", err)
	}
	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if claims.Subject != "alice" || claims.UserID != "usr-1" {
		t.Errorf("sub/uid = %q/%q, want alice/usr-1", claims.Subject, claims.UserID)
	}
	if claims.RoleSet() != NewRoleSet(RoleUser, RoleAdmin) {
		t.Errorf("roles = %v", claims.Roles)
	}

	if _, err := codec.IssueForUser(&User{Username: "alice", Role: RoleUser}, time.Now()); err == nil {
		t.Error("IssueForUser() without an ID should fail")
	}
}

func TestClaims_PayloadShape(t *testing.T) {
	codec := newTestCodec(t, time.Hour)
	token, err := codec.Issue("alice", NewRoleSet(RoleUser, RoleAdmin), time.Now())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	for _, want := range []string{`"sub":"alice"`, `"roles":["USER","ADMIN"]`, `"iat":`, `"exp":`, `"jti":`} {
		if !strings.Contains(string(payload), want) {
			t.Errorf("payload %s missing %s", payload, want)
		}
	}
}
