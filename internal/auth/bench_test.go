package auth

import (
	"context"
	"testing"
	"time"
)

// ─── Password hashing (Argon2id — intentionally slow) ───────────────

func BenchmarkHashPassword(b *testing.B) {
	for b.Loop() {
		HashPassword("correct-horse-battery-staple") //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		b.Fatalf("HashPassword: %v", err)
	}

	for b.Loop() {
		VerifyPassword("correct-horse-battery-staple", hash) //nolint:errcheck // benchmark
	}
}

// ─── Tokens (per-request hot path) ──────────────────────────────────

func BenchmarkIssue(b *testing.B) {
	codec := newTestCodec(b, time.Hour)
	roles := NewRoleSet(RoleUser, RoleAdmin)
	now := time.Now()

	for b.Loop() {
		codec.Issue("bench", roles, now) //nolint:errcheck // benchmark
	}
}

func BenchmarkDecode(b *testing.B) {
	codec := newTestCodec(b, time.Hour)
	token, err := codec.Issue("bench", NewRoleSet(RoleUser), time.Now())
	if err != nil {
		b.Fatalf("Issue: %v", err)
	}

	for b.Loop() {
		codec.Decode(token) //nolint:errcheck // benchmark
	}
}

func BenchmarkAuthenticate(b *testing.B) {
	codec := newTestCodec(b, time.Hour)
	store := NewRevocationStore(codec, nil)
	for range 1000 {
		tok, _ := codec.Issue("other", NewRoleSet(RoleUser), time.Now()) //nolint:errcheck // benchmark setup
		store.Add(tok)
	}
	a, err := NewAuthenticator(AuthenticatorDeps{Codec: codec, Revocations: store, Users: newMemUsers()})
	if err != nil {
		b.Fatalf("NewAuthenticator: %v", err)
	}
	now := time.Now()
	token, err := codec.Issue("bench", NewRoleSet(RoleUser), now)
	if err != nil {
		b.Fatalf("Issue: %v", err)
	}
	ctx := context.Background()

	for b.Loop() {
		a.Authenticate(ctx, token, now) //nolint:errcheck // benchmark
	}
}

// ─── Policy ─────────────────────────────────────────────────────────

func BenchmarkAuthorize(b *testing.B) {
	pol := NewPolicy(nil)
	p := &Principal{Subject: "alice", Roles: NewRoleSet(RoleUser)}
	res := Resource{Owner: "bob", Public: true}

	for b.Loop() {
		pol.Authorize(p, ActionReadTier, res) //nolint:errcheck // benchmark
	}
}
