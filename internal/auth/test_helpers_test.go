package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
	_ "github.com/nerrad567/tierlist-core/migrations"
)

// testDB creates a temporary SQLite database with every migration applied.
// The database is closed when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return db.DB
}

// testPasswordHash caches one Argon2id hash of "test-password"; hashing is slow.
var testPasswordHash = sync.OnceValues(func() (string, error) {
	return HashPassword("test-password")
})

// seedTestUser inserts a user with password "test-password" and returns it.
func seedTestUser(t *testing.T, db *sql.DB, username string, role Role) *User {
	t.Helper()

	hash, err := testPasswordHash()
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

// testSecret is a 32-byte signing key used across tests.
var testSecret = []byte("test-secret-key-at-least-32-bytes!")

// newTestCodec returns a codec with the given TTL.
func newTestCodec(t testing.TB, ttl time.Duration) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testSecret, ttl)
	if err != nil {
		t.Fatalf("NewTokenCodec() error = %v", err)
	}
	return codec
}

// memUsers is an in-memory CredentialStore for authenticator tests.
type memUsers struct {
	mu      sync.Mutex
	users   map[string]*User
	updates int
	err     error
}

func newMemUsers(users ...*User) *memUsers {
	m := &memUsers{users: make(map[string]*User)}
	for _, u := range users {
		m.users[u.Username] = u
	}
	return m
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.PasswordHash = hash
			m.updates++
			return nil
		}
	}
	return ErrUserNotFound
}

func (m *memUsers) set(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Username] = u
}

func (m *memUsers) remove(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, username)
}

// countingRecorder records events for assertions.
type countingRecorder struct {
	mu       sync.Mutex
	logins   map[string]int
	failures map[string]int
	denials  map[string]int
	revoked  int
	swept    int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		logins:   make(map[string]int),
		failures: make(map[string]int),
		denials:  make(map[string]int),
	}
}

func (c *countingRecorder) LoginAttempt(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logins[outcome]++
}

func (c *countingRecorder) AuthFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[reason]++
}

func (c *countingRecorder) PolicyDenial(_ Action, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denials[reason]++
}

func (c *countingRecorder) TokenRevoked(int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked++
}

func (c *countingRecorder) RevocationsSwept(removed, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.swept += removed
}
