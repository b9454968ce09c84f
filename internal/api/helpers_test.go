package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/config"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/logging"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tierlist-core/internal/metrics"
	"github.com/nerrad567/tierlist-core/internal/ratelimit"
	"github.com/nerrad567/tierlist-core/internal/tierlist"
	_ "github.com/nerrad567/tierlist-core/migrations"
)

const testPassword = "test-password"

// testEnv is a fully wired Server over a migrated temporary database.
type testEnv struct {
	srv       *Server
	handler   http.Handler
	db        *database.DB
	users     *auth.SQLiteUserRepository
	tiers     *tierlist.SQLiteTierRepository
	items     *tierlist.SQLiteItemRepository
	auditRepo *audit.SQLiteRepository
	events    *recordingPublisher
	metrics   *metrics.Registry
	revoked   *auth.RevocationStore
}

// testServer builds a testEnv. mutate, when given, adjusts Deps before New.
func testServer(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
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

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	codec, err := auth.NewTokenCodec([]byte("test-secret-key-at-least-32-characters-long"), time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	reg := metrics.New(nil)
	revoked := auth.NewRevocationStore(codec, log.Logger)
	revoked.SetRecorder(reg)

	users := auth.NewUserRepository(db.DB)
	authn, err := auth.NewAuthenticator(auth.AuthenticatorDeps{
		Codec:       codec,
		Revocations: revoked,
		Users:       users,
		RoleSource:  auth.RoleSourceToken,
		Logger:      log.Logger,
		Recorder:    reg,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	writer := audit.NewWriter(auditRepo, 64, log.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		writer.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	env := &testEnv{
		db:        db,
		users:     users,
		tiers:     tierlist.NewTierRepository(db.DB),
		items:     tierlist.NewItemRepository(db.DB),
		auditRepo: auditRepo,
		events:    &recordingPublisher{},
		metrics:   reg,
		revoked:   revoked,
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			RateLimit: config.RateLimitConfig{
				Enabled:       true,
				Backend:       ratelimit.BackendMemory,
				LoginAttempts: 100,
				WindowSeconds: 60,
			},
		},
		Logger:    log,
		DB:        db,
		Users:     users,
		Tiers:     env.tiers,
		Items:     env.items,
		Auth:      authn,
		Limiter:   ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}),
		Metrics:   reg,
		Audit:     writer,
		AuditRepo: auditRepo,
		Events:    env.events,
		Version:   "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go srv.hub.Run(hubCtx)
	t.Cleanup(hubCancel)

	env.srv = srv
	env.handler = srv.Handler()
	return env
}

// testPasswordHash caches one Argon2id hash of testPassword; hashing is slow.
var testPasswordHash = sync.OnceValues(func() (string, error) {
	return auth.HashPassword(testPassword)
})

// seedUser stores an account whose password is testPassword.
func (e *testEnv) seedUser(t *testing.T, username string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := testPasswordHash()
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &auth.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
	}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return user
}

// login returns a bearer token for username.
func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: username, Password: testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d, body %s", username, w.Code, w.Body.String())
	}
	var resp loginResponse
	decode(t, w, &resp)
	return resp.AccessToken
}

func (e *testEnv) seedTier(t *testing.T, owner *auth.User, name string, public bool) *tierlist.Tier {
	t.Helper()

	tier := &tierlist.Tier{UserID: owner.ID, Name: name, IsPublic: public}
	if err := e.tiers.Create(context.Background(), tier); err != nil {
		t.Fatalf("creating tier %s: %v", name, err)
	}
	return tier
}

func (e *testEnv) seedItem(t *testing.T, tier *tierlist.Tier, name string, rank int) *tierlist.Item {
	t.Helper()

	item := &tierlist.Item{TierID: tier.ID, Name: name, Rank: rank}
	if err := e.items.Create(context.Background(), item); err != nil {
		t.Fatalf("creating item %s: %v", name, err)
	}
	return item
}

// do sends a request through the router. body is JSON-encoded unless it
// is nil or already a string.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
}

// expectError checks status and error code.
func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	var e Error
	decode(t, w, &e)
	if e.Code != code {
		t.Errorf("code = %q, want %q", e.Code, code)
	}
}

// auditEntries polls until at least n entries match filter or the deadline passes.
func (e *testEnv) auditEntries(t *testing.T, filter audit.Filter, n int) []audit.AuditLog {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := e.auditRepo.List(context.Background(), filter)
		if err != nil {
			t.Fatalf("listing audit logs: %v", err)
		}
		if len(res.Logs) >= n || time.Now().After(deadline) {
			return res.Logs
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []mqtt.Event
	err    error
}

func (p *recordingPublisher) PublishEvent(ev mqtt.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) snapshot() []mqtt.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mqtt.Event(nil), p.events...)
}

// containsKey reports whether the JSON object in w has key at the top level.
func containsKey(t *testing.T, w *httptest.ResponseRecorder, key string) bool {
	t.Helper()
	var m map[string]json.RawMessage
	decode(t, w, &m)
	_, ok := m[key]
	return ok
}
