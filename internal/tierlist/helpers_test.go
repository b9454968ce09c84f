package tierlist

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
	_ "github.com/nerrad567/tierlist-core/migrations"
)

// testDB creates a migrated temporary database. It is closed when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "tierlist-test.db"),
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

// seedUser inserts a bare user row and returns its ID.
func seedUser(t *testing.T, db *sql.DB, username string) string {
	t.Helper()

	id := "usr-" + username
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, username, email, password_hash, role) VALUES (?, ?, ?, 'x', 'USER')`,
		id, username, username+"@example.com")
	if err != nil {
		t.Fatalf("seeding user %s: %v", username, err)
	}
	return id
}

// seedTier creates a tier for userID.
func seedTier(t *testing.T, repo *SQLiteTierRepository, userID, name string, public bool) *Tier {
	t.Helper()

	tier := &Tier{UserID: userID, Name: name, IsPublic: public}
	if err := repo.Create(context.Background(), tier); err != nil {
		t.Fatalf("creating tier %s: %v", name, err)
	}
	return tier
}

// seedItem creates an item in tierID.
func seedItem(t *testing.T, repo *SQLiteItemRepository, tierID, name string, rank int) *Item {
	t.Helper()

	item := &Item{TierID: tierID, Name: name, Rank: rank}
	if err := repo.Create(context.Background(), item); err != nil {
		t.Fatalf("creating item %s: %v", name, err)
	}
	return item
}

func names[T any](xs []T, name func(T) string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = name(x)
	}
	return out
}

func tierName(t Tier) string { return t.Name }
func itemName(i Item) string { return i.Name }
