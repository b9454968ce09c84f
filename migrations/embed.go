// Package migrations embeds the SQL schema migrations into the binary so the
// server can bring a fresh database up to date without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
