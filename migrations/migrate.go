// Package migrations applies the embedded goose migrations at boot.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *sql
var embedMigrations embed.FS

// Migrate runs every pending migration against the given database. The
// connection is opened and closed here; the caller keeps its own pool.
func Migrate(pgurl string) error {
	migrationDB, err := sql.Open("pgx", pgurl)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer migrationDB.Close()

	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(migrationDB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
