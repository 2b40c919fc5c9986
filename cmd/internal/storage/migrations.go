// Package storage opens the SQL backends used by the pairing and session stores
// and applies their embedded goose migrations.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies all pending migrations for dialect ("postgres" or "sqlite").
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	var (
		gd  goose.Dialect
		dir string
	)
	switch dialect {
	case DialectPostgres:
		gd, dir = goose.DialectPostgres, "migrations/postgres"
	case DialectSQLite:
		gd, dir = goose.DialectSQLite3, "migrations/sqlite"
	default:
		return fmt.Errorf("storage: unknown dialect %q", dialect)
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("storage: migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(gd, db, sub)
	if err != nil {
		return fmt.Errorf("storage: goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("storage: migrate %s: %w", dialect, err)
	}
	return nil
}

// PostgresSchema is the schema the postgres migrations create; both Postgres
// stores address their tables through it.
const PostgresSchema = "handoff"

// Dialect names accepted by Migrate.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)
