package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_MigratesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "handoff.db")

	db, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"pairing_tokens", "web_sessions"} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, "table %s", table)
		require.Equal(t, table, name)
	}

	// Re-running migrations on an up-to-date database is a no-op.
	require.NoError(t, Migrate(ctx, db, DialectSQLite))
}

func TestMigrate_UnknownDialectOracle(t *testing.T) {
	err := Migrate(context.Background(), nil, "oracle")
	require.Error(t, err)
}
