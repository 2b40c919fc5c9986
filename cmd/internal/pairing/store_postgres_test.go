package pairing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"handoff/cmd/internal/storage"
)

func TestNewPostgresStore_RequiresPool(t *testing.T) {
	_, err := NewPostgresStore(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPostgresStore_TablesLiveInMigratedSchema(t *testing.T) {
	require.Equal(t, `"handoff"."web_sessions"`, pgIdent(storage.PostgresSchema, "web_sessions"))
}
