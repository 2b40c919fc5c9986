//go:build integration

package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff/cmd/internal/storage"
	"handoff/cmd/internal/storage/pgtest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	pg, err := pgtest.Start(ctx)
	if err != nil {
		panic(err)
	}
	testPool, err = storage.OpenPostgres(ctx, pg.DSN, storage.PostgresOptions{Migrate: true})
	if err != nil {
		_ = pg.Terminate(ctx)
		panic(err)
	}

	code := m.Run()
	testPool.Close()
	_ = pg.Terminate(ctx)
	os.Exit(code)
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := NewPostgresStore(testPool)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	in := Session{
		ID:        "pg-roundtrip",
		UserID:    alice.UserID,
		UserEmail: alice.UserEmail,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Source:    SourceQRPairing,
	}
	require.NoError(t, st.Create(ctx, in))
	t.Cleanup(func() { _ = st.Delete(ctx, in.ID) })

	got, err := st.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.UserEmail, got.UserEmail)
	assert.True(t, in.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, SourceQRPairing, got.Source)

	_, err = st.Get(ctx, "pg-missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	st, err := NewPostgresStore(testPool)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.Create(ctx, Session{
		ID: "pg-old", UserID: "u", UserEmail: "u@example.com",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour), Source: SourcePassword,
	}))

	n, err := st.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = st.Get(ctx, "pg-old")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
