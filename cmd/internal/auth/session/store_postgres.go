package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"handoff/cmd/internal/storage"
)

// PostgresStore implements Store using PostgreSQL (web_sessions in storage.PostgresSchema).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{pool: pool, schema: storage.PostgresSchema}, nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, in Session) error {
	if strings.TrimSpace(in.ID) == "" {
		return ErrInvalidInput
	}
	sessions := pgIdent(s.schema, "web_sessions")

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+sessions+` (
			session_id, user_id, user_email, created_at, expires_at, source
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, in.ID, in.UserID, in.UserEmail, in.CreatedAt, in.ExpiresAt, string(in.Source))
	return err
}

// Get loads a session row by id.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Session, error) {
	sessions := pgIdent(s.schema, "web_sessions")

	var out Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, user_email, created_at, expires_at, source
		FROM `+sessions+`
		WHERE session_id = $1
	`, sessionID).Scan(
		&out.ID,
		&out.UserID,
		&out.UserEmail,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.Source,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

// Delete removes a session row (idempotent).
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	sessions := pgIdent(s.schema, "web_sessions")
	_, err := s.pool.Exec(ctx, `DELETE FROM `+sessions+` WHERE session_id = $1`, sessionID)
	return err
}

// DeleteExpired removes rows whose expires_at <= before.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	sessions := pgIdent(s.schema, "web_sessions")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+sessions+` WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
