package session

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"handoff/cmd/internal/storage"
)

// SQLiteStore implements Store on a SQLite database opened by storage.OpenSQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	return &SQLiteStore{db: db}, nil
}

// Create inserts a new session row.
func (s *SQLiteStore) Create(ctx context.Context, in Session) error {
	if strings.TrimSpace(in.ID) == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO web_sessions (session_id, user_id, user_email, created_at, expires_at, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`, in.ID, in.UserID, in.UserEmail, storage.UnixNano(in.CreatedAt), storage.UnixNano(in.ExpiresAt), string(in.Source))
	return err
}

// Get loads a session row by id.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Session, error) {
	var (
		out                  Session
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, user_email, created_at, expires_at, source
		FROM web_sessions
		WHERE session_id = ?
	`, sessionID).Scan(&out.ID, &out.UserID, &out.UserEmail, &createdAt, &expiresAt, &out.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	out.CreatedAt = storage.FromUnixNano(createdAt)
	out.ExpiresAt = storage.FromUnixNano(expiresAt)
	return out, nil
}

// Delete removes a session row (idempotent).
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM web_sessions WHERE session_id = ?`, sessionID)
	return err
}

// DeleteExpired removes rows whose expires_at <= before.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM web_sessions WHERE expires_at <= ?`, storage.UnixNano(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
