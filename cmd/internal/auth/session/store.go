package session

import (
	"context"
	"time"
)

// Source records how a session came to exist.
type Source string

const (
	// SourceQRPairing is a session minted by redeeming a pairing token.
	SourceQRPairing Source = "qr_pairing"
	// SourcePassword is a session minted by a password login.
	SourcePassword Source = "password"
)

// Identity is the user a session is bound to.
type Identity struct {
	UserID    string
	UserEmail string
}

// Session mirrors a web_sessions row.
type Session struct {
	ID        string
	UserID    string
	UserEmail string
	CreatedAt time.Time
	ExpiresAt time.Time
	Source    Source
}

// Identity returns the identity bound to the session.
func (s Session) Identity() Identity {
	return Identity{UserID: s.UserID, UserEmail: s.UserEmail}
}

// Bind returns a copy of s bound to id.
func (s Session) Bind(id Identity) Session {
	s.UserID = id.UserID
	s.UserEmail = id.UserEmail
	return s
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store abstracts persistence for web sessions.
//
// Rows are immutable after Create; the only other writes are deletions of
// expired rows.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s Session) error

	// Get loads a session by id. Missing rows yield ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (Session, error)

	// Delete removes a session (idempotent).
	Delete(ctx context.Context, sessionID string) error

	// DeleteExpired removes every session whose expires_at is at or before before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
