package pairing

import (
	"context"
	"time"

	"handoff/cmd/internal/auth/session"
)

// CreateRecord is a normalized token insert payload.
type CreateRecord struct {
	ID        string
	TokenHash string
	UserID    string
	UserEmail string
	Purpose   Purpose
	Initiator Initiator
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RedeemRecord describes a redemption attempt.
//
// Session is an unbound session (see session.Service.Mint). The store binds it
// to the claimed token's identity and persists it in the same atomic step as
// the PENDING to REDEEMED transition.
type RedeemRecord struct {
	TokenHash string
	Purpose   Purpose
	Now       time.Time
	Session   session.Session
}

// Redemption is the outcome of a successful claim.
type Redemption struct {
	Token   Token
	Session session.Session
}

// Store is the persistence boundary for pairing tokens.
type Store interface {
	// Create inserts a new PENDING token.
	Create(ctx context.Context, in CreateRecord) (Token, error)

	// GetByTokenHash loads a token. Missing rows yield ErrNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (Token, error)

	// Redeem atomically claims a live PENDING token and persists its session.
	// A lost claim yields ErrNotFound, ErrAlreadyRedeemed or ErrExpired.
	Redeem(ctx context.Context, in RedeemRecord) (Redemption, error)

	// MarkExpired moves a PENDING token whose expires_at <= now to EXPIRED.
	// Tokens in any other state are left untouched.
	MarkExpired(ctx context.Context, tokenHash string, now time.Time) error

	// ExpirePendingForUser moves every PENDING token of userID to EXPIRED.
	ExpirePendingForUser(ctx context.Context, userID string, purpose Purpose) (int64, error)

	// DeleteExpired removes tokens whose expires_at <= before, in any state.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
