package pairing

import (
	"context"
	"strings"
	"sync"
	"time"

	"handoff/cmd/internal/auth/session"
)

// MemoryStore is a single-process Store.
//
// One mutex serializes every transition, which makes the redeem CAS and the
// session write a single indivisible step. Sessions go to the given
// session.Store so verifiers see them immediately.
type MemoryStore struct {
	mu       sync.Mutex
	tokens   map[string]Token
	sessions session.Store
}

// NewMemoryStore constructs a MemoryStore writing sessions to sessions.
func NewMemoryStore(sessions session.Store) (*MemoryStore, error) {
	if sessions == nil {
		return nil, ErrInvalidInput
	}
	return &MemoryStore{tokens: make(map[string]Token), sessions: sessions}, nil
}

// Create inserts a new PENDING token.
func (m *MemoryStore) Create(ctx context.Context, in CreateRecord) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Token{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[in.TokenHash]; ok {
		return Token{}, ErrInvalidInput
	}
	t := Token{
		ID:        in.ID,
		UserID:    in.UserID,
		UserEmail: in.UserEmail,
		Purpose:   in.Purpose,
		Initiator: in.Initiator,
		State:     StatePending,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}
	m.tokens[in.TokenHash] = t
	return t, nil
}

// GetByTokenHash loads a token.
func (m *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	m.mu.Lock()
	t, ok := m.tokens[tokenHash]
	m.mu.Unlock()
	if !ok {
		return Token{}, ErrNotFound
	}
	return t, nil
}

// Redeem claims a live PENDING token and writes its session under the lock.
// If the session write fails the token stays PENDING.
func (m *MemoryStore) Redeem(ctx context.Context, in RedeemRecord) (Redemption, error) {
	if err := ctx.Err(); err != nil {
		return Redemption{}, err
	}
	if strings.TrimSpace(in.Session.ID) == "" {
		return Redemption{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[in.TokenHash]
	if !ok || t.Purpose != in.Purpose {
		return Redemption{}, ErrNotFound
	}
	if !t.Live(in.Now) {
		return Redemption{}, classifyLostClaim(t, in.Now)
	}

	sess := in.Session.Bind(session.Identity{UserID: t.UserID, UserEmail: t.UserEmail})
	if err := m.sessions.Create(ctx, sess); err != nil {
		return Redemption{}, err
	}

	redeemedAt := in.Now
	sid := sess.ID
	t.State = StateRedeemed
	t.RedeemedAt = &redeemedAt
	t.RedeemedSessionID = &sid
	m.tokens[in.TokenHash] = t

	return Redemption{Token: t, Session: sess}, nil
}

// MarkExpired moves a PENDING token past its TTL to EXPIRED.
func (m *MemoryStore) MarkExpired(ctx context.Context, tokenHash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[tokenHash]
	if !ok {
		return ErrNotFound
	}
	if t.State == StatePending && !now.Before(t.ExpiresAt) {
		t.State = StateExpired
		m.tokens[tokenHash] = t
	}
	return nil
}

// ExpirePendingForUser moves every PENDING token of userID to EXPIRED.
func (m *MemoryStore) ExpirePendingForUser(ctx context.Context, userID string, purpose Purpose) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for h, t := range m.tokens {
		if t.UserID == userID && t.Purpose == purpose && t.State == StatePending {
			t.State = StateExpired
			m.tokens[h] = t
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes tokens whose expires_at <= before.
func (m *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for h, t := range m.tokens {
		if !t.ExpiresAt.After(before) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}
