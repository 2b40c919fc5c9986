package pairing

import (
	"strings"
	"time"
)

// State is the lifecycle state of a pairing token.
type State string

const (
	StatePending  State = "pending"
	StateRedeemed State = "redeemed"
	StateExpired  State = "expired"
)

// Purpose scopes a token to one flow so it cannot be replayed elsewhere.
type Purpose string

// PurposeWebLogin is the only purpose issued today.
const PurposeWebLogin Purpose = "web_login"

// Initiator records which side of the pairing asked for the token.
type Initiator string

const (
	InitiatorMobile Initiator = "mobile"
	InitiatorWeb    Initiator = "web"
)

// Valid reports whether i is a known initiator.
func (i Initiator) Valid() bool {
	return i == InitiatorMobile || i == InitiatorWeb
}

// Status is what a poller observes.
type Status string

const (
	StatusPending       Status = "pending"
	StatusAuthenticated Status = "authenticated"
	StatusExpired       Status = "expired"
)

// Token mirrors a pairing_tokens row. The capability itself is never stored;
// rows are keyed by its hash.
type Token struct {
	ID                string
	UserID            string
	UserEmail         string
	Purpose           Purpose
	Initiator         Initiator
	State             State
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RedeemedAt        *time.Time
	RedeemedSessionID *string
}

// Live reports whether the token can still be redeemed at now.
func (t Token) Live(now time.Time) bool {
	return t.State == StatePending && now.Before(t.ExpiresAt)
}

// classifyLostClaim explains why a redeem CAS matched no row, given the row
// as it reads afterwards.
func classifyLostClaim(t Token, now time.Time) error {
	switch {
	case t.State == StateRedeemed:
		return ErrAlreadyRedeemed
	case t.State == StateExpired || !now.Before(t.ExpiresAt):
		return ErrExpired
	default:
		// Still pending and live; the CAS can be retried.
		return ErrStorageUnavailable
	}
}

// normalizeEmail performs case-insensitive canonicalization.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
