package token

import "errors"

// Sentinel errors. Messages name the env var so startup failures are actionable.
var (
	ErrHMACKeyMissing  = errors.New("token: HANDOFF_TOKEN_HMAC_KEY is not set")
	ErrHMACKeyTooShort = errors.New("token: HANDOFF_TOKEN_HMAC_KEY is shorter than 32 bytes")
	ErrTooFewBytes     = errors.New("token: entropy below minimum")
)
