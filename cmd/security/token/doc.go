// Package token provides opaque token generation and at-rest hashing for handoff.
//
// It is the single source of truth for how pairing tokens are stored.
//
// Design goals:
// - Capabilities are opaque random strings (base64url, no padding).
// - Stores only ever see a 64-char hex digest of a capability.
// - Default dev mode: SHA-256(token) when no HMAC key is configured.
// - Production mode: HMAC-SHA256(token, k) where k is derived per purpose from
//   HANDOFF_TOKEN_HMAC_KEY with HKDF-SHA256.
package token
