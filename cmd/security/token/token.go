package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// HMACEnvKey is the env var name for the token HMAC master secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "HANDOFF_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the minimum accepted master key size.
	MinHMACKeyBytes = 32

	// MinOpaqueBytes is the minimum entropy for a capability (128 bits).
	MinOpaqueBytes = 16

	// DefaultOpaqueBytes is the default entropy for a capability (256 bits).
	DefaultOpaqueBytes = 32
)

// NewOpaque returns a URL-safe random string carrying nBytes of entropy.
func NewOpaque(nBytes int) (string, error) {
	if nBytes == 0 {
		nBytes = DefaultOpaqueBytes
	}
	if nBytes < MinOpaqueBytes {
		return "", ErrTooFewBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// DeriveKey expands master into a 32-byte key bound to purpose (HKDF-SHA256).
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrHMACKeyMissing
	}
	r := hkdf.New(sha256.New, master, nil, []byte("handoff/token/"+purpose))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// HMACKeyFromEnv returns the configured master key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	return checkKey(os.Getenv(HMACEnvKey), minBytes)
}

func checkKey(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Hasher produces the stored form of a capability.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher for purpose. An empty master selects SHA-256 mode.
func NewHasher(master []byte, purpose string) (Hasher, error) {
	if len(master) == 0 {
		return Hasher{}, nil
	}
	if len(master) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return Hasher{}, err
	}
	return Hasher{key: key}, nil
}

// NewHasherFromEnv builds a Hasher from HANDOFF_TOKEN_HMAC_KEY.
// When requireHMAC is true a missing or short key is an error.
func NewHasherFromEnv(purpose string, requireHMAC bool) (Hasher, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch {
	case err == nil:
		return NewHasher(key, purpose)
	case errors.Is(err, ErrHMACKeyMissing) && !requireHMAC:
		return Hasher{}, nil
	default:
		return Hasher{}, err
	}
}

// HMACEnabled reports whether the hasher is keyed.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex digest stored in place of tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}
