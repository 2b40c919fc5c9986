package pairing

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Payload is the content of a pairing QR code.
//
// Domain only helps a scanner pick the right deployment; possession of Token
// is the sole source of trust.
type Payload struct {
	Token     string `json:"token"`
	Domain    string `json:"domain"`
	Timestamp int64  `json:"timestamp"`
}

// NewPayload builds the payload for a token issued at issuedAt.
func NewPayload(tokenID, domain string, issuedAt time.Time) Payload {
	return Payload{Token: tokenID, Domain: domain, Timestamp: issuedAt.Unix()}
}

// Encode renders p as unpadded base64url JSON.
func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodePayload parses an encoded payload. Padded input is accepted.
func DecodePayload(s string) (Payload, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if s == "" || len(s) > maxPayloadLen {
		return Payload{}, ErrInvalidInput
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Payload{}, ErrInvalidInput
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, ErrInvalidInput
	}
	if !ValidTokenID(p.Token) {
		return Payload{}, ErrInvalidInput
	}
	return p, nil
}

const (
	minTokenIDLen = 22
	maxTokenIDLen = 128
	maxTokenBytes = 96
	maxPayloadLen = 1024
)

// ValidTokenID reports whether s is shaped like an issued token id
// (unpadded base64url of at least 128 bits).
func ValidTokenID(s string) bool {
	if len(s) < minTokenIDLen || len(s) > maxTokenIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
