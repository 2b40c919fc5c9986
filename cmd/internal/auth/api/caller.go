package authapi

import (
	"errors"
	"net/http"
	"strings"
)

// ErrCallerUnauthorized means the request did not come from a trusted caller.
var ErrCallerUnauthorized = errors.New("caller not authorized")

// CallerVerifier checks that issue and redeem requests come from the
// authenticated side of the pairing (the mobile app or its backend).
type CallerVerifier interface {
	VerifyCaller(r *http.Request) error
}

// NoopCallerVerifier accepts every request. It is the default when no caller
// key is configured, for deployments that authenticate upstream.
type NoopCallerVerifier struct{}

// VerifyCaller always succeeds.
func (NoopCallerVerifier) VerifyCaller(*http.Request) error { return nil }

// SharedKeyVerifier requires a pre-shared key in a request header.
type SharedKeyVerifier struct {
	Header string
	Key    string
}

// VerifyCaller compares the header value in constant time.
func (v SharedKeyVerifier) VerifyCaller(r *http.Request) error {
	if r == nil || v.Key == "" {
		return ErrCallerUnauthorized
	}
	got := strings.TrimSpace(r.Header.Get(v.Header))
	if !secureStringEqual(got, v.Key) {
		return ErrCallerUnauthorized
	}
	return nil
}
