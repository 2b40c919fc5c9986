package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is past its expires_at.
	ErrSessionExpired = errors.New("session expired")

	// ErrStorageUnavailable is returned when the backing store fails. Callers may retry.
	ErrStorageUnavailable = errors.New("session storage unavailable")

	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// StorageError wraps a backend failure. It matches both ErrStorageUnavailable and the cause.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStorageUnavailable, e.Err)
}

func (e StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

// IsInvalid reports whether err means the session cannot be used (missing or expired).
func IsInvalid(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired)
}
