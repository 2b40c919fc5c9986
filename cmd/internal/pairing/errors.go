package pairing

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConfig       = errors.New("invalid pairing config")

	// ErrNotFound means the token id is unknown. Externally it must be
	// indistinguishable from ErrExpired.
	ErrNotFound = errors.New("pairing token not found")

	// ErrAlreadyRedeemed means another redemption claimed the token first.
	ErrAlreadyRedeemed = errors.New("pairing token already redeemed")

	// ErrExpired means the token outlived its TTL before being redeemed.
	ErrExpired = errors.New("pairing token expired")

	// ErrStorageUnavailable is a transient backend failure. Retrying is safe.
	ErrStorageUnavailable = errors.New("pairing storage unavailable")
)

// StorageError wraps a backend failure with the operation that hit it.
// It matches both ErrStorageUnavailable and the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStorageUnavailable, e.Err)
}

func (e StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

// IsGone reports whether err should be surfaced as "expired, issue a new token".
func IsGone(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrNotFound)
}
