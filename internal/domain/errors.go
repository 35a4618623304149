// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidRecord indicates caller input that can never succeed: empty
// content, an out-of-range temperature, a malformed metadata value.
// Callers must not retry it.
var ErrInvalidRecord = errors.New("invalid record")

// ErrPoolExhausted indicates no store connection became free within the
// acquire timeout. Transient; callers may retry with backoff.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrStoreUnavailable indicates the backing store could not be reached or
// did not answer within the per-call timeout. Transient.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrChecksumMismatch indicates a stored payload no longer matches its
// content checksum. Reads still return the record, flagged.
var ErrChecksumMismatch = errors.New("content checksum mismatch")

// IsTransient reports whether err is an infrastructure failure the caller
// may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrStoreUnavailable)
}
