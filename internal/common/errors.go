// Package common defines shared constants and sentinel errors used across
// client and server layers of FieldSync. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
)

var (
	// Repository-level errors.
	ErrNotFound     = errors.New("not found")
	ErrCorruptState = errors.New("corrupt local state")

	// Catalog errors.
	ErrVersionNotPublished = errors.New("template version is not published")
	ErrVersionImmutable    = errors.New("published template version is immutable")

	// Runner session errors.
	ErrSessionLocked = errors.New("session locked")
	ErrIncomplete    = errors.New("inspection incomplete")
	ErrInvalidValue  = errors.New("invalid value")

	// Transient sync errors.
	ErrUnavailable = errors.New("server unavailable")

	// Permanent sync errors.
	ErrSequenceConflict   = errors.New("sequence conflict")
	ErrInspectionClosed   = errors.New("inspection already completed on server")
	ErrVersionUnavailable = errors.New("template version unavailable on server")
	ErrRejected           = errors.New("rejected by server")

	// Auth errors; neither retried automatically nor failing queue entries.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")

	ErrDrainInProgress = errors.New("drain already in progress")
)

// IsTransient reports whether err should be retried under the backoff policy.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsPermanent reports whether err marks a queue entry failed_permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrSequenceConflict) ||
		errors.Is(err, ErrInspectionClosed) ||
		errors.Is(err, ErrVersionUnavailable) ||
		errors.Is(err, ErrRejected)
}
