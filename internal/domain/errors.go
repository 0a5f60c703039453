package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing record. During reconciliation a missing
// linked account means "not paid yet", not a failure.
var ErrNotFound = errors.New("record not found")

// ValidationError carries a localized, user-facing reason for rejecting
// input. It never mutates state; the caller re-prompts.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a network or store failure that the owning loop
// retries with a fixed backoff. It is never surfaced to the end user.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError, preserving nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
