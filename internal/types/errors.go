package types

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Agents classify and return these; the orchestrator is the
// sole decision point for retry vs termination.

// ValidationError marks bad input. Never retried, surfaced immediately.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// TransientError marks an external-service hiccup. Retried per policy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks an unretryable condition or exhausted retries.
// Terminates the run.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// CancellationError marks a caller-initiated cancel. Not a failure for
// reporting purposes.
type CancellationError struct {
	Err error
}

func (e *CancellationError) Error() string { return "cancelled: " + e.Err.Error() }
func (e *CancellationError) Unwrap() error { return e.Err }

// Validation wraps err as a ValidationError.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf builds a TransientError from a format string.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Fatal wraps err as a FatalError.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf builds a FatalError from a format string.
func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// Cancelled wraps err as a CancellationError.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	return &CancellationError{Err: err}
}

// IsValidation reports whether err contains a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err contains a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err contains a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsCancellation reports whether err contains a CancellationError.
func IsCancellation(err error) bool {
	var ce *CancellationError
	return errors.As(err, &ce)
}

// ClassifyContextErr maps a context error at a stage boundary into the
// taxonomy: a per-stage deadline is transient (the retry policy decides),
// a caller cancel is a cancellation.
func ClassifyContextErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(err)
	case errors.Is(err, context.Canceled):
		return Cancelled(err)
	default:
		return err
	}
}
