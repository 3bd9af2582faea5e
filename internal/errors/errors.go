package errors

import (
	"errors"
)

// Sentinel errors for the outcome taxonomy. Every failure returned to a caller
// wraps exactly one of these.
var (
	// ErrNotFound - session or participant absent (404)
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed - no eligible work unit for the request (400)
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrUnauthenticated - credential missing or irrecoverable (401)
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConflict - duplicate publish attempt or state already taken (409)
	ErrConflict = errors.New("conflict")

	// ErrUpstream - provider, push or refresh endpoint failure (502)
	ErrUpstream = errors.New("upstream failure")

	// ErrInvalidInput - malformed request or illegal state transition (400)
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient - deadline or lock contention, safe for the caller to retry (503)
	ErrTransient = errors.New("transient error")

	// ErrInternal - storage read/write failure (500)
	ErrInternal = errors.New("internal error")
)

// Error carries a user-facing message alongside its taxonomy category and an
// optional underlying cause.
type Error struct {
	Category error
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Category, e.Cause}
	}
	return []error{e.Category}
}

// New creates a categorized error with a user-facing message.
func New(category error, message string) error {
	return &Error{Category: category, Message: message}
}

// Wrap creates a categorized error that keeps cause in the chain.
func Wrap(category error, message string, cause error) error {
	return &Error{Category: category, Message: message, Cause: cause}
}

// Message returns the user-facing message of err, falling back to err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
