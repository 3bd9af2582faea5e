package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorMapper maps external errors to the outcome taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper maps driver and transport errors onto the taxonomy
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps an error that does not yet carry a category.
// Errors already categorized are returned unchanged.
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	if Category(err) != "Unknown" {
		return err
	}

	// Propagate cancellation as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTransient, "request timeout", err)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "unique constraint"), strings.Contains(errStr, "already exists"):
		return Wrap(ErrConflict, "conflict", err)

	case strings.Contains(errStr, "database is locked"), strings.Contains(errStr, "busy"):
		return Wrap(ErrTransient, "storage busy", err)

	case strings.Contains(errStr, "no such"), strings.Contains(errStr, "not found"):
		return Wrap(ErrNotFound, "resource not found", err)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return Wrap(ErrTransient, "request timeout", err)

	default:
		return Wrap(ErrInternal, "internal error", err)
	}
}

// IsRetryable determines if the caller may retry the whole workflow
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the machine-readable code for an error
func (m *DefaultErrorMapper) Category(err error) string {
	return Category(err)
}

// Category returns the machine-readable outcome code for err. The outermost
// *Error decides; its cause is not consulted.
func Category(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Category != nil {
		return categoryName(e.Category)
	}
	return categoryName(err)
}

func categoryName(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrPreconditionFailed):
		return "PreconditionFailed"
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthenticated"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrUpstream):
		return "UpstreamFailure"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrTransient):
		return "Transient"
	case errors.Is(err, ErrInternal):
		return "Internal"
	default:
		return "Unknown"
	}
}

// HTTPStatus returns the response status for an error outcome.
func HTTPStatus(err error) int {
	switch Category(err) {
	case "":
		return http.StatusOK
	case "NotFound":
		return http.StatusNotFound
	case "PreconditionFailed", "InvalidInput":
		return http.StatusBadRequest
	case "Unauthenticated":
		return http.StatusUnauthorized
	case "Conflict":
		return http.StatusConflict
	case "UpstreamFailure":
		return http.StatusBadGateway
	case "Transient":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NotFound wraps message as not found
func NotFound(message string) error {
	return New(ErrNotFound, message)
}

// PreconditionFailed wraps message as precondition failed
func PreconditionFailed(message string) error {
	return New(ErrPreconditionFailed, message)
}

// Unauthenticated wraps message as unauthenticated
func Unauthenticated(message string) error {
	return New(ErrUnauthenticated, message)
}

// Conflict wraps message as conflict
func Conflict(message string) error {
	return New(ErrConflict, message)
}

// InvalidInput wraps message as invalid input
func InvalidInput(message string) error {
	return New(ErrInvalidInput, message)
}

// Upstream wraps cause as an upstream failure
func Upstream(message string, cause error) error {
	return Wrap(ErrUpstream, message, cause)
}

// Internal wraps cause as internal
func Internal(message string, cause error) error {
	return Wrap(ErrInternal, message, cause)
}

// Internalf formats an internal error message around cause.
func Internalf(cause error, format string, args ...any) error {
	return Wrap(ErrInternal, fmt.Sprintf(format, args...), cause)
}

// IsRetryable checks if an error is transient or conflict related, indicating it can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Category(err) == "Transient"
}
