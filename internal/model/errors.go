package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the three-way failure taxonomy plus session outcomes.
// Use errors.Is() to check against these.
var (
	// ErrAuthRejected means the server refused the bearer credential (expired or invalid).
	ErrAuthRejected = errors.New("auth rejected")
	// ErrTransient covers network failures, server errors, timeouts and rate limiting.
	// Callers may retry; it never changes the session mode by itself.
	ErrTransient = errors.New("transient failure")
	// ErrInvariantViolation is a programmer error: an impossible argument. Not retried.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrNotFound is only used internally; remote "not found" collections read as empty.
	ErrNotFound = errors.New("not found")
	// ErrSessionEnded is returned when an operation ended the session involuntarily.
	ErrSessionEnded = errors.New("session ended")
	// ErrLoggedOut is returned when an in-flight operation was discarded by a logout.
	ErrLoggedOut = errors.New("logged out")
)

// APIError represents a classified failure.
// Implements error interface and supports unwrapping to one of the sentinels above.
type APIError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	StatusCode int           `json:"-"` // HTTP status for presentation, not serialized
	RetryAfter time.Duration `json:"-"` // Server-suggested backoff, zero when unknown
	Err        error         `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAuthRejectedError creates a 401 error for a credential the server refused.
func NewAuthRejectedError(reason string) *APIError {
	return &APIError{
		Code:       "AUTH_REJECTED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrAuthRejected,
	}
}

// NewSessionEndedError creates the error surfaced to presentation code after an
// involuntary logout. It matches both ErrSessionEnded and ErrAuthRejected.
func NewSessionEndedError() *APIError {
	return &APIError{
		Code:       "SESSION_ENDED",
		Message:    "you have been logged out",
		StatusCode: 401,
		Err:        fmt.Errorf("%w: %w", ErrSessionEnded, ErrAuthRejected),
	}
}

// NewLoggedOutError creates the error for an operation discarded by an explicit logout.
func NewLoggedOutError() *APIError {
	return &APIError{
		Code:       "LOGGED_OUT",
		Message:    "operation discarded by logout",
		StatusCode: 409,
		Err:        ErrLoggedOut,
	}
}

// NewTransientError creates a 503 error for a recoverable upstream failure.
func NewTransientError(service string, err error) *APIError {
	return &APIError{
		Code:       "TRANSIENT",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 503,
		Err:        fmt.Errorf("%w: %v", ErrTransient, err),
	}
}

// NewRateLimitError creates a 429 error. Rate limiting is a Transient failure.
func NewRateLimitError(service string, retryAfter time.Duration) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: 429,
		RetryAfter: retryAfter,
		Err:        ErrTransient,
	}
}

// NewReconcileError creates the error returned when a merge attempt aborts.
// Always Transient from the caller's point of view; the cause is kept in the message only.
func NewReconcileError(cause error) *APIError {
	return &APIError{
		Code:       "RECONCILE_FAILED",
		Message:    fmt.Sprintf("cart merge did not complete: %v", cause),
		StatusCode: 503,
		Err:        ErrTransient,
	}
}

// NewInvariantError creates a 400 error for an impossible argument.
func NewInvariantError(field, reason string) *APIError {
	return &APIError{
		Code:       "INVARIANT_VIOLATION",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvariantViolation,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}

// IsAuthRejected reports whether err carries the AuthRejected classification.
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}

// IsTransient reports whether err carries the Transient classification.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RetryAfter extracts the server-suggested backoff from err, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
