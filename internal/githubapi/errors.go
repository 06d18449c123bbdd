package githubapi

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed classification applied to every error the client
// returns. Callers dispatch on the kind, never on transport details.
type ErrorKind string

const (
	// ErrorKindAuth marks invalid or expired credentials. Fatal for the run.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindRateLimit marks throttling responses carrying a retry-after hint.
	ErrorKindRateLimit ErrorKind = "rate_limit"
	// ErrorKindNetwork marks transient connection and server failures.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindNotFound marks a target account that no longer exists.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindValidation marks malformed configuration detected before any network access.
	ErrorKindValidation ErrorKind = "validation"
)

// Error is the typed error produced at the client boundary.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

// Error renders the classification alongside the underlying message.
func (classifiedError *Error) Error() string {
	if classifiedError.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", classifiedError.Kind, classifiedError.Message, classifiedError.Cause)
	}
	return fmt.Sprintf("%s: %s", classifiedError.Kind, classifiedError.Message)
}

// Unwrap exposes the underlying transport error for errors.Is inspection.
func (classifiedError *Error) Unwrap() error {
	return classifiedError.Cause
}

// NewAuthError builds an authentication failure.
func NewAuthError(message string) *Error {
	return &Error{Kind: ErrorKindAuth, Message: message}
}

// NewRateLimitError builds a throttling failure carrying the server's retry hint.
func NewRateLimitError(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: ErrorKindRateLimit, Message: message, RetryAfter: retryAfter}
}

// NewNetworkError builds a transient transport failure wrapping its cause.
func NewNetworkError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindNetwork, Message: message, Cause: cause}
}

// NewNotFoundError builds a vanished-target failure.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message}
}

// NewValidationError builds a configuration failure.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}

// KindOf returns the classification of an error, or an empty kind when the
// error never passed through the client boundary.
func KindOf(err error) ErrorKind {
	var classifiedError *Error
	if errors.As(err, &classifiedError) {
		return classifiedError.Kind
	}
	return ""
}

// IsAuth reports whether the error is an authentication failure.
func IsAuth(err error) bool {
	return KindOf(err) == ErrorKindAuth
}

// IsNotFound reports whether the error marks a vanished target.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrorKindNotFound
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	kind := KindOf(err)
	return kind == ErrorKindRateLimit || kind == ErrorKindNetwork
}

// RetryAfterHint extracts the server-provided retry-after duration when present.
func RetryAfterHint(err error) (time.Duration, bool) {
	var classifiedError *Error
	if errors.As(err, &classifiedError) && classifiedError.RetryAfter > 0 {
		return classifiedError.RetryAfter, true
	}
	return 0, false
}
