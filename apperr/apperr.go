// Package apperr defines the core's error-kind vocabulary (spec.md §7),
// distinct from but consistent with broker.ErrorKind — that one classifies
// what a broker adapter call failed with; this one classifies what a core
// component operation failed with, including kinds no broker call ever
// produces (CONFIG_INVALID, DUPLICATE_SIGNAL, VALIDATION_FAILED).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a core-level failure for recovery-policy dispatch.
type Kind string

const (
	ConfigInvalid    Kind = "CONFIG_INVALID"
	NotAuthenticated Kind = "NOT_AUTHENTICATED"
	TokenExpired     Kind = "TOKEN_EXPIRED"
	Connection       Kind = "CONNECTION"
	RateLimit        Kind = "RATE_LIMIT"
	Timeout          Kind = "TIMEOUT"
	BrokerRejected   Kind = "BROKER_REJECTED"
	ValidationFailed Kind = "VALIDATION_FAILED"
	DuplicateSignal  Kind = "DUPLICATE_SIGNAL"
	StaleFeed        Kind = "STALE_FEED"
	ExecutionError   Kind = "EXECUTION_ERROR"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// recovery policy (spec.md §7) without string-matching error messages.
type Error struct {
	Kind    Kind
	Message string
	Code    string // broker/venue-specific error code, when applicable
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCode attaches a broker/venue-specific error code (e.g.
// "RMS:MARGIN_SHORTFALL") and returns the same *Error for chaining.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
