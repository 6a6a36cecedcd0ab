// Package apierr defines the error taxonomy shared by every repository and
// surfaced at the HTTP boundary. Repositories never know about status codes;
// they return one of these kinds (or wrap one with %w) and the API layer maps
// kind to status.
package apierr

import (
	"errors"
	"fmt"
)

// Kind identifies the taxonomy bucket an error belongs to.
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindUnauthorized Kind = "Unauthorized"
	KindForbidden   Kind = "Forbidden"
	KindNotFound    Kind = "NotFound"
	KindConflict    Kind = "Conflict"
	KindRateLimited Kind = "RateLimited"
	KindExternal    Kind = "ExternalServiceUnavailable"
	KindInvalidTransition Kind = "InvalidTransition"
	KindServer      Kind = "ServerError"
)

// Error is the concrete error type carrying a Kind plus a human message and
// optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a bare Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that preserves cause for %w chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details and returns the same error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Validation is a convenience constructor for a single-field validation error.
func Validation(field, message string) *Error {
	return New(KindValidation, fmt.Sprintf("%s: %s", field, message)).WithDetails(map[string]any{"field": field})
}

// NotFound is a convenience constructor.
func NotFound(resource, id string) *Error {
	return Newf(KindNotFound, "%s %q not found", resource, id)
}

// RateLimited is a convenience constructor carrying the retry hint.
func RateLimited(retryAfterSeconds int) *Error {
	return New(KindRateLimited, "rate limit exceeded").
		WithDetails(map[string]any{"retry_after_seconds": retryAfterSeconds})
}

// InvalidTransition is a convenience constructor for state machine violations.
func InvalidTransition(from, to string) *Error {
	return Newf(KindInvalidTransition, "cannot transition from %q to %q", from, to)
}

// KindOf extracts the Kind of err, defaulting to KindServer when err does not
// wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// Is reports whether err's Kind matches k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
