// Package errs defines the stable error taxonomy shared by every engine.
// Engines raise a *Error carrying one of the codes below; HTTPSurface and
// RealtimeHub map codes to transport-specific representations without
// inspecting the underlying cause.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable, wire-visible error classification.
type Code string

const (
	Validation   Code = "VALIDATION"
	Authn        Code = "AUTHENTICATION"
	Authz        Code = "AUTHORIZATION"
	NotFound     Code = "NOT_FOUND"
	Conflict     Code = "CONFLICT"
	License      Code = "LICENSE"
	RateLimited  Code = "RATE_LIMIT"
	Dependency   Code = "DEPENDENCY"
	Internal     Code = "INTERNAL"
)

// Error is the typed error every engine operation returns on failure.
type Error struct {
	Code    Code
	Reason  string // stable machine-readable sub-code, e.g. "VisitorBanned"
	Message string // human-readable, safe to return to callers
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Reason, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(code Code, reason, message string) *Error {
	return &Error{Code: code, Reason: reason, Message: message}
}

// Wrap builds an Error that wraps an underlying cause. The cause is never
// exposed to callers across a transport boundary.
func Wrap(code Code, reason, message string, cause error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, cause: cause}
}

// WithDetails attaches field-level validation details and returns the
// receiver for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code for err, defaulting to Internal when err
// is not a *Error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries the given reason code.
func Is(err error, reason string) bool {
	e, ok := As(err)
	return ok && e.Reason == reason
}
