// Package apperr defines the error taxonomy shared by services and handlers.
// Services return *Error values (or wrap the Err* kinds); the HTTP layer maps
// the kind to a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Compare with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrExternal   = errors.New("external service failure")
	ErrSignature  = errors.New("invalid signature")
)

// Error carries a kind, the failing operation and a message safe to show to
// the caller.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error

	// Fields holds per-field violations for validation errors.
	Fields map[string]string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Validation builds a validation error for op.
func Validation(op, message string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: message}
}

// Invalid builds a validation error carrying field violations.
func Invalid(op string, fields map[string]string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: "validation failed", Fields: fields}
}

// Conflict builds a conflict error for op.
func Conflict(op, message string) *Error {
	return &Error{Kind: ErrConflict, Op: op, Message: message}
}

// NotFound builds a not-found error for op.
func NotFound(op, message string) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Message: message}
}

// Forbidden builds a forbidden error for op.
func Forbidden(op, message string) *Error {
	return &Error{Kind: ErrForbidden, Op: op, Message: message}
}

// External wraps a failure of a collaborator (processor, webhook target).
func External(op string, err error) *Error {
	return &Error{Kind: ErrExternal, Op: op, Message: "upstream service failed", Err: err}
}

// Signature builds an error for an inbound payload whose signature did not verify.
func Signature(op string, err error) *Error {
	return &Error{Kind: ErrSignature, Op: op, Message: "invalid signature", Err: err}
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.Error()
	}
	return "internal error"
}
