package forum

import (
	"errors"
	"fmt"
)

// Error is the error type returned by every mutating operation of the
// consistency engine.
//
// Gating and stats computation never return errors; they treat missing data
// as locked or zero.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed ("create thread", "vote", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced puzzle, thread or post is absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeUnauthorized indicates the actor may not perform the operation,
	// e.g. deleting another author's post.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeTransport indicates the remote call was rejected, unreachable or
	// timed out.
	ErrCodeTransport ErrorCode = "TRANSPORT_FAILURE"

	// ErrCodeValidation indicates invalid input detected before any remote call.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILURE"

	// ErrCodeLocked indicates the thread is gated behind an unsolved puzzle.
	ErrCodeLocked ErrorCode = "LOCKED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsUnauthorized reports whether err is an Unauthorized error.
func IsUnauthorized(err error) bool { return hasCode(err, ErrCodeUnauthorized) }

// IsTransport reports whether err is a TransportFailure.
func IsTransport(err error) bool { return hasCode(err, ErrCodeTransport) }

// IsValidation reports whether err is a ValidationFailure.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsLocked reports whether err reports a locked thread.
func IsLocked(err error) bool { return hasCode(err, ErrCodeLocked) }

// CodeOf returns the error code carried by err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// NewNotFoundError creates a NotFound error for the given entity kind and id.
func NewNotFoundError(op, kind string, id int64) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Op:      op,
		Message: fmt.Sprintf("%s %d not found", kind, id),
	}
}

// NewUnauthorizedError creates an Unauthorized error.
func NewUnauthorizedError(op, message string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Op: op, Message: message}
}

// NewValidationError creates a ValidationFailure.
func NewValidationError(op, message string) *Error {
	return &Error{Code: ErrCodeValidation, Op: op, Message: message}
}

// NewTransportError wraps a remote failure.
func NewTransportError(op string, err error) *Error {
	return &Error{Code: ErrCodeTransport, Op: op, Message: "remote call failed", Err: err}
}

// NewLockedError reports a thread gated behind the named puzzle.
func NewLockedError(op, puzzleName string) *Error {
	if puzzleName == "" {
		puzzleName = "Unknown"
	}
	return &Error{
		Code:    ErrCodeLocked,
		Op:      op,
		Message: fmt.Sprintf("Locked. Complete %q to unlock.", puzzleName),
	}
}
