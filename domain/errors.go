package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrTaskNotFound    = NewError(ErrCodeNotFound, "task not found")
	ErrSessionNotFound = NewError(ErrCodeNotFound, "session not found")
	ErrIndexOutOfRange = NewError(ErrCodeInvalid, "reorder index out of range")
	ErrUnknownAction   = NewError(ErrCodeInvalid, "unknown action")
	ErrUnauthorized    = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrInvalidPayload  = NewError(ErrCodeInvalid, "invalid payload")
	ErrSyncDisabled    = NewError(ErrCodeUnavailable, "sync is not configured")
	ErrNotSignedIn     = NewError(ErrCodeUnauthorized, "no user signed in")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return code == ErrCodeInvalid
	}
	return false
}

// ValidationError lists every reason a record was rejected by the validation gate.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Reasons) == 0 {
		return "invalid task"
	}
	return strings.Join(e.Reasons, ", ")
}

// LocalPersistenceError reports a failed read or write against the local cache.
type LocalPersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *LocalPersistenceError) Error() string {
	return fmt.Sprintf("local cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *LocalPersistenceError) Unwrap() error { return e.Err }
