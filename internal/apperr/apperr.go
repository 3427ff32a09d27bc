// Package apperr defines the error kinds surfaced by the vault, gateway,
// aggregator and audit trail.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable error category that outer layers map to responses.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindInvalidCredential Kind = "INVALID_CREDENTIAL"
	KindOperationFailed   Kind = "OPERATION_FAILED"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindInternal          Kind = "INTERNAL"
)

// Error carries a kind, a human readable message and an optional cause.
// Message must never contain secret key material.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can write errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrOperationFailed   = &Error{Kind: KindOperationFailed}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
)

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Message: msg} }

func Conflict(msg string) error { return &Error{Kind: KindConflict, Message: msg} }

func Unauthorized(msg string) error { return &Error{Kind: KindUnauthorized, Message: msg} }

func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidCredential wraps a failed live validation.
func InvalidCredential(err error) error {
	return &Error{Kind: KindInvalidCredential, Message: "invalid S3 credentials: " + message(err), Err: err}
}

// OperationFailed wraps a backend failure for the named operation.
func OperationFailed(op string, err error) error {
	return &Error{Kind: KindOperationFailed, Message: "failed to " + op + ": " + message(err), Err: err}
}

// Internal wraps unexpected failures (storage, encryption).
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func message(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
