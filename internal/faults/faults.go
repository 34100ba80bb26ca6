// Package faults defines the typed failure taxonomy shared by the
// communication core services.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure for callers and transport mapping.
type Kind string

const (
	// KindNotFound indicates a referenced user, connection, message or
	// notification does not exist.
	KindNotFound Kind = "not_found"
	// KindUnauthorized indicates an operation attempted without an accepted
	// connection between the participants.
	KindUnauthorized Kind = "unauthorized"
	// KindConflict indicates the operation contradicts current state, such as
	// a duplicate connection request or accepting a non-pending connection.
	KindConflict Kind = "conflict"
	// KindValidation indicates malformed input, such as empty content or a
	// self-targeted request.
	KindValidation Kind = "validation"
	// KindInternal covers storage and infrastructure failures.
	KindInternal Kind = "internal"
)

// Error carries a failure kind plus an operation-scoped code.
type Error struct {
	kind Kind
	code string
	err  error
}

// New builds a typed error with code "operation.reason".
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

// NotFound builds a KindNotFound error.
func NotFound(operation, reason string, cause error) *Error {
	return New(KindNotFound, operation, reason, cause)
}

// Unauthorized builds a KindUnauthorized error.
func Unauthorized(operation, reason string, cause error) *Error {
	return New(KindUnauthorized, operation, reason, cause)
}

// Conflict builds a KindConflict error.
func Conflict(operation, reason string, cause error) *Error {
	return New(KindConflict, operation, reason, cause)
}

// Validation builds a KindValidation error.
func Validation(operation, reason string, cause error) *Error {
	return New(KindValidation, operation, reason, cause)
}

// Internal builds a KindInternal error.
func Internal(operation, reason string, cause error) *Error {
	return New(KindInternal, operation, reason, cause)
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind exposes the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code exposes the operation-scoped failure code.
func (e *Error) Code() string {
	return e.code
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
