// Package apperrors defines the error kinds the core surfaces to callers.
//
// Business-rule errors (Validation, NotFound, Conflict) always propagate to
// the caller unchanged. StoreUnavailable never leaves the data layer: it only
// signals that the remote store failed and the local path should be used.
package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing input. Not retryable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func Validation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced entity absent in the scoping branch.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s not found: %s", e.Entity, e.Ref)
	}
	return fmt.Sprintf("%s not found", e.Entity)
}

func NotFound(entity, ref string) *NotFoundError {
	return &NotFoundError{Entity: entity, Ref: ref}
}

// ConflictError reports a state-machine violation: table not available,
// order already paid, order not editable.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func Conflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// StoreUnavailableError wraps a remote store failure or timeout. It is
// internal only: the unified layer converts it into a local fallback and the
// sync service logs and skips.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("remote store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func StoreUnavailable(op string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, Err: err}
}

// TransactionAbortedError records that a transaction rolled back. Cause is
// what the caller sees; callers unwrap rather than branch on this type.
type TransactionAbortedError struct {
	Cause error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction aborted: %v", e.Cause)
}

func (e *TransactionAbortedError) Unwrap() error { return e.Cause }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var v *ConflictError
	return errors.As(err, &v)
}

func IsStoreUnavailable(err error) bool {
	var v *StoreUnavailableError
	return errors.As(err, &v)
}
