// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every failure path of the unit of work returns one of these types.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeStorage  = "STORAGE_ERROR"

	// Rollback failure is reported separately from the error that caused it.
	CodeRollbackFailed = "ROLLBACK_FAILED"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Tracking contract violations (programming errors, never retried)
	CodeDuplicateIdentity   = "DUPLICATE_IDENTITY"
	CodeNotAttached         = "NOT_ATTACHED"
	CodeUnmappedType        = "UNMAPPED_TYPE"
	CodeKeyModified         = "KEY_MODIFIED"
	CodeAlreadyActive       = "ALREADY_ACTIVE"
	CodeNoActiveTransaction = "NO_ACTIVE_TRANSACTION"
	CodeTransactionClosed   = "TRANSACTION_CLOSED"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

// AppError is the standard error type of the module.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (identity, sqlstate, reason, ...)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, key any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "key": key},
	}
}

// NewDuplicateIdentity is returned when an identity is attached twice to one identity map.
func NewDuplicateIdentity(entity string, key any) *AppError {
	return &AppError{
		Code:       CodeDuplicateIdentity,
		Message:    fmt.Sprintf("%s with key %v is already tracked", entity, key),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"entity": entity, "key": key},
	}
}

// NewKeyModified is returned when a tracked entity's primary key no longer matches the
// identity it was attached under.
func NewKeyModified(entity string, key, current any) *AppError {
	return &AppError{
		Code:       CodeKeyModified,
		Message:    fmt.Sprintf("%s with key %v had its key changed to %v", entity, key, current),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"entity": entity, "key": key, "current_key": current},
	}
}

// NewNotAttached is returned when an operation needs a tracked entity and gets an untracked one.
func NewNotAttached(entity string, key any) *AppError {
	return &AppError{
		Code:       CodeNotAttached,
		Message:    fmt.Sprintf("%s with key %v is not tracked", entity, key),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"entity": entity, "key": key},
	}
}

// NewUnmappedType is returned when the schema mapper cannot describe a Go type.
func NewUnmappedType(typeName, reason string) *AppError {
	return &AppError{
		Code:       CodeUnmappedType,
		Message:    fmt.Sprintf("type %s cannot be mapped: %s", typeName, reason),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"type": typeName},
	}
}

// NewAlreadyActive is returned by Begin while another transaction is active.
func NewAlreadyActive(txID string) *AppError {
	return &AppError{
		Code:       CodeAlreadyActive,
		Message:    "a transaction is already active on this unit of work",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"active_tx": txID},
	}
}

// NewNoActiveTransaction is returned by Commit/Rollback when nothing was begun.
func NewNoActiveTransaction() *AppError {
	return &AppError{
		Code:       CodeNoActiveTransaction,
		Message:    "no active transaction",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewTransactionClosed is returned when a terminal transaction is used again.
func NewTransactionClosed(txID, outcome string) *AppError {
	return &AppError{
		Code:       CodeTransactionClosed,
		Message:    fmt.Sprintf("transaction already %s", outcome),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"tx": txID, "outcome": outcome},
	}
}

// NewRollbackFailed reports a rollback that did not complete.
func NewRollbackFailed(err error) *AppError {
	return &AppError{
		Code:       CodeRollbackFailed,
		Message:    "rollback failed",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if _, ok := AsConflict(err); ok {
		return http.StatusConflict
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether any AppError in the error tree carries code.
func HasCode(err error, code string) bool {
	return FindCode(err, code) != nil
}

// FindCode returns the first AppError carrying code, searching joined errors
// (errors.Join) branch by branch.
func FindCode(err error, code string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok && appErr.Code == code {
		return appErr
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if found := FindCode(e, code); found != nil {
				return found
			}
		}
	case interface{ Unwrap() error }:
		return FindCode(x.Unwrap(), code)
	}
	return nil
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsDuplicateIdentity checks if error is CodeDuplicateIdentity
func IsDuplicateIdentity(err error) bool {
	return HasCode(err, CodeDuplicateIdentity)
}

// IsNotAttached checks if error is CodeNotAttached
func IsNotAttached(err error) bool {
	return HasCode(err, CodeNotAttached)
}

// IsAlreadyActive checks if error is CodeAlreadyActive
func IsAlreadyActive(err error) bool {
	return HasCode(err, CodeAlreadyActive)
}

// IsTransactionClosed checks if error is CodeTransactionClosed
func IsTransactionClosed(err error) bool {
	return HasCode(err, CodeTransactionClosed)
}

// IsRollbackFailed checks if error is CodeRollbackFailed
func IsRollbackFailed(err error) bool {
	return HasCode(err, CodeRollbackFailed)
}
