package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ConflictKind tells a concurrently deleted row from a concurrently modified one.
type ConflictKind string

const (
	ConflictRowModified ConflictKind = "row_modified"
	ConflictRowDeleted  ConflictKind = "row_deleted"
)

// ConflictError is returned when a conditional write matched no row because the stored
// concurrency token differs from the one captured at read time.
//
// It is recoverable: the caller inspects ClientValues and ServerValues and decides
// whether to overwrite, merge or abort. ServerValues is nil for ConflictRowDeleted.
type ConflictError struct {
	Kind       ConflictKind
	EntityType string
	Key        any

	ClientValues map[string]any
	ServerValues map[string]any

	ClientToken any
	ServerToken any
}

// Error implements error interface
func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictRowDeleted:
		return fmt.Sprintf("%s: %s %v was deleted by another writer", CodeConcurrentModification, e.EntityType, e.Key)
	default:
		return fmt.Sprintf("%s: %s %v was modified by another writer (token %v, expected %v)",
			CodeConcurrentModification, e.EntityType, e.Key, e.ServerToken, e.ClientToken)
	}
}

// AppError renders the conflict in the standard problem shape (409).
func (e *ConflictError) AppError() *AppError {
	msg := "Record was modified by another user. Please refresh and try again."
	if e.Kind == ConflictRowDeleted {
		msg = "Record was removed by another user."
	}
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    msg,
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"kind":          string(e.Kind),
			"entity":        e.EntityType,
			"key":           e.Key,
			"client_values": e.ClientValues,
			"server_values": e.ServerValues,
		},
		Err: e,
	}
}

// AsConflict extracts ConflictError from error chain
func AsConflict(err error) (*ConflictError, bool) {
	var c *ConflictError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// IsConflict checks if err carries a ConflictError
func IsConflict(err error) bool {
	_, ok := AsConflict(err)
	return ok
}

// IsConflictKind checks if err carries a ConflictError of the given kind
func IsConflictKind(err error, kind ConflictKind) bool {
	c, ok := AsConflict(err)
	return ok && c.Kind == kind
}
