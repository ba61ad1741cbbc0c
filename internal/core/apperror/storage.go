package apperror

import (
	"net/http"
)

// StorageReason classifies a backend failure.
type StorageReason string

const (
	ReasonTimeout       StorageReason = "timeout"
	ReasonDeadlock      StorageReason = "deadlock"
	ReasonSerialization StorageReason = "serialization"
	ReasonLock          StorageReason = "lock"
	ReasonIO            StorageReason = "io"

	// ReasonConstraint covers unique and foreign key violations.
	ReasonConstraint StorageReason = "constraint"
)

// NewStorage wraps a backend error. Timeout, deadlock and serialization failures are
// never retried by the unit of work; the caller decides.
func NewStorage(reason StorageReason, err error) *AppError {
	status := http.StatusInternalServerError
	switch reason {
	case ReasonTimeout:
		status = http.StatusServiceUnavailable
	case ReasonDeadlock, ReasonSerialization, ReasonLock, ReasonConstraint:
		status = http.StatusConflict
	}
	return &AppError{
		Code:       CodeStorage,
		Message:    "storage backend error",
		HTTPStatus: status,
		Details:    map[string]any{"reason": string(reason)},
		Err:        err,
	}
}

// IsStorage checks if error is CodeStorage
func IsStorage(err error) bool {
	return HasCode(err, CodeStorage)
}

// StorageReasonOf returns the reason of the first storage error in the chain.
func StorageReasonOf(err error) (StorageReason, bool) {
	appErr := FindCode(err, CodeStorage)
	if appErr == nil {
		return "", false
	}
	r, _ := appErr.Details["reason"].(string)
	return StorageReason(r), true
}
