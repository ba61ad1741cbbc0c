package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"unitwork/internal/core/apperror"
)

// SQLSTATE codes that map to a specific storage reason. Everything else is io.
var sqlStateReasons = map[string]apperror.StorageReason{
	"40001": apperror.ReasonSerialization, // serialization_failure
	"40P01": apperror.ReasonDeadlock,      // deadlock_detected
	"55P03": apperror.ReasonLock,          // lock_not_available
	"57014": apperror.ReasonTimeout,       // query_canceled (statement_timeout)
	"23505": apperror.ReasonConstraint,    // unique_violation
	"23503": apperror.ReasonConstraint,    // foreign_key_violation
	"23514": apperror.ReasonConstraint,    // check_violation
	"23502": apperror.ReasonConstraint,    // not_null_violation
}

// classify wraps a driver error as a storage AppError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		reason, ok := sqlStateReasons[pgErr.Code]
		if !ok {
			reason = apperror.ReasonIO
		}
		return apperror.NewStorage(reason, err).WithDetail("sqlstate", pgErr.Code)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperror.NewStorage(apperror.ReasonTimeout, err)
	}
	return apperror.NewStorage(apperror.ReasonIO, err)
}
