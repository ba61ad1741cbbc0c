// Package sqldb implements the transaction backend on database/sql for SQLite, MySQL
// and SQL Server. A Dialect carries everything that differs between them: placeholder
// format, isolation mapping and error classification.
package sqldb

import (
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"
	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/tx"
)

// Dialect describes one SQL engine.
type Dialect struct {
	Name       string
	DriverName string

	placeholder squirrel.PlaceholderFormat
	isolation   func(tx.IsolationLevel) sql.IsolationLevel
	readOnly    bool
	classify    func(error) (apperror.StorageReason, bool)
}

// SQLite serializes writers with a database lock, so every level behaves as
// Serializable; a busy database surfaces as a lock error.
var SQLite = Dialect{
	Name:        "sqlite",
	DriverName:  "sqlite",
	placeholder: squirrel.Question,
	isolation:   func(tx.IsolationLevel) sql.IsolationLevel { return sql.LevelDefault },
	classify:    sqliteReason,
}

// MySQL needs clientFoundRows=true in the DSN so an UPDATE reports matched rather
// than changed rows. Snapshot maps to REPEATABLE READ (InnoDB consistent read).
var MySQL = Dialect{
	Name:        "mysql",
	DriverName:  "mysql",
	placeholder: squirrel.Question,
	isolation:   standardIsolation(sql.LevelRepeatableRead),
	readOnly:    true,
	classify:    mysqlReason,
}

// SQLServer supports Snapshot natively once ALLOW_SNAPSHOT_ISOLATION is on.
var SQLServer = Dialect{
	Name:        "sqlserver",
	DriverName:  "sqlserver",
	placeholder: squirrel.AtP,
	isolation:   standardIsolation(sql.LevelSnapshot),
	classify:    sqlServerReason,
}

// DialectByName returns the dialect for a driver name.
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "mysql":
		return MySQL, true
	case "sqlserver", "mssql":
		return SQLServer, true
	}
	return Dialect{}, false
}

func standardIsolation(snapshot sql.IsolationLevel) func(tx.IsolationLevel) sql.IsolationLevel {
	return func(level tx.IsolationLevel) sql.IsolationLevel {
		switch level {
		case tx.ReadUncommitted:
			return sql.LevelReadUncommitted
		case tx.RepeatableRead:
			return sql.LevelRepeatableRead
		case tx.Serializable:
			return sql.LevelSerializable
		case tx.Snapshot:
			return snapshot
		default:
			return sql.LevelReadCommitted
		}
	}
}

func sqliteReason(err error) (apperror.StorageReason, bool) {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return "", false
	}
	// Extended result codes keep the primary code in the low byte.
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return apperror.ReasonLock, true
	case sqlite3.SQLITE_CONSTRAINT:
		return apperror.ReasonConstraint, true
	case sqlite3.SQLITE_INTERRUPT:
		return apperror.ReasonTimeout, true
	}
	return apperror.ReasonIO, true
}

func mysqlReason(err error) (apperror.StorageReason, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return "", false
	}
	switch myErr.Number {
	case 1213: // ER_LOCK_DEADLOCK
		return apperror.ReasonDeadlock, true
	case 1205, 3572: // ER_LOCK_WAIT_TIMEOUT, ER_LOCK_NOWAIT
		return apperror.ReasonLock, true
	case 3024: // ER_QUERY_TIMEOUT
		return apperror.ReasonTimeout, true
	case 1062, 1451, 1452: // duplicate key, foreign key
		return apperror.ReasonConstraint, true
	}
	return apperror.ReasonIO, true
}

func sqlServerReason(err error) (apperror.StorageReason, bool) {
	var msErr mssql.Error
	if !errors.As(err, &msErr) {
		return "", false
	}
	switch msErr.Number {
	case 1205:
		return apperror.ReasonDeadlock, true
	case 1222:
		return apperror.ReasonLock, true
	case 3960, 3961: // snapshot update conflict
		return apperror.ReasonSerialization, true
	case 2627, 2601, 547:
		return apperror.ReasonConstraint, true
	}
	return apperror.ReasonIO, true
}
