package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
	"unitwork/internal/core/uow"
)

type item struct {
	ID       string `db:"id" track:"key"`
	Category string `db:"category"`
	Qty      int64  `db:"qty"`
	Version  int64  `db:"version" track:"version"`
}

const itemDDL = `CREATE TABLE item (
	id       TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	qty      INTEGER NOT NULL,
	version  INTEGER NOT NULL
)`

func openSQLite(t *testing.T) *Backend {
	t.Helper()
	ctx := context.Background()
	b, err := Open(ctx, Config{Dialect: SQLite, DSN: filepath.Join(t.TempDir(), "uow.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = b.DB().ExecContext(ctx, itemDDL)
	require.NoError(t, err)
	return b
}

func newUnit(b *Backend, mapper *schema.Mapper) *uow.UnitOfWork {
	return uow.New(b, mapper, uow.Config{CommandTimeout: 5 * time.Second})
}

func TestSQLite_Backend(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t)

	btx, err := b.Begin(ctx, tx.Options{Isolation: tx.Serializable})
	require.NoError(t, err)
	affected, err := btx.ExecuteBatch(ctx, []tx.Statement{
		{Kind: tx.Insert, Table: "item", KeyColumn: "id", Key: "a",
			Values: map[string]any{"id": "a", "category": "tools", "qty": int64(1), "version": int64(1)}},
		{Kind: tx.Update, Table: "item", KeyColumn: "id", Key: "a",
			Values:      map[string]any{"qty": int64(5), "version": int64(2)},
			TokenColumn: "version", ExpectedToken: int64(7)},
		{Kind: tx.Update, Table: "item", KeyColumn: "id", Key: "a",
			Values:      map[string]any{"qty": int64(2), "version": int64(2)},
			TokenColumn: "version", ExpectedToken: int64(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0, 1}, affected)
	require.NoError(t, btx.Commit(ctx))

	rtx, err := b.Begin(ctx, tx.Options{ReadOnly: true})
	require.NoError(t, err)
	defer func() { _ = rtx.Rollback(ctx) }()

	row, ok, err := rtx.Fetch(ctx, "item", "id", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, row["qty"])
	assert.EqualValues(t, 2, row["version"])

	_, ok, err = rtx.Fetch(ctx, "item", "id", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := rtx.Scan(ctx, "item", tx.Filter{"category": "tools"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLite_Constraint(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t)

	insert := tx.Statement{Kind: tx.Insert, Table: "item", KeyColumn: "id", Key: "a",
		Values: map[string]any{"id": "a", "category": "x", "qty": int64(0), "version": int64(1)}}

	btx, err := b.Begin(ctx, tx.Options{})
	require.NoError(t, err)
	_, err = btx.ExecuteBatch(ctx, []tx.Statement{insert, insert})
	reason, ok := apperror.StorageReasonOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperror.ReasonConstraint, reason)
	require.NoError(t, btx.Rollback(ctx))
}

func TestSQLite_UnitOfWork(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t)
	mapper := schema.NewMapper()

	writer := newUnit(b, mapper)
	require.NoError(t, writer.Add(&item{ID: "a", Category: "tools", Qty: 1}))
	require.NoError(t, writer.SaveChanges(ctx))

	first := newUnit(b, mapper)
	second := newUnit(b, mapper)
	mine, err := uow.Get[item](ctx, first, "a")
	require.NoError(t, err)
	theirs, err := uow.Get[item](ctx, second, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mine.Version)

	theirs.Qty = 10
	require.NoError(t, second.SaveChanges(ctx))
	assert.Equal(t, int64(2), theirs.Version)

	mine.Qty = 20
	err = first.SaveChanges(ctx)
	conflict, ok := apperror.AsConflict(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperror.ConflictRowModified, conflict.Kind)
	assert.EqualValues(t, 10, conflict.ServerValues["qty"])
	assert.Equal(t, int64(20), mine.Qty)

	// Client wins: retry against the server token.
	require.NoError(t, first.SetOriginalToken(mine, conflict.ServerToken))
	require.NoError(t, first.SaveChanges(ctx))
	assert.Equal(t, int64(3), mine.Version)

	require.NoError(t, second.Remove(theirs))
	err = second.SaveChanges(ctx)
	assert.True(t, apperror.IsConflictKind(err, apperror.ConflictRowModified))

	require.NoError(t, second.Reload(ctx, theirs))
	assert.Equal(t, int64(20), theirs.Qty)
	require.NoError(t, second.Remove(theirs))
	require.NoError(t, second.SaveChanges(ctx))

	mine.Qty = 30
	err = first.SaveChanges(ctx)
	assert.True(t, apperror.IsConflictKind(err, apperror.ConflictRowDeleted))
	assert.True(t, apperror.IsNotFound(first.Reload(ctx, mine)))
}

func TestDialectByName(t *testing.T) {
	for name, want := range map[string]string{"sqlite3": "sqlite", "mysql": "mysql", "mssql": "sqlserver"} {
		d, ok := DialectByName(name)
		require.True(t, ok, name)
		assert.Equal(t, want, d.Name)
	}
	_, ok := DialectByName("oracle")
	assert.False(t, ok)
}

func TestIsolation(t *testing.T) {
	assert.Equal(t, sql.LevelDefault, SQLite.isolation(tx.Snapshot))
	assert.Equal(t, sql.LevelRepeatableRead, MySQL.isolation(tx.Snapshot))
	assert.Equal(t, sql.LevelSnapshot, SQLServer.isolation(tx.Snapshot))
	assert.Equal(t, sql.LevelReadCommitted, SQLServer.isolation(tx.ReadCommitted))
	assert.Equal(t, sql.LevelSerializable, MySQL.isolation(tx.Serializable))
	assert.Equal(t, sql.LevelReadUncommitted, MySQL.isolation(tx.ReadUncommitted))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		err     error
		reason  apperror.StorageReason
	}{
		{"mysql deadlock", MySQL, &mysql.MySQLError{Number: 1213}, apperror.ReasonDeadlock},
		{"mysql lock wait", MySQL, &mysql.MySQLError{Number: 1205}, apperror.ReasonLock},
		{"mysql duplicate", MySQL, &mysql.MySQLError{Number: 1062}, apperror.ReasonConstraint},
		{"mysql other", MySQL, &mysql.MySQLError{Number: 1146}, apperror.ReasonIO},
		{"mssql deadlock", SQLServer, mssql.Error{Number: 1205}, apperror.ReasonDeadlock},
		{"mssql snapshot conflict", SQLServer, mssql.Error{Number: 3960}, apperror.ReasonSerialization},
		{"mssql lock timeout", SQLServer, mssql.Error{Number: 1222}, apperror.ReasonLock},
		{"mssql unique", SQLServer, mssql.Error{Number: 2627}, apperror.ReasonConstraint},
		{"deadline", SQLite, fmt.Errorf("exec: %w", context.DeadlineExceeded), apperror.ReasonTimeout},
		{"unknown", SQLite, errors.New("disk I/O error"), apperror.ReasonIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Backend{dialect: tt.dialect}
			err := b.classify(fmt.Errorf("wrapped: %w", tt.err))
			reason, ok := apperror.StorageReasonOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
