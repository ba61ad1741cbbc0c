package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"

	"unitwork/internal/core/tx"
)

var _ tx.Tx = (*Tx)(nil)

// Tx is one database/sql transaction. Each statement runs under its own
// CommandTimeout deadline.
type Tx struct {
	tx   *sql.Tx
	b    *Backend
	opts tx.Options
}

func (t *Tx) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.opts.CommandTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.opts.CommandTimeout)
}

// Fetch reads one row by key.
func (t *Tx) Fetch(ctx context.Context, table, keyColumn string, key any) (map[string]any, bool, error) {
	query, args, err := t.b.builder.Fetch(table, keyColumn, key)
	if err != nil {
		return nil, false, fmt.Errorf("build fetch: %w", err)
	}

	ctx, cancel := t.statementContext(ctx)
	defer cancel()

	var row map[string]any
	if err := sqlscan.Get(ctx, t.tx, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, false, nil
		}
		return nil, false, t.b.classify(fmt.Errorf("fetch %s: %w", table, err))
	}
	return row, true, nil
}

// Scan reads every row matching filter.
func (t *Tx) Scan(ctx context.Context, table string, filter tx.Filter) ([]map[string]any, error) {
	query, args, err := t.b.builder.Scan(table, filter)
	if err != nil {
		return nil, fmt.Errorf("build scan: %w", err)
	}

	ctx, cancel := t.statementContext(ctx)
	defer cancel()

	var rows []map[string]any
	if err := sqlscan.Select(ctx, t.tx, &rows, query, args...); err != nil {
		return nil, t.b.classify(fmt.Errorf("scan %s: %w", table, err))
	}
	return rows, nil
}

// ExecuteBatch runs the statements one by one; database/sql has no batch protocol.
// The first failure stops the batch.
func (t *Tx) ExecuteBatch(ctx context.Context, stmts []tx.Statement) ([]int64, error) {
	ctx, span := tracer.Start(ctx, t.b.dialect.Name+".batch")
	defer span.End()

	affected := make([]int64, len(stmts))
	for i, st := range stmts {
		n, err := t.exec(ctx, st)
		if err != nil {
			return nil, err
		}
		affected[i] = n
	}
	return affected, nil
}

func (t *Tx) exec(ctx context.Context, st tx.Statement) (int64, error) {
	query, args, err := t.b.builder.Statement(st)
	if err != nil {
		return 0, fmt.Errorf("build %s %s: %w", st.Kind, st.Table, err)
	}

	ctx, cancel := t.statementContext(ctx)
	defer cancel()

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, t.b.classify(fmt.Errorf("%s %s %v: %w", st.Kind, st.Table, st.Key, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, t.b.classify(fmt.Errorf("rows affected: %w", err))
	}
	return n, nil
}

func (t *Tx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return t.b.classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return t.b.classify(fmt.Errorf("rollback transaction: %w", err))
	}
	return nil
}
