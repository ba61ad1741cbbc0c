package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"unitwork/internal/core/tx"
	"unitwork/internal/infrastructure/storage/sqlbuild"
)

var _ tx.Tx = (*Tx)(nil)

// Tx is one PostgreSQL transaction.
type Tx struct {
	tx      pgx.Tx
	builder sqlbuild.Builder
}

// Fetch reads one row by key.
func (t *Tx) Fetch(ctx context.Context, table, keyColumn string, key any) (map[string]any, bool, error) {
	sql, args, err := t.builder.Fetch(table, keyColumn, key)
	if err != nil {
		return nil, false, fmt.Errorf("build fetch: %w", err)
	}

	var row map[string]any
	if err := pgxscan.Get(ctx, t.tx, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, false, nil
		}
		return nil, false, classify(fmt.Errorf("fetch %s: %w", table, err))
	}
	return row, true, nil
}

// Scan reads every row matching filter.
func (t *Tx) Scan(ctx context.Context, table string, filter tx.Filter) ([]map[string]any, error) {
	sql, args, err := t.builder.Scan(table, filter)
	if err != nil {
		return nil, fmt.Errorf("build scan: %w", err)
	}

	var rows []map[string]any
	if err := pgxscan.Select(ctx, t.tx, &rows, sql, args...); err != nil {
		return nil, classify(fmt.Errorf("scan %s: %w", table, err))
	}
	return rows, nil
}

// ExecuteBatch sends every statement in one pgx batch and reads the command tag of
// each in order.
func (t *Tx) ExecuteBatch(ctx context.Context, stmts []tx.Statement) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.batch")
	defer span.End()

	batch := &pgx.Batch{}
	for _, st := range stmts {
		sql, args, err := t.builder.Statement(st)
		if err != nil {
			return nil, fmt.Errorf("build %s %s: %w", st.Kind, st.Table, err)
		}
		batch.Queue(sql, args...)
	}

	results := t.tx.SendBatch(ctx, batch)
	affected := make([]int64, len(stmts))
	for i, st := range stmts {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return nil, classify(fmt.Errorf("%s %s %v: %w", st.Kind, st.Table, st.Key, err))
		}
		affected[i] = tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return nil, classify(fmt.Errorf("close batch: %w", err))
	}
	return affected, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		return classify(fmt.Errorf("rollback transaction: %w", err))
	}
	return nil
}
