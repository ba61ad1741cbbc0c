package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"unitwork/internal/core/tx"
	"unitwork/internal/infrastructure/storage/sqlbuild"
)

var tracer = otel.Tracer("unitwork/postgres")

var _ tx.Backend = (*Backend)(nil)

// beginner is the part of pgxpool.Pool the backend needs.
type beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Backend starts PostgreSQL transactions.
type Backend struct {
	db      beginner
	builder sqlbuild.Builder
}

// NewBackend creates a backend over pool.
func NewBackend(pool *Pool) *Backend {
	return &Backend{db: pool.Pool, builder: sqlbuild.New(squirrel.Dollar)}
}

// Begin opens a transaction. Snapshot maps to REPEATABLE READ, which PostgreSQL
// implements as snapshot isolation with first-updater-wins; ReadUncommitted behaves as
// READ COMMITTED on the server.
func (b *Backend) Begin(ctx context.Context, opts tx.Options) (tx.Tx, error) {
	ctx, span := tracer.Start(ctx, "postgres.begin",
		trace.WithAttributes(
			attribute.String("tx.isolation", opts.Isolation.String()),
			attribute.Bool("tx.read_only", opts.ReadOnly),
		))
	defer span.End()

	pgxOpts := pgx.TxOptions{IsoLevel: isoLevel(opts.Isolation), AccessMode: pgx.ReadWrite}
	if opts.ReadOnly {
		pgxOpts.AccessMode = pgx.ReadOnly
	}

	ptx, err := b.db.BeginTx(ctx, pgxOpts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(fmt.Errorf("begin transaction: %w", err))
	}

	if opts.CommandTimeout > 0 {
		_, err = ptx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.CommandTimeout.Milliseconds()))
		if err != nil {
			_ = ptx.Rollback(context.WithoutCancel(ctx))
			span.SetStatus(codes.Error, err.Error())
			return nil, classify(fmt.Errorf("set statement_timeout: %w", err))
		}
	}

	return &Tx{tx: ptx, builder: b.builder}, nil
}

func isoLevel(level tx.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case tx.ReadUncommitted:
		return pgx.ReadUncommitted
	case tx.RepeatableRead, tx.Snapshot:
		return pgx.RepeatableRead
	case tx.Serializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}
