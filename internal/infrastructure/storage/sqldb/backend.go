package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/tx"
	"unitwork/internal/infrastructure/storage/sqlbuild"
)

var tracer = otel.Tracer("unitwork/sqldb")

var _ tx.Backend = (*Backend)(nil)

// Backend starts transactions on a *sql.DB.
type Backend struct {
	db      *sql.DB
	dialect Dialect
	builder sqlbuild.Builder
}

// New wraps an open database. The caller owns db and closes it.
func New(db *sql.DB, dialect Dialect) *Backend {
	return &Backend{db: db, dialect: dialect, builder: sqlbuild.New(dialect.placeholder)}
}

// Config selects the engine and connection.
type Config struct {
	Dialect Dialect
	DSN     string

	// MaxOpenConns limits the pool; zero keeps the database/sql default.
	MaxOpenConns int
}

// Open opens cfg.DSN with the dialect's driver and pings it.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	db, err := sql.Open(cfg.Dialect.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Dialect.Name, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Dialect.Name, err)
	}
	return New(db, cfg.Dialect), nil
}

// DB returns the underlying handle.
func (b *Backend) DB() *sql.DB { return b.db }

// Dialect returns the engine description.
func (b *Backend) Dialect() Dialect { return b.dialect }

// Close closes the database.
func (b *Backend) Close() error { return b.db.Close() }

// Begin opens a transaction at the dialect's equivalent of opts.Isolation.
func (b *Backend) Begin(ctx context.Context, opts tx.Options) (tx.Tx, error) {
	ctx, span := tracer.Start(ctx, b.dialect.Name+".begin",
		trace.WithAttributes(
			attribute.String("tx.isolation", opts.Isolation.String()),
			attribute.Bool("tx.read_only", opts.ReadOnly),
		))
	defer span.End()

	sqlTx, err := b.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: b.dialect.isolation(opts.Isolation),
		ReadOnly:  opts.ReadOnly && b.dialect.readOnly,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, b.classify(fmt.Errorf("begin transaction: %w", err))
	}
	return &Tx{tx: sqlTx, b: b, opts: opts}, nil
}

// classify wraps a driver error as a storage AppError.
func (b *Backend) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewStorage(apperror.ReasonTimeout, err)
	}
	if reason, ok := b.dialect.classify(err); ok {
		return apperror.NewStorage(reason, err).WithDetail("dialect", b.dialect.Name)
	}
	return apperror.NewStorage(apperror.ReasonIO, err)
}
