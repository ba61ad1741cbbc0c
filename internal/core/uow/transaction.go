package uow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/concurrency"
	"unitwork/internal/core/id"
	"unitwork/internal/core/journal"
	"unitwork/internal/core/tracking"
	"unitwork/internal/core/tx"
	"unitwork/internal/metrics"
)

// Status of a Transaction.
type Status int

const (
	Idle Status = iota
	Active
	Committed
	RolledBack
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Transaction wraps one commit. It is never reused after Committed or RolledBack.
type Transaction struct {
	id      id.ID
	u       *UnitOfWork
	level   tx.IsolationLevel
	backend tx.Tx
	status  Status
	started time.Time
}

// ID identifies the transaction.
func (t *Transaction) ID() id.ID { return t.id }

// Isolation returns the level the transaction was begun with.
func (t *Transaction) Isolation() tx.IsolationLevel { return t.level }

// Status returns the current state.
func (t *Transaction) Status() Status { return t.status }

// Commit commits t; see UnitOfWork.Commit.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.checkCurrent(); err != nil {
		return err
	}
	return t.u.Commit(ctx)
}

// Rollback rolls t back; see UnitOfWork.Rollback.
func (t *Transaction) Rollback(ctx context.Context) error {
	if err := t.checkCurrent(); err != nil {
		return err
	}
	return t.u.Rollback(ctx)
}

func (t *Transaction) checkCurrent() error {
	if t.status != Active || t.u.current != t {
		return apperror.NewTransactionClosed(t.id.String(), t.status.String())
	}
	return nil
}

// Begin starts a backend transaction at level. Only one transaction may be active.
func (u *UnitOfWork) Begin(ctx context.Context, level tx.IsolationLevel) (*Transaction, error) {
	if u.current != nil {
		return nil, apperror.NewAlreadyActive(u.current.id.String())
	}

	ctx, span := tracer.Start(u.scope(ctx), "uow.begin",
		trace.WithAttributes(attribute.String("uow.isolation", level.String())))
	defer span.End()

	btx, err := u.backend.Begin(ctx, tx.Options{Isolation: level, CommandTimeout: u.cfg.CommandTimeout})
	if err != nil {
		err = asStorage(err)
		recordError(span, err)
		u.logger(ctx).Errorw("begin failed", "isolation", level.String(), "error", err)
		return nil, err
	}

	t := &Transaction{
		id:      id.New(),
		u:       u,
		level:   level,
		backend: btx,
		status:  Active,
		started: u.cfg.Clock(),
	}
	u.current = t
	u.cfg.Metrics.TransactionStarted()
	u.logger(ctx).Debugw("transaction started")
	return t, nil
}

// Current returns the active transaction, or nil.
func (u *UnitOfWork) Current() *Transaction { return u.current }

// Commit drains the pending operations, executes them as one batch inside the active
// backend transaction and validates every token-predicated write. Any conflict or
// storage error rolls the whole batch back and leaves tracked entities untouched, so
// the caller can resolve and retry. On success new tokens are written into the
// entities and the tracker accepts the changes.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	t := u.current
	if t == nil {
		return apperror.NewNoActiveTransaction()
	}

	ctx, span := tracer.Start(u.scope(ctx), "uow.commit",
		trace.WithAttributes(attribute.String("uow.isolation", t.level.String())))
	defer span.End()

	writes, err := u.plan()
	if err != nil {
		return u.abort(ctx, span, t, err, metrics.OutcomeError)
	}
	span.SetAttributes(attribute.Int("uow.operations", len(writes)))

	stmts := concurrency.Statements(writes)
	if u.cfg.Journal != nil {
		jstmts, err := u.journalStatements(writes)
		if err != nil {
			return u.abort(ctx, span, t, err, metrics.OutcomeError)
		}
		stmts = append(stmts, jstmts...)
	}

	if len(stmts) > 0 {
		affected, err := t.backend.ExecuteBatch(ctx, stmts)
		if err != nil {
			return u.abort(ctx, span, t, asStorage(err), metrics.OutcomeError)
		}
		if len(affected) < len(stmts) {
			return u.abort(ctx, span, t,
				fmt.Errorf("backend reported %d results for %d statements", len(affected), len(stmts)), metrics.OutcomeError)
		}
		if err := concurrency.Check(ctx, t.backend, writes, affected[:len(writes)]); err != nil {
			if conflict, ok := apperror.AsConflict(err); ok {
				u.cfg.Metrics.Conflict(string(conflict.Kind))
				u.logger(ctx).Warnw("concurrency conflict",
					"kind", conflict.Kind, "entity", conflict.EntityType, "key", conflict.Key)
				return u.abort(ctx, span, t, err, metrics.OutcomeConflict)
			}
			return u.abort(ctx, span, t, asStorage(err), metrics.OutcomeError)
		}
	}

	if err := t.backend.Commit(ctx); err != nil {
		// The backend releases its transaction when commit fails.
		err = asStorage(err)
		recordError(span, err)
		u.logger(ctx).Errorw("backend commit failed", "error", err)
		u.finish(t, RolledBack, metrics.OutcomeError)
		return err
	}

	for _, w := range writes {
		u.cfg.Metrics.Operation(w.Statement.Kind.String())
		if w.NextToken == nil {
			continue
		}
		if err := w.Op.Entry.EntityType().SetToken(w.Op.Entity(), w.NextToken); err != nil {
			// The data is committed; only the in-memory token could not be stored.
			u.logger(ctx).Errorw("store new token", "identity", w.Op.Identity().String(), "error", err)
		}
	}
	u.tracker.AcceptChanges()

	span.SetAttributes(attribute.String("uow.outcome", Committed.String()))
	u.logger(ctx).Debugw("transaction committed", "operations", len(writes))
	u.finish(t, Committed, metrics.OutcomeCommitted)
	return nil
}

// Rollback abandons the active transaction. Tracked entities keep their current values.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	t := u.current
	if t == nil {
		return apperror.NewNoActiveTransaction()
	}

	ctx, span := tracer.Start(u.scope(ctx), "uow.rollback",
		trace.WithAttributes(attribute.String("uow.isolation", t.level.String())))
	defer span.End()

	err := t.backend.Rollback(context.WithoutCancel(ctx))
	u.finish(t, RolledBack, metrics.OutcomeRolledBack)
	if err != nil {
		err = apperror.NewRollbackFailed(err)
		recordError(span, err)
		u.logger(ctx).Errorw("rollback failed", "error", err)
		return err
	}
	u.logger(ctx).Debugw("transaction rolled back")
	return nil
}

// RunInTransaction runs fn inside a transaction at level and commits when fn returns
// nil. An error or panic from fn rolls back.
func (u *UnitOfWork) RunInTransaction(ctx context.Context, level tx.IsolationLevel, fn func(ctx context.Context) error) error {
	t, err := u.Begin(ctx, level)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if u.current == t {
				_ = u.Rollback(ctx)
			}
			panic(p)
		}
	}()

	if fnErr := fn(ctx); fnErr != nil {
		if u.current != t {
			return fnErr
		}
		if rbErr := u.Rollback(ctx); rbErr != nil {
			return errors.Join(fnErr, rbErr)
		}
		return fnErr
	}
	if u.current != t {
		// fn finished the transaction itself.
		return nil
	}
	return u.Commit(ctx)
}

// SaveChanges commits all pending changes in a transaction at the default isolation.
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	return u.RunInTransaction(ctx, u.cfg.DefaultIsolation, func(context.Context) error { return nil })
}

func (u *UnitOfWork) plan() ([]concurrency.Write, error) {
	var writes []concurrency.Write
	for op := range u.tracker.PendingOperations() {
		w, err := concurrency.Plan(op)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}
	return writes, nil
}

func (u *UnitOfWork) journalStatements(writes []concurrency.Write) ([]tx.Statement, error) {
	now := u.cfg.Clock()
	stmts := make([]tx.Statement, 0, len(writes))
	for _, w := range writes {
		ident := w.Op.Identity()
		var oldValues, newValues map[string]any
		switch w.Op.State {
		case tracking.Added:
			newValues = w.Statement.Values
		case tracking.Modified:
			oldValues = w.Op.Entry.Original()
			merged := w.Op.Entry.Original()
			for col, v := range w.Statement.Values {
				merged[col] = v
			}
			newValues = merged
		case tracking.Deleted:
			oldValues = w.Op.Entry.Original()
		}

		_, st, err := u.cfg.Journal.Record(u.id.String(), ident.Type, ident.Key,
			journal.ActionOf(w.Statement.Kind), oldValues, newValues, now)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

// abort rolls the backend transaction back after a failed commit and returns cause.
// A failed rollback is logged and joined to cause.
func (u *UnitOfWork) abort(ctx context.Context, span trace.Span, t *Transaction, cause error, outcome string) error {
	recordError(span, cause)
	if !apperror.IsConflict(cause) {
		u.logger(ctx).Errorw("commit failed", "error", cause)
	}

	rbErr := t.backend.Rollback(context.WithoutCancel(ctx))
	u.finish(t, RolledBack, outcome)
	if rbErr != nil {
		u.logger(ctx).Errorw("rollback after failed commit failed", "error", rbErr, "original_error", cause)
		return errors.Join(cause, apperror.NewRollbackFailed(rbErr))
	}
	return cause
}

func (u *UnitOfWork) finish(t *Transaction, status Status, outcome string) {
	t.status = status
	if u.current == t {
		u.current = nil
	}
	u.cfg.Metrics.TransactionFinished(outcome, t.level.String(), u.cfg.Clock().Sub(t.started))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// asStorage makes sure backend failures surface as storage errors.
func asStorage(err error) error {
	if err == nil {
		return nil
	}
	if apperror.IsAppError(err) || apperror.IsConflict(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewStorage(apperror.ReasonTimeout, err)
	}
	return apperror.NewStorage(apperror.ReasonIO, err)
}
