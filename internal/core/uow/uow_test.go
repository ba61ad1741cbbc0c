package uow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/journal"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tracking"
	"unitwork/internal/core/tx"
	"unitwork/internal/infrastructure/storage/memory"
)

type item struct {
	ID       string `db:"id" track:"key"`
	Category string `db:"category"`
	Qty      int64  `db:"qty"`
	Version  int64  `db:"version" track:"version"`
}

type label struct {
	ID   string `db:"id"`
	Text string `db:"text"`
}

type recorder struct {
	mu        sync.Mutex
	started   int
	outcomes  []string
	ops       map[string]int
	conflicts []string
}

func (r *recorder) TransactionStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) TransactionFinished(outcome, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorder) Operation(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = make(map[string]int)
	}
	r.ops[kind]++
}

func (r *recorder) Conflict(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, kind)
}

func row(id, category string, qty, version int64) map[string]any {
	return map[string]any{"id": id, "category": category, "qty": qty, "version": version}
}

func newBackend(t *testing.T, opts ...memory.Option) *memory.Backend {
	t.Helper()
	b, err := memory.New(opts...)
	require.NoError(t, err)
	b.Load("item", "id",
		row("a", "tools", 1, 1),
		row("b", "tools", 2, 1),
		row("c", "food", 3, 1),
		row("d", "food", 4, 1),
		row("e", "food", 5, 1),
	)
	return b
}

func newUnit(b tx.Backend, cfg Config) *UnitOfWork {
	return New(b, schema.NewMapper(), cfg)
}

func stored(t *testing.T, b *memory.Backend, key string) map[string]any {
	t.Helper()
	for _, r := range b.Rows("item") {
		if r["id"] == key {
			return r
		}
	}
	return nil
}

func TestBegin_StateMachine(t *testing.T) {
	ctx := context.Background()
	u := newUnit(newBackend(t), Config{})

	assert.True(t, apperror.HasCode(u.Commit(ctx), apperror.CodeNoActiveTransaction))
	assert.True(t, apperror.HasCode(u.Rollback(ctx), apperror.CodeNoActiveTransaction))

	trx, err := u.Begin(ctx, tx.Serializable)
	require.NoError(t, err)
	assert.Equal(t, Active, trx.Status())
	assert.Equal(t, tx.Serializable, trx.Isolation())
	assert.Same(t, trx, u.Current())

	_, err = u.Begin(ctx, tx.ReadCommitted)
	assert.True(t, apperror.IsAlreadyActive(err))

	require.NoError(t, trx.Commit(ctx))
	assert.Equal(t, Committed, trx.Status())
	assert.Nil(t, u.Current())

	// A finished transaction is never reused, even while another one is active.
	next, err := u.Begin(ctx, tx.ReadCommitted)
	require.NoError(t, err)
	assert.True(t, apperror.IsTransactionClosed(trx.Commit(ctx)))
	assert.True(t, apperror.IsTransactionClosed(trx.Rollback(ctx)))
	require.NoError(t, next.Rollback(ctx))
	assert.Equal(t, RolledBack, next.Status())
}

func TestCommit_UnchangedEntitiesWriteNothing(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	u := newUnit(newBackend(t), Config{Metrics: rec})

	items, err := Find[item](ctx, u, nil)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for _, it := range items {
		assert.Equal(t, tracking.Unchanged, u.StateOf(it))
	}
	assert.False(t, u.HasChanges())

	require.NoError(t, u.SaveChanges(ctx))
	assert.Empty(t, rec.ops)

	items[1].Qty = 20
	assert.True(t, u.HasChanges())
	require.NoError(t, u.SaveChanges(ctx))
	assert.Equal(t, map[string]int{"update": 1}, rec.ops)
}

func TestCommit_InsertCarriesEveryField(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	rec := &recorder{}
	u := newUnit(b, Config{Metrics: rec})

	it := &item{ID: "f", Category: "toys", Qty: 9}
	require.NoError(t, u.Add(it))
	assert.Equal(t, tracking.Added, u.StateOf(it))

	require.NoError(t, u.SaveChanges(ctx))

	assert.Equal(t, row("f", "toys", 9, 1), stored(t, b, "f"))
	assert.Equal(t, int64(1), it.Version)
	assert.Equal(t, tracking.Unchanged, u.StateOf(it))
	assert.Equal(t, map[string]int{"insert": 1}, rec.ops)
	assert.Equal(t, []string{"committed"}, rec.outcomes)
}

func TestCommit_UpdateAdvancesToken(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	u := newUnit(b, Config{})

	it, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	it.Qty = 100

	require.NoError(t, u.SaveChanges(ctx))
	assert.Equal(t, row("a", "tools", 100, 2), stored(t, b, "a"))
	assert.Equal(t, int64(2), it.Version)

	snap, err := u.Original(it)
	require.NoError(t, err)
	assert.Equal(t, int64(100), snap["qty"])
	assert.Equal(t, int64(2), snap["version"])

	// Second round trip uses the new token.
	it.Qty = 101
	require.NoError(t, u.SaveChanges(ctx))
	assert.Equal(t, int64(3), stored(t, b, "a")["version"])
}

func TestCommit_DeleteDetaches(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	u := newUnit(b, Config{})

	it, err := Get[item](ctx, u, "b")
	require.NoError(t, err)
	require.NoError(t, u.Remove(it))
	assert.Equal(t, tracking.Deleted, u.StateOf(it))

	require.NoError(t, u.SaveChanges(ctx))
	assert.Nil(t, stored(t, b, "b"))
	assert.Equal(t, tracking.Detached, u.StateOf(it))

	_, err = Get[item](ctx, u, "b")
	assert.True(t, apperror.IsNotFound(err))
}

func TestCommit_RowModifiedConflict(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	rec := &recorder{}
	writerA := newUnit(b, Config{Metrics: rec})
	writerB := newUnit(b, Config{})

	a, err := Get[item](ctx, writerA, "c")
	require.NoError(t, err)
	bItem, err := Get[item](ctx, writerB, "c")
	require.NoError(t, err)

	bItem.Qty = 30
	require.NoError(t, writerB.SaveChanges(ctx))

	a.Qty = 300
	err = writerA.SaveChanges(ctx)
	require.Error(t, err)

	conflict, ok := apperror.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, apperror.ConflictRowModified, conflict.Kind)
	assert.Equal(t, "item", conflict.EntityType)
	assert.Equal(t, "c", conflict.Key)
	assert.Equal(t, int64(300), conflict.ClientValues["qty"])
	assert.Equal(t, int64(30), conflict.ServerValues["qty"])
	assert.Equal(t, int64(1), conflict.ClientToken)
	assert.Equal(t, int64(2), conflict.ServerToken)

	// Nothing in memory changed, so the caller can resolve and retry.
	assert.Equal(t, int64(300), a.Qty)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, tracking.Modified, writerA.StateOf(a))
	assert.Equal(t, []string{"row_modified"}, rec.conflicts)
	assert.Equal(t, []string{"conflict"}, rec.outcomes)
	assert.Equal(t, int64(30), stored(t, b, "c")["qty"])
	assert.Equal(t, 0, b.Active())
}

func TestCommit_RowDeletedConflict(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	writerA := newUnit(b, Config{})
	writerB := newUnit(b, Config{})

	a, err := Get[item](ctx, writerA, "d")
	require.NoError(t, err)
	bItem, err := Get[item](ctx, writerB, "d")
	require.NoError(t, err)

	require.NoError(t, writerB.Remove(bItem))
	require.NoError(t, writerB.SaveChanges(ctx))

	a.Qty = 40
	err = writerA.SaveChanges(ctx)
	assert.True(t, apperror.IsConflictKind(err, apperror.ConflictRowDeleted))
	conflict, _ := apperror.AsConflict(err)
	assert.Nil(t, conflict.ServerValues)
	assert.Equal(t, int64(40), conflict.ClientValues["qty"])

	// Store wins: the deleted row detaches the entity.
	err = writerA.Reload(ctx, a)
	assert.True(t, apperror.IsNotFound(err))
	assert.Equal(t, tracking.Detached, writerA.StateOf(a))
}

func TestCommit_AtomicBatch(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	writerA := newUnit(b, Config{})
	writerB := newUnit(b, Config{})

	items, err := Find[item](ctx, writerA, nil)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for _, it := range items {
		it.Qty *= 10
	}

	third, err := Get[item](ctx, writerB, "c")
	require.NoError(t, err)
	third.Qty = -1
	require.NoError(t, writerB.SaveChanges(ctx))

	err = writerA.SaveChanges(ctx)
	conflict, ok := apperror.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, "c", conflict.Key)

	// None of the five writes is visible.
	for key, qty := range map[string]int64{"a": 1, "b": 2, "c": -1, "d": 4, "e": 5} {
		assert.Equal(t, qty, stored(t, b, key)["qty"], key)
	}
	for _, it := range items {
		assert.Equal(t, int64(1), it.Version)
		assert.Equal(t, tracking.Modified, writerA.StateOf(it))
	}

	// Client wins: retry against the server's token.
	require.NoError(t, writerA.SetOriginalToken(items[2], conflict.ServerToken))
	require.NoError(t, writerA.SaveChanges(ctx))

	for key, qty := range map[string]int64{"a": 10, "b": 20, "c": 30, "d": 40, "e": 50} {
		assert.Equal(t, qty, stored(t, b, key)["qty"], key)
	}
	assert.Equal(t, int64(3), items[2].Version)
	assert.Equal(t, int64(2), items[0].Version)
}

func TestReload_StoreWins(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	writerA := newUnit(b, Config{})
	writerB := newUnit(b, Config{})

	a, err := Get[item](ctx, writerA, "e")
	require.NoError(t, err)
	other, err := Get[item](ctx, writerB, "e")
	require.NoError(t, err)
	other.Category = "garden"
	require.NoError(t, writerB.SaveChanges(ctx))

	a.Qty = 500
	require.True(t, apperror.IsConflict(writerA.SaveChanges(ctx)))

	require.NoError(t, writerA.Reload(ctx, a))
	assert.Equal(t, "garden", a.Category)
	assert.Equal(t, int64(5), a.Qty)
	assert.Equal(t, int64(2), a.Version)
	assert.Equal(t, tracking.Unchanged, writerA.StateOf(a))

	a.Qty = 6
	require.NoError(t, writerA.SaveChanges(ctx))
	assert.Equal(t, row("e", "garden", 6, 3), stored(t, b, "e"))
}

func TestRollback_KeepsInMemoryValues(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	u := newUnit(b, Config{})

	_, err := u.Begin(ctx, tx.RepeatableRead)
	require.NoError(t, err)
	it, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	it.Qty = 77

	require.NoError(t, u.Rollback(ctx))
	assert.Equal(t, int64(77), it.Qty)
	assert.Equal(t, tracking.Modified, u.StateOf(it))
	assert.Equal(t, int64(1), stored(t, b, "a")["qty"])
	assert.Equal(t, 0, b.Active())

	require.NoError(t, u.SaveChanges(ctx))
	assert.Equal(t, int64(77), stored(t, b, "a")["qty"])
}

func TestCommit_StorageErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("device not ready")
	b := newBackend(t, memory.WithFaults(memory.Faults{
		Statement: func(st tx.Statement) error {
			if st.Key == "bad" {
				return boom
			}
			return nil
		},
	}))
	rec := &recorder{}
	u := newUnit(b, Config{Metrics: rec})

	good := &item{ID: "good"}
	bad := &item{ID: "bad"}
	require.NoError(t, u.Add(good))
	require.NoError(t, u.Add(bad))

	err := u.SaveChanges(ctx)
	require.ErrorIs(t, err, boom)
	reason, ok := apperror.StorageReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.ReasonIO, reason)
	assert.False(t, apperror.IsRollbackFailed(err))

	assert.Nil(t, stored(t, b, "good"))
	assert.Equal(t, 0, b.Active())
	assert.Equal(t, tracking.Added, u.StateOf(good))
	assert.Equal(t, int64(0), good.Version)
	assert.Equal(t, []string{"error"}, rec.outcomes)
}

func TestCommit_FailedRollbackIsReported(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, memory.WithFaults(memory.Faults{
		Statement: func(tx.Statement) error { return errors.New("write failed") },
		Rollback:  func() error { return errors.New("connection lost") },
	}))
	u := newUnit(b, Config{})
	require.NoError(t, u.Add(&item{ID: "x"}))

	err := u.SaveChanges(ctx)
	require.Error(t, err)
	assert.True(t, apperror.IsStorage(err))
	assert.True(t, apperror.IsRollbackFailed(err))
	assert.Nil(t, u.Current())
}

func TestCommit_RejectsKeyChange(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	u := newUnit(b, Config{})

	it, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	it.ID = "z"

	err = u.SaveChanges(ctx)
	assert.True(t, apperror.HasCode(err, apperror.CodeKeyModified), "got %v", err)
	assert.Equal(t, row("a", "tools", 1, 1), stored(t, b, "a"))
	assert.Nil(t, stored(t, b, "z"))
	assert.Nil(t, u.Current())
}

// shortBatch drops the last affected-row count of every batch.
type shortBatch struct{ tx.Backend }

func (b shortBatch) Begin(ctx context.Context, opts tx.Options) (tx.Tx, error) {
	t, err := b.Backend.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return shortBatchTx{t}, nil
}

type shortBatchTx struct{ tx.Tx }

func (t shortBatchTx) ExecuteBatch(ctx context.Context, stmts []tx.Statement) ([]int64, error) {
	affected, err := t.Tx.ExecuteBatch(ctx, stmts)
	if len(affected) > 0 {
		affected = affected[:len(affected)-1]
	}
	return affected, err
}

func TestCommit_RejectsMissingJournalResult(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	j, err := journal.New()
	require.NoError(t, err)
	u := newUnit(shortBatch{b}, Config{Journal: j})

	it, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	it.Qty = 9

	err = u.SaveChanges(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 results for 2 statements")
	assert.Equal(t, int64(1), stored(t, b, "a")["qty"])
	assert.Empty(t, b.Rows(j.Table()))
	assert.Nil(t, u.Current())
}

func TestAttach_Nil(t *testing.T) {
	u := newUnit(newBackend(t), Config{})
	assert.True(t, apperror.HasCode(u.Attach(nil), apperror.CodeUnmappedType))
	assert.True(t, apperror.HasCode(u.Add(nil), apperror.CodeUnmappedType))
	assert.True(t, apperror.HasCode(u.Update(nil), apperror.CodeUnmappedType))
}

func TestCommit_TimeoutSurfacesAsStorageError(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, memory.WithLatency(100*time.Millisecond))
	u := newUnit(b, Config{CommandTimeout: 5 * time.Millisecond})

	require.NoError(t, u.Add(&item{ID: "slow"}))
	err := u.SaveChanges(ctx)
	reason, ok := apperror.StorageReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.ReasonTimeout, reason)
}

func TestSerializable_BlocksPhantomInsert(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	reader := newUnit(b, Config{})
	writer := newUnit(b, Config{})

	_, err := reader.Begin(ctx, tx.Serializable)
	require.NoError(t, err)
	tools, err := Find[item](ctx, reader, tx.Filter{"category": "tools"})
	require.NoError(t, err)
	require.Len(t, tools, 2)

	phantom := &item{ID: "p", Category: "tools"}
	require.NoError(t, writer.Add(phantom))
	err = writer.SaveChanges(ctx)
	reason, ok := apperror.StorageReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.ReasonSerialization, reason)
	assert.Equal(t, tracking.Added, writer.StateOf(phantom))

	require.NoError(t, reader.Commit(ctx))
	require.NoError(t, writer.SaveChanges(ctx))
	assert.NotNil(t, stored(t, b, "p"))
}

func TestRepeatableRead_FailsConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	reader := newUnit(b, Config{})
	writer := newUnit(b, Config{})

	_, err := reader.Begin(ctx, tx.RepeatableRead)
	require.NoError(t, err)
	_, err = Get[item](ctx, reader, "a")
	require.NoError(t, err)

	it, err := Get[item](ctx, writer, "a")
	require.NoError(t, err)
	it.Qty = 11
	err = writer.SaveChanges(ctx)
	reason, _ := apperror.StorageReasonOf(err)
	assert.Equal(t, apperror.ReasonLock, reason)

	require.NoError(t, reader.Rollback(ctx))
	require.NoError(t, writer.SaveChanges(ctx))
}

func TestSnapshot_FirstCommitterWins(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	first := newUnit(b, Config{DefaultIsolation: tx.Snapshot})
	second := newUnit(b, Config{DefaultIsolation: tx.Snapshot})

	_, err := first.Begin(ctx, tx.Snapshot)
	require.NoError(t, err)
	_, err = second.Begin(ctx, tx.Snapshot)
	require.NoError(t, err)

	x, err := Get[item](ctx, first, "b")
	require.NoError(t, err)
	y, err := Get[item](ctx, second, "b")
	require.NoError(t, err)
	x.Qty = 21
	y.Qty = 22

	require.NoError(t, first.Commit(ctx))
	err = second.Commit(ctx)
	reason, _ := apperror.StorageReasonOf(err)
	assert.Equal(t, apperror.ReasonSerialization, reason)
	assert.Equal(t, int64(21), stored(t, b, "b")["qty"])
}

func TestGet_IdentityResolution(t *testing.T) {
	ctx := context.Background()
	u := newUnit(newBackend(t), Config{})

	first, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	first.Qty = 99

	again, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	assert.Same(t, first, again)

	tools, err := Find[item](ctx, u, tx.Filter{"category": "tools"})
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Same(t, first, tools[0])
	assert.Equal(t, int64(99), tools[0].Qty)

	plain, err := FindNoTracking[item](ctx, u, tx.Filter{"category": "food"})
	require.NoError(t, err)
	require.Len(t, plain, 3)
	assert.Equal(t, tracking.Detached, u.StateOf(plain[0]))

	entries := u.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, tracking.Identity{Type: "item", Key: "a"}, entries[0].Identity)
	assert.Equal(t, tracking.Modified, entries[0].State)
	assert.Equal(t, tracking.Unchanged, entries[1].State)

	_, err = Get[item](ctx, u, "zzz")
	assert.True(t, apperror.IsNotFound(err))
}

func TestAttachAndDetach(t *testing.T) {
	ctx := context.Background()
	b, err := memory.New()
	require.NoError(t, err)
	b.Load("label", "id", map[string]any{"id": "l1", "text": "old"})
	u := newUnit(b, Config{})

	l := &label{ID: "l1", Text: "old"}
	require.NoError(t, u.Attach(l))
	assert.True(t, apperror.IsDuplicateIdentity(u.Attach(&label{ID: "l1"})))

	l.Text = "new"
	require.NoError(t, u.SaveChanges(ctx))
	assert.Equal(t, "new", b.Rows("label")[0]["text"])

	u.Detach(l)
	u.Detach(l)
	assert.Equal(t, tracking.Detached, u.StateOf(l))
	assert.True(t, apperror.IsNotAttached(u.Remove(l)))
	assert.True(t, apperror.IsNotAttached(u.SetOriginalToken(l, 1)))
}

func TestRunInTransaction(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	u := newUnit(b, Config{})
	fail := errors.New("validation failed")

	err := u.RunInTransaction(ctx, tx.Serializable, func(ctx context.Context) error {
		it, err := Get[item](ctx, u, "a")
		if err != nil {
			return err
		}
		it.Qty = 1000
		return fail
	})
	assert.ErrorIs(t, err, fail)
	assert.Nil(t, u.Current())
	assert.Equal(t, int64(1), stored(t, b, "a")["qty"])

	err = u.RunInTransaction(ctx, tx.ReadCommitted, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored(t, b, "a")["qty"])

	assert.Panics(t, func() {
		_ = u.RunInTransaction(ctx, tx.ReadCommitted, func(context.Context) error { panic("boom") })
	})
	assert.Nil(t, u.Current())
	assert.Equal(t, 0, b.Active())
}

func TestJournal_RecordsCommittedChanges(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	j, err := journal.New()
	require.NoError(t, err)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	u := newUnit(b, Config{Journal: j, Clock: func() time.Time { return at }})

	it, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	it.Qty = 2
	require.NoError(t, u.Add(&item{ID: "n", Category: "new"}))
	require.NoError(t, u.SaveChanges(ctx))

	rows := b.Rows(j.Table())
	require.Len(t, rows, 2)

	var update journal.Entry
	require.NoError(t, j.EntityType().Assign(&update, rows[0]))
	assert.Equal(t, u.ID().String(), update.UnitID)
	assert.Equal(t, "item", update.EntityType)
	assert.Equal(t, "a", update.EntityKey)
	assert.Equal(t, journal.ActionUpdate, update.Action)
	assert.Equal(t, at, update.CreatedAt)

	changes, err := j.Decode(update)
	require.NoError(t, err)
	assert.Equal(t, journal.Change{Old: float64(1), New: float64(2)}, changes["qty"])
	assert.Equal(t, journal.Change{Old: float64(1), New: float64(2)}, changes["version"])
	assert.NotContains(t, changes, "category")

	var insert journal.Entry
	require.NoError(t, j.EntityType().Assign(&insert, rows[1]))
	assert.Equal(t, journal.ActionInsert, insert.Action)

	// A failed commit leaves no journal rows behind.
	other := newUnit(b, Config{Journal: j})
	stale, err := Get[item](ctx, other, "b")
	require.NoError(t, err)
	fresh := newUnit(b, Config{})
	current, err := Get[item](ctx, fresh, "b")
	require.NoError(t, err)
	current.Qty = 0
	require.NoError(t, fresh.SaveChanges(ctx))

	stale.Qty = 7
	assert.True(t, apperror.IsConflict(other.SaveChanges(ctx)))
	assert.Len(t, b.Rows(j.Table()), 2)
}

func TestPendingOperations_SingleCommitDrain(t *testing.T) {
	ctx := context.Background()
	u := newUnit(newBackend(t), Config{})

	it, err := Get[item](ctx, u, "a")
	require.NoError(t, err)
	it.Qty = 5

	seq := u.Tracker().PendingOperations()
	var n int
	for range seq {
		n++
	}
	assert.Equal(t, 1, n)
	for range seq {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestUpdate_DetachedEntity(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	u := newUnit(b, Config{})
	fresh := &item{ID: "a", Category: "tools", Qty: 9, Version: 1}
	require.NoError(t, u.Update(fresh))
	assert.Equal(t, tracking.Modified, u.StateOf(fresh))
	require.NoError(t, u.SaveChanges(ctx))
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, int64(9), stored(t, b, "a")["qty"])

	stale := &item{ID: "a", Category: "tools", Qty: 3, Version: 1}
	other := newUnit(b, Config{})
	require.NoError(t, other.Update(stale))
	err := other.SaveChanges(ctx)
	assert.True(t, apperror.IsConflictKind(err, apperror.ConflictRowModified))
	assert.Equal(t, int64(9), stored(t, b, "a")["qty"])

	assert.True(t, apperror.IsDuplicateIdentity(other.Update(&item{ID: "a"})))
}
