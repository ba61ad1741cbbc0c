package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/concurrency"
	"unitwork/internal/core/tx"
)

var _ tx.Tx = (*Tx)(nil)

// Tx is one memory transaction. Writes go to a private overlay that is applied to the
// committed tables in one step on Commit.
type Tx struct {
	id    string
	b     *Backend
	opts  tx.Options
	start uint64

	snapshot map[string]*table
	overlay  map[rowID]map[string]any // nil row means deleted
	writes   []rowID

	locked     []rowID
	read       []rowID
	predicates []*predicate

	done    bool
	outcome string
}

// ID identifies the transaction in lock errors.
func (t *Tx) ID() string { return t.id }

// Fetch implements tx.Reader.
func (t *Tx) Fetch(ctx context.Context, tableName, _ string, key any) (map[string]any, bool, error) {
	if err := t.wait(ctx); err != nil {
		return nil, false, err
	}

	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, false, err
	}

	rid := rowID{table: tableName, key: key}
	if err := t.lockForRead(rid); err != nil {
		return nil, false, err
	}
	row, ok := t.visible(rid)
	return copyRow(row), ok, nil
}

// Scan implements tx.Reader.
func (t *Tx) Scan(ctx context.Context, tableName string, filter tx.Filter) ([]map[string]any, error) {
	pred, err := t.b.cel.filterPredicate(tableName, filter)
	if err != nil {
		return nil, err
	}
	return t.scan(ctx, pred)
}

// Where scans with a CEL predicate over `row` (a map of column to value) and `args`.
// Under Serializable the predicate is locked like a filter scan.
func (t *Tx) Where(ctx context.Context, tableName, expr string, args map[string]any) ([]map[string]any, error) {
	pred, err := t.b.cel.compile(tableName, expr, args)
	if err != nil {
		return nil, err
	}
	return t.scan(ctx, pred)
}

func (t *Tx) scan(ctx context.Context, pred *predicate) ([]map[string]any, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	if t.opts.Isolation == tx.Serializable {
		// Uncommitted rows of other transactions that would become phantoms.
		for rid, holder := range t.b.locks {
			if holder == t || rid.table != pred.table {
				continue
			}
			if row := holder.overlay[rid]; row != nil && pred.match(row) {
				return nil, apperror.NewStorage(apperror.ReasonSerialization,
					fmt.Errorf("memory: %s has a pending write to %s %v matching the scan", holder.id, rid.table, rid.key))
			}
		}
	}

	var out []map[string]any
	for _, key := range t.keys(pred.table) {
		rid := rowID{table: pred.table, key: key}
		row, ok := t.visible(rid)
		if !ok || !pred.match(row) {
			continue
		}
		if err := t.lockForRead(rid); err != nil {
			return nil, err
		}
		out = append(out, copyRow(row))
	}

	if t.opts.Isolation == tx.Serializable {
		t.predicates = append(t.predicates, pred)
	}
	return out, nil
}

// ExecuteBatch implements tx.Tx.
func (t *Tx) ExecuteBatch(ctx context.Context, stmts []tx.Statement) ([]int64, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if t.opts.ReadOnly {
		return nil, apperror.NewStorage(apperror.ReasonIO, errors.New("memory: write in read-only transaction"))
	}

	affected := make([]int64, len(stmts))
	for i, st := range stmts {
		if hook := t.b.faults.Statement; hook != nil {
			if err := hook(st); err != nil {
				return nil, asStorage(err)
			}
		}
		n, err := t.apply(st)
		if err != nil {
			return nil, err
		}
		affected[i] = n
	}
	return affected, nil
}

func (t *Tx) apply(st tx.Statement) (int64, error) {
	rid := rowID{table: st.Table, key: st.Key}
	if err := t.lockForWrite(rid); err != nil {
		return 0, err
	}
	cur, exists := t.visible(rid)

	switch st.Kind {
	case tx.Insert:
		if exists {
			return 0, apperror.NewStorage(apperror.ReasonConstraint,
				fmt.Errorf("memory: duplicate key %v in %s", st.Key, st.Table))
		}
		row := copyRow(st.Values)
		if row == nil {
			row = make(map[string]any)
		}
		if st.KeyColumn != "" {
			row[st.KeyColumn] = st.Key
		}
		if err := t.checkPredicates(rid, row); err != nil {
			return 0, err
		}
		t.write(rid, row)
		return 1, nil

	case tx.Update:
		if !exists || !t.tokenMatches(st, cur) {
			return 0, nil
		}
		row := copyRow(cur)
		for col, v := range copyRow(st.Values) {
			row[col] = v
		}
		if err := t.checkPredicates(rid, row); err != nil {
			return 0, err
		}
		t.write(rid, row)
		return 1, nil

	case tx.Delete:
		if !exists || !t.tokenMatches(st, cur) {
			return 0, nil
		}
		t.write(rid, nil)
		return 1, nil
	}

	return 0, fmt.Errorf("memory: unknown statement kind %d", st.Kind)
}

func (t *Tx) tokenMatches(st tx.Statement, row map[string]any) bool {
	if !st.Conditional() {
		return true
	}
	return concurrency.Equal(row[st.TokenColumn], st.ExpectedToken)
}

func (t *Tx) write(rid rowID, row map[string]any) {
	if _, ok := t.overlay[rid]; !ok {
		t.writes = append(t.writes, rid)
	}
	t.overlay[rid] = row
}

// Commit implements tx.Tx.
func (t *Tx) Commit(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	if hook := t.b.faults.Commit; hook != nil {
		if err := hook(); err != nil {
			t.finish("rolled_back")
			return asStorage(err)
		}
	}

	if t.snapshot != nil {
		// First committer wins.
		for _, rid := range t.writes {
			holder := t.b.locks[rid]
			tbl := t.b.tables[rid.table]
			if (holder != nil && holder != t) || (tbl != nil && tbl.written[rid.key] > t.start) {
				t.finish("rolled_back")
				return apperror.NewStorage(apperror.ReasonSerialization,
					fmt.Errorf("memory: snapshot write conflict on %s %v", rid.table, rid.key))
			}
		}
	}

	t.b.seq++
	for _, rid := range t.writes {
		tbl := t.b.table(rid.table)
		row := t.overlay[rid]
		_, existed := tbl.rows[rid.key]
		switch {
		case row == nil && existed:
			delete(tbl.rows, rid.key)
			tbl.order = slices.DeleteFunc(tbl.order, func(k any) bool { return k == rid.key })
		case row != nil:
			if !existed {
				tbl.order = append(tbl.order, rid.key)
			}
			tbl.rows[rid.key] = row
		}
		tbl.written[rid.key] = t.b.seq
	}

	t.finish("committed")
	return nil
}

// Rollback implements tx.Tx. Locks are released even when the rollback hook fails.
func (t *Tx) Rollback(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}

	t.finish("rolled_back")
	if hook := t.b.faults.Rollback; hook != nil {
		if err := hook(); err != nil {
			return asStorage(err)
		}
	}
	return nil
}

func (t *Tx) finish(outcome string) {
	t.b.release(t)
	t.overlay = nil
	t.writes = nil
	t.snapshot = nil
	t.done = true
	t.outcome = outcome
}

func (t *Tx) checkOpen() error {
	if t.done {
		return apperror.NewTransactionClosed(t.id, t.outcome)
	}
	return nil
}

// visible resolves a row the way t's isolation level sees it. Callers hold b.mu.
func (t *Tx) visible(rid rowID) (map[string]any, bool) {
	if row, ok := t.overlay[rid]; ok {
		return row, row != nil
	}
	if t.opts.Isolation == tx.ReadUncommitted {
		if holder := t.b.locks[rid]; holder != nil && holder != t {
			if row, ok := holder.overlay[rid]; ok {
				return row, row != nil
			}
		}
	}

	tables := t.b.tables
	if t.snapshot != nil {
		tables = t.snapshot
	}
	tbl, ok := tables[rid.table]
	if !ok {
		return nil, false
	}
	row, ok := tbl.rows[rid.key]
	return row, ok
}

// keys lists candidate keys of a table in insertion order: committed (or snapshot)
// rows, then own inserts, then under ReadUncommitted other transactions' inserts.
func (t *Tx) keys(tableName string) []any {
	tables := t.b.tables
	if t.snapshot != nil {
		tables = t.snapshot
	}

	seen := make(map[any]struct{})
	var keys []any
	add := func(k any) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	if tbl, ok := tables[tableName]; ok {
		for _, k := range tbl.order {
			add(k)
		}
	}
	for _, rid := range t.writes {
		if rid.table == tableName {
			add(rid.key)
		}
	}
	if t.opts.Isolation == tx.ReadUncommitted {
		for other := range t.b.active {
			if other == t {
				continue
			}
			for _, rid := range other.writes {
				if rid.table == tableName {
					add(rid.key)
				}
			}
		}
	}
	return keys
}

func (t *Tx) lockForRead(rid rowID) error {
	if t.opts.Isolation != tx.RepeatableRead && t.opts.Isolation != tx.Serializable {
		return nil
	}
	if holder := t.b.locks[rid]; holder != nil && holder != t {
		return apperror.NewStorage(apperror.ReasonLock,
			fmt.Errorf("memory: %s %v is locked by %s", rid.table, rid.key, holder.id))
	}
	set, ok := t.b.readers[rid]
	if !ok {
		set = make(map[*Tx]struct{})
		t.b.readers[rid] = set
	}
	if _, ok := set[t]; !ok {
		set[t] = struct{}{}
		t.read = append(t.read, rid)
	}
	return nil
}

func (t *Tx) lockForWrite(rid rowID) error {
	for reader := range t.b.readers[rid] {
		if reader != t {
			return apperror.NewStorage(apperror.ReasonLock,
				fmt.Errorf("memory: %s %v was read by %s under %s", rid.table, rid.key, reader.id, reader.opts.Isolation))
		}
	}
	if t.snapshot != nil {
		// Snapshot writers do not block; conflicts are resolved on commit.
		return nil
	}
	if holder := t.b.locks[rid]; holder != nil && holder != t {
		return apperror.NewStorage(apperror.ReasonLock,
			fmt.Errorf("memory: %s %v is locked by %s", rid.table, rid.key, holder.id))
	}
	if _, ok := t.b.locks[rid]; !ok {
		t.b.locks[rid] = t
		t.locked = append(t.locked, rid)
	}
	return nil
}

func (t *Tx) checkPredicates(rid rowID, row map[string]any) error {
	for other := range t.b.active {
		if other == t || other.opts.Isolation != tx.Serializable {
			continue
		}
		for _, p := range other.predicates {
			if p.table == rid.table && p.match(row) {
				return apperror.NewStorage(apperror.ReasonSerialization,
					fmt.Errorf("memory: write to %s %v matches a predicate read by %s", rid.table, rid.key, other.id))
			}
		}
	}
	return nil
}

// wait applies the configured latency under the command timeout.
func (t *Tx) wait(ctx context.Context) error {
	if t.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.CommandTimeout)
		defer cancel()
	}
	if t.b.latency > 0 {
		timer := time.NewTimer(t.b.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func storageErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.NewStorage(apperror.ReasonTimeout, err)
	}
	return apperror.NewStorage(apperror.ReasonIO, err)
}

func asStorage(err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	return apperror.NewStorage(apperror.ReasonIO, err)
}
