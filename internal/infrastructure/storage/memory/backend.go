// Package memory is an in-process storage backend. It honours every isolation level of
// the unit of work with row locks, read sets, CEL predicate locks and snapshots, which
// makes it the backend the core is tested against.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
)

var _ tx.Backend = (*Backend)(nil)

type rowID struct {
	table string
	key   any
}

type table struct {
	rows  map[any]map[string]any
	order []any
	// written holds the commit sequence number of the last write to each key.
	written map[any]uint64
}

func newTable() *table {
	return &table{rows: make(map[any]map[string]any), written: make(map[any]uint64)}
}

func (t *table) clone() *table {
	c := &table{
		rows:  make(map[any]map[string]any, len(t.rows)),
		order: slices.Clone(t.order),
	}
	for k, row := range t.rows {
		c.rows[k] = copyRow(row)
	}
	return c
}

// Faults injects failures; nil hooks never fail.
type Faults struct {
	Statement func(tx.Statement) error
	Commit    func() error
	Rollback  func() error
}

// Option configures a Backend.
type Option func(*Backend)

// WithLatency delays every statement, so command timeouts can be exercised.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithFaults installs failure hooks.
func WithFaults(f Faults) Option {
	return func(b *Backend) { b.faults = f }
}

// Backend holds committed tables and the lock state of open transactions.
type Backend struct {
	mu     sync.Mutex
	tables map[string]*table
	seq    uint64
	nextTx uint64

	locks   map[rowID]*Tx
	readers map[rowID]map[*Tx]struct{}
	active  map[*Tx]struct{}

	cel     *compiler
	latency time.Duration
	faults  Faults
}

// New creates an empty backend.
func New(opts ...Option) (*Backend, error) {
	c, err := newCompiler()
	if err != nil {
		return nil, err
	}
	b := &Backend{
		tables:  make(map[string]*table),
		locks:   make(map[rowID]*Tx),
		readers: make(map[rowID]map[*Tx]struct{}),
		active:  make(map[*Tx]struct{}),
		cel:     c,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// MustNew is New that panics.
func MustNew(opts ...Option) *Backend {
	b, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return b
}

// Begin starts a transaction. Snapshot transactions copy the committed tables here.
func (b *Backend) Begin(ctx context.Context, opts tx.Options) (tx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextTx++
	t := &Tx{
		id:      fmt.Sprintf("mem-%d", b.nextTx),
		b:       b,
		opts:    opts,
		start:   b.seq,
		overlay: make(map[rowID]map[string]any),
	}
	if opts.Isolation == tx.Snapshot {
		t.snapshot = make(map[string]*table, len(b.tables))
		for name, tbl := range b.tables {
			t.snapshot[name] = tbl.clone()
		}
	}
	b.active[t] = struct{}{}
	return t, nil
}

// Load stores rows as committed data. keyColumn names the primary key.
func (b *Backend) Load(tableName, keyColumn string, rows ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	tbl := b.table(tableName)
	for _, row := range rows {
		key := row[keyColumn]
		if _, ok := tbl.rows[key]; !ok {
			tbl.order = append(tbl.order, key)
		}
		tbl.rows[key] = copyRow(row)
		tbl.written[key] = b.seq
	}
}

// Rows returns the committed rows of a table in insertion order.
func (b *Backend) Rows(tableName string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	tbl, ok := b.tables[tableName]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(tbl.order))
	for _, key := range tbl.order {
		out = append(out, copyRow(tbl.rows[key]))
	}
	return out
}

// Active returns the number of open transactions.
func (b *Backend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

func (b *Backend) table(name string) *table {
	tbl, ok := b.tables[name]
	if !ok {
		tbl = newTable()
		b.tables[name] = tbl
	}
	return tbl
}

// release drops every lock, read mark and predicate of t. Callers hold b.mu.
func (b *Backend) release(t *Tx) {
	for _, rid := range t.locked {
		if b.locks[rid] == t {
			delete(b.locks, rid)
		}
	}
	for _, rid := range t.read {
		if set, ok := b.readers[rid]; ok {
			delete(set, t)
			if len(set) == 0 {
				delete(b.readers, rid)
			}
		}
	}
	t.locked, t.read, t.predicates = nil, nil, nil
	delete(b.active, t)
}

func copyRow(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	return schema.Values(row).Clone()
}
