package tx

import (
	"context"
	"time"
)

// Options configures a backend transaction.
type Options struct {
	Isolation IsolationLevel

	// ReadOnly asks the backend to reject writes.
	ReadOnly bool

	// CommandTimeout bounds every statement. Expiry surfaces as a storage error with
	// reason "timeout" and is never retried.
	CommandTimeout time.Duration
}

// Kind of write a Statement performs.
type Kind int

const (
	Insert Kind = iota + 1
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Statement is one row write. Backends turn it into SQL (or an in-memory mutation);
// the core never builds SQL itself.
type Statement struct {
	Kind      Kind
	Table     string
	KeyColumn string
	Key       any

	// Values holds every column for Insert and the changed columns for Update
	// (including the advanced token). Unused for Delete.
	Values map[string]any

	// TokenColumn and ExpectedToken make the write conditional: it must affect zero
	// rows when the stored token differs. ExpectedToken nil means unconditional.
	TokenColumn   string
	ExpectedToken any
}

// Conditional reports whether the statement is predicated on a token match.
func (s Statement) Conditional() bool {
	return s.TokenColumn != "" && s.ExpectedToken != nil
}

// Filter is a conjunction of column equality predicates.
type Filter map[string]any

// Reader reads committed (or isolation-visible) rows inside a transaction.
type Reader interface {
	// Fetch returns the row with the given key; ok is false when no row exists.
	Fetch(ctx context.Context, table, keyColumn string, key any) (row map[string]any, ok bool, err error)

	// Scan returns every row matching filter.
	Scan(ctx context.Context, table string, filter Filter) ([]map[string]any, error)
}

// Tx is one backend transaction. It is a scoped resource: exactly one of Commit or
// Rollback must be called on every path.
type Tx interface {
	Reader

	// ExecuteBatch applies stmts in order and reports rows affected per statement.
	// A conditional statement whose token predicate fails reports 0.
	ExecuteBatch(ctx context.Context, stmts []Statement) ([]int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend starts transactions.
type Backend interface {
	Begin(ctx context.Context, opts Options) (Tx, error)
}
