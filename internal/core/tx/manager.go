package tx

import (
	"context"
)

// Manager defines the contract for callback-style transaction management.
// If fn returns an error the transaction is rolled back, otherwise it is committed.
type Manager interface {
	RunInTransaction(ctx context.Context, level IsolationLevel, fn func(ctx context.Context) error) error
}
