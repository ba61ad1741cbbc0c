package concurrency

import (
	"context"
	"fmt"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tracking"
	"unitwork/internal/core/tx"
)

// Write is a pending operation turned into a backend statement.
type Write struct {
	Op        tracking.PendingOperation
	Statement tx.Statement

	// NextToken goes into the entity once the backend has committed. Nil for deletes
	// and for types without a token.
	NextToken any
}

// Plan builds the statement for op. Updates and deletes of tokened entities are
// predicated on the token captured when the entity was read; inserts and updates
// carry the token that follows it.
func Plan(op tracking.PendingOperation) (Write, error) {
	entry := op.Entry
	et := entry.EntityType()
	key, err := et.KeyOf(entry.Entity())
	if err != nil {
		return Write{}, err
	}
	if !schema.Equal(key, op.Identity().Key) {
		return Write{}, apperror.NewKeyModified(op.Identity().Type, op.Identity().Key, key)
	}

	w := Write{
		Op: op,
		Statement: tx.Statement{
			Kind:      op.Kind(),
			Table:     et.Table,
			KeyColumn: et.Key().Column,
			Key:       op.Identity().Key,
		},
	}
	tf, tokened := et.Token()

	switch op.State {
	case tracking.Added:
		vals, err := et.RowValues(entry.Entity())
		if err != nil {
			return Write{}, err
		}
		if tokened {
			initial, err := Initial(vals[tf.Column])
			if err != nil {
				return Write{}, fmt.Errorf("plan insert %s: %w", op.Identity(), err)
			}
			vals[tf.Column] = initial
			w.NextToken = initial
		}
		w.Statement.Values = vals
		return w, nil

	case tracking.Modified:
		vals := op.Changes.Clone()
		if tokened {
			expected := entry.Token()
			base := expected
			if base == nil {
				base = entry.Current()[tf.Column]
			}
			next, err := Advance(base)
			if err != nil {
				return Write{}, fmt.Errorf("plan update %s: %w", op.Identity(), err)
			}
			vals[tf.Column] = next
			w.NextToken = next
			w.Statement.TokenColumn = tf.Column
			w.Statement.ExpectedToken = expected
		}
		w.Statement.Values = vals
		return w, nil

	case tracking.Deleted:
		if tokened {
			w.Statement.TokenColumn = tf.Column
			w.Statement.ExpectedToken = entry.Token()
		}
		return w, nil
	}

	return Write{}, fmt.Errorf("plan %s: nothing to write in state %s", op.Identity(), op.State)
}

// Validate interprets the affected-row count of one executed write. A conditional
// update or delete that touched no row is a conflict; the row is read again to tell
// a concurrent delete from a concurrent update. Unconditional writes always pass.
func Validate(ctx context.Context, reader tx.Reader, w Write, affected int64) error {
	st := w.Statement
	if st.Kind == tx.Insert || !st.Conditional() || affected > 0 {
		return nil
	}

	ident := w.Op.Identity()
	row, found, err := reader.Fetch(ctx, st.Table, st.KeyColumn, st.Key)
	if err != nil {
		return fmt.Errorf("re-read %s after conflict: %w", ident, err)
	}

	conflict := &apperror.ConflictError{
		Kind:         apperror.ConflictRowDeleted,
		EntityType:   ident.Type,
		Key:          ident.Key,
		ClientValues: w.Op.Entry.Current(),
		ClientToken:  st.ExpectedToken,
	}
	if found {
		conflict.Kind = apperror.ConflictRowModified
		conflict.ServerValues = row
		conflict.ServerToken = row[st.TokenColumn]
	}
	return conflict
}

// Check validates a whole batch and returns the first conflict in batch order.
func Check(ctx context.Context, reader tx.Reader, writes []Write, affected []int64) error {
	if len(affected) != len(writes) {
		return fmt.Errorf("backend reported %d results for %d statements", len(affected), len(writes))
	}
	for i, w := range writes {
		if err := Validate(ctx, reader, w, affected[i]); err != nil {
			return err
		}
	}
	return nil
}

// Statements extracts the backend statements of writes.
func Statements(writes []Write) []tx.Statement {
	stmts := make([]tx.Statement, len(writes))
	for i, w := range writes {
		stmts[i] = w.Statement
	}
	return stmts
}
