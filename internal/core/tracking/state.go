// Package tracking holds the identity map and the change tracker of a unit of work.
//
// Neither type is safe for concurrent use: a unit of work is driven from a single
// flow of control, and callers sharing one across goroutines must serialize access.
package tracking

import (
	"fmt"

	"unitwork/internal/core/tx"
)

// State is the per-entity lifecycle flag that decides what commit does with it.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Kind maps a pending state to the write it produces.
func (s State) Kind() tx.Kind {
	switch s {
	case Added:
		return tx.Insert
	case Modified:
		return tx.Update
	case Deleted:
		return tx.Delete
	}
	return 0
}

// Identity is (entity type, primary key). It is unique within one identity map.
type Identity struct {
	Type string
	Key  any
}

func (i Identity) String() string {
	return fmt.Sprintf("%s(%v)", i.Type, i.Key)
}
