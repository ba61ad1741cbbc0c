// Package tx defines the storage backend contract the unit of work drives.
// Implementations live in internal/infrastructure/storage; the core never imports them.
package tx

import (
	"fmt"
	"strings"
)

// IsolationLevel is forwarded unchanged to the storage backend. The zero value is
// ReadCommitted, the default.
//
//   - ReadUncommitted permits dirty reads.
//   - ReadCommitted prevents dirty reads only.
//   - RepeatableRead also prevents non-repeatable reads of rows already read; concurrent
//     writers to those rows block or fail.
//   - Serializable also prevents phantom inserts matching a predicate already scanned.
//   - Snapshot reads a point-in-time view and resolves write-write conflicts at commit.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	ReadUncommitted
	RepeatableRead
	Serializable
	Snapshot
)

var isolationNames = map[IsolationLevel]string{
	ReadCommitted:   "read_committed",
	ReadUncommitted: "read_uncommitted",
	RepeatableRead:  "repeatable_read",
	Serializable:    "serializable",
	Snapshot:        "snapshot",
}

func (l IsolationLevel) String() string {
	if s, ok := isolationNames[l]; ok {
		return s
	}
	return fmt.Sprintf("isolation(%d)", int(l))
}

// ParseIsolationLevel accepts snake_case, kebab-case, spaced or CamelCase names.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for level, name := range isolationNames {
		if strings.ReplaceAll(name, "_", "") == norm {
			return level, nil
		}
	}
	return ReadCommitted, fmt.Errorf("unknown isolation level %q", s)
}
