package tracking

import (
	"iter"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
)

// PendingOperation is one write commit has to perform.
type PendingOperation struct {
	Entry *Entry
	State State

	// Changes holds every mapped column for Added and only the differing columns for
	// Modified. Key and token columns never appear in a Modified diff: the key is
	// immutable and the token is advanced by commit. Nil for Deleted.
	Changes schema.Values
}

// Identity of the affected entity.
func (op PendingOperation) Identity() Identity { return op.Entry.identity }

// Entity returns the tracked pointer.
func (op PendingOperation) Entity() any { return op.Entry.entity }

// Kind is the write the operation turns into.
func (op PendingOperation) Kind() tx.Kind { return op.State.Kind() }

// ChangeTracker derives entity states by diffing current values against the
// snapshots held by an IdentityMap.
type ChangeTracker struct {
	idmap *IdentityMap
}

// NewChangeTracker creates a tracker over idmap.
func NewChangeTracker(idmap *IdentityMap) *ChangeTracker {
	return &ChangeTracker{idmap: idmap}
}

// IdentityMap returns the map the tracker reads.
func (c *ChangeTracker) IdentityMap() *IdentityMap { return c.idmap }

// StateOf reports the state of entity. Instances the map does not hold are Detached,
// including a different instance carrying a tracked identity.
func (c *ChangeTracker) StateOf(entity any) State {
	entry, ok := c.idmap.Entry(entity)
	if !ok {
		return Detached
	}
	state, _ := c.diff(entry)
	return state
}

// StateOfEntry reports the state of a tracked entry.
func (c *ChangeTracker) StateOfEntry(entry *Entry) State {
	if !c.idmap.holds(entry) {
		return Detached
	}
	state, _ := c.diff(entry)
	return state
}

func (c *ChangeTracker) diff(entry *Entry) (State, schema.Values) {
	switch entry.override {
	case Added:
		return Added, entry.Current()
	case Deleted:
		return Deleted, nil
	}

	changes := entry.original.Diff(entry.Current())
	// A key that no longer matches the identity stays in the diff so the commit can
	// reject it.
	keyCol := entry.etype.Key().Column
	if v, ok := changes[keyCol]; ok && schema.Equal(v, entry.identity.Key) {
		delete(changes, keyCol)
	}
	if tf, ok := entry.etype.Token(); ok {
		delete(changes, tf.Column)
	}
	if len(changes) == 0 {
		return Unchanged, nil
	}
	return Modified, changes
}

// MarkAdded flags entity for insertion, attaching it first when needed.
func (c *ChangeTracker) MarkAdded(entity any) error {
	entry, ok := c.idmap.Entry(entity)
	if !ok {
		var err error
		if entry, err = c.idmap.Attach(entity, nil); err != nil {
			return err
		}
	}
	entry.override = Added
	return nil
}

// MarkDeleted flags a tracked entity for deletion. An entity that was only ever Added
// never reached storage and is detached instead.
func (c *ChangeTracker) MarkDeleted(entity any) error {
	entry, ok := c.idmap.Entry(entity)
	if !ok {
		ident, _, err := c.idmap.IdentityOf(entity)
		if err != nil {
			return err
		}
		return apperror.NewNotAttached(ident.Type, ident.Key)
	}
	if entry.override == Added {
		c.idmap.Detach(entry.identity)
		return nil
	}
	entry.override = Deleted
	return nil
}

// HasChanges reports whether commit would write anything.
func (c *ChangeTracker) HasChanges() bool {
	for range c.PendingOperations() {
		return true
	}
	return false
}

// PendingOperations yields the writes commit must perform, in identity-map insertion
// order. States are computed as the sequence is consumed. The sequence is single use:
// ranging over it a second time yields nothing.
func (c *ChangeTracker) PendingOperations() iter.Seq[PendingOperation] {
	entries := c.idmap.Entries()
	consumed := false
	return func(yield func(PendingOperation) bool) {
		if consumed {
			return
		}
		consumed = true
		for _, entry := range entries {
			if !c.idmap.holds(entry) {
				continue
			}
			state, changes := c.diff(entry)
			if state == Unchanged {
				continue
			}
			if !yield(PendingOperation{Entry: entry, State: state, Changes: changes}) {
				return
			}
		}
	}
}

// AcceptChanges makes the current values the new baseline: survivors become Unchanged
// and Deleted entities are detached.
func (c *ChangeTracker) AcceptChanges() {
	for _, entry := range c.idmap.Entries() {
		if entry.override == Deleted {
			c.idmap.Detach(entry.identity)
			continue
		}
		entry.original = entry.Current()
		if tf, ok := entry.etype.Token(); ok {
			entry.token = entry.original[tf.Column]
		}
		entry.override = Unchanged
	}
}
