package tracking

import (
	"reflect"
	"slices"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/schema"
)

// Entry is the tracking handle of one attached entity.
type Entry struct {
	identity Identity
	entity   any
	etype    *schema.EntityType

	original schema.Values
	token    any

	// override is Added or Deleted when set explicitly; it wins over diffing.
	override State
}

// Identity returns the (type, key) pair the entry is indexed under.
func (e *Entry) Identity() Identity { return e.identity }

// Entity returns the tracked pointer.
func (e *Entry) Entity() any { return e.entity }

// EntityType returns the mapping of the tracked entity.
func (e *Entry) EntityType() *schema.EntityType { return e.etype }

// Original returns a copy of the baseline snapshot.
func (e *Entry) Original() schema.Values { return e.original.Clone() }

// Token returns the concurrency token captured at read (or last commit) time.
func (e *Entry) Token() any { return e.token }

// SetOriginalToken replaces the token writes are predicated on. Web handlers use it to
// check against the version the client last saw instead of the one just read.
func (e *Entry) SetOriginalToken(token any) {
	e.token = token
	if tf, ok := e.etype.Token(); ok {
		e.original[tf.Column] = token
	}
}

// Current snapshots the entity's present field values.
func (e *Entry) Current() schema.Values {
	vals, err := e.etype.Values(e.entity)
	if err != nil {
		// Entries are only created for entities their type owns.
		panic(err)
	}
	return vals
}

// IdentityMap maps (type, key) to tracked entities and their baseline snapshots.
// Iteration follows insertion order.
type IdentityMap struct {
	mapper  *schema.Mapper
	entries map[Identity]*Entry
	byPtr   map[any]*Entry
	order   []*Entry
}

// NewIdentityMap creates an empty identity map using mapper to describe entities.
func NewIdentityMap(mapper *schema.Mapper) *IdentityMap {
	return &IdentityMap{
		mapper:  mapper,
		entries: make(map[Identity]*Entry),
		byPtr:   make(map[any]*Entry),
	}
}

// Mapper returns the schema mapper the map describes entities with.
func (m *IdentityMap) Mapper() *schema.Mapper { return m.mapper }

// IdentityOf computes the identity of entity without consulting the map.
func (m *IdentityMap) IdentityOf(entity any) (Identity, *schema.EntityType, error) {
	et, err := m.mapper.Describe(entity)
	if err != nil {
		return Identity{}, nil, err
	}
	key, err := et.KeyOf(entity)
	if err != nil {
		return Identity{}, nil, err
	}
	return Identity{Type: et.Name, Key: key}, et, nil
}

// Attach starts tracking entity with origin as its baseline. A nil origin snapshots
// the current values, so the entity starts Unchanged. The token is taken from origin
// when present there.
func (m *IdentityMap) Attach(entity any, origin schema.Values) (*Entry, error) {
	ident, et, err := m.IdentityOf(entity)
	if err != nil {
		return nil, err
	}
	if _, ok := m.entries[ident]; ok {
		return nil, apperror.NewDuplicateIdentity(ident.Type, ident.Key)
	}
	if prev, ok := m.byPtr[entity]; ok {
		return nil, apperror.NewDuplicateIdentity(prev.identity.Type, prev.identity.Key).
			WithDetail("reason", "instance already tracked under another key")
	}

	if origin == nil {
		origin, err = et.Values(entity)
		if err != nil {
			return nil, err
		}
	} else {
		origin = origin.Clone()
	}

	entry := &Entry{
		identity: ident,
		entity:   entity,
		etype:    et,
		original: origin,
		override: Unchanged,
	}
	if tf, ok := et.Token(); ok {
		entry.token = origin[tf.Column]
	}

	m.entries[ident] = entry
	m.byPtr[entity] = entry
	m.order = append(m.order, entry)
	return entry, nil
}

// Detach stops tracking identity. Detaching an absent identity is a no-op.
func (m *IdentityMap) Detach(ident Identity) {
	entry, ok := m.entries[ident]
	if !ok {
		return
	}
	delete(m.entries, ident)
	delete(m.byPtr, entry.entity)
	m.order = slices.DeleteFunc(m.order, func(e *Entry) bool { return e == entry })
}

// Lookup returns the tracked instance for (typeName, key). The key is converted to
// the key field's type first, so 1 finds an int64 key and a UUID string an id.ID key.
func (m *IdentityMap) Lookup(typeName string, key any) (any, bool) {
	if et, ok := m.mapper.ByName(typeName); ok {
		norm, err := et.NormalizeKey(key)
		if err != nil {
			return nil, false
		}
		key = norm
	}
	if key != nil && !reflect.TypeOf(key).Comparable() {
		return nil, false
	}
	entry, ok := m.entries[Identity{Type: typeName, Key: key}]
	if !ok {
		return nil, false
	}
	return entry.entity, true
}

// SnapshotOf returns a copy of the last committed values of identity.
func (m *IdentityMap) SnapshotOf(ident Identity) (schema.Values, bool) {
	entry, ok := m.entries[ident]
	if !ok {
		return nil, false
	}
	return entry.original.Clone(), true
}

// Entry returns the handle tracking this exact instance.
func (m *IdentityMap) Entry(entity any) (*Entry, bool) {
	entry, ok := m.byPtr[entity]
	return entry, ok
}

// Entries returns the tracked entries in insertion order.
func (m *IdentityMap) Entries() []*Entry {
	return slices.Clone(m.order)
}

func (m *IdentityMap) holds(entry *Entry) bool {
	return m.entries[entry.identity] == entry
}

// Len returns the number of tracked entities.
func (m *IdentityMap) Len() int { return len(m.order) }

// Clear detaches everything.
func (m *IdentityMap) Clear() {
	clear(m.entries)
	clear(m.byPtr)
	m.order = nil
}
