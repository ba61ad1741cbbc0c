// Package schema maps Go structs to rows: field list, primary key and concurrency token.
// It is the only place that knows column names; the change tracker and the unit of work
// work on Values maps keyed by column.
package schema

import (
	"reflect"
	"sort"
	"sync"

	"unitwork/internal/core/apperror"
)

// Options customises how a type is registered.
type Options struct {
	// Name identifies the entity type in identities, errors and the journal.
	// Defaults to the Go type name.
	Name string

	// Table defaults to the snake_case type name.
	Table string

	// Discriminator names the column that tells the variants of a table-per-hierarchy
	// mapping apart; DiscriminatorValue is this type's value.
	Discriminator      string
	DiscriminatorValue any
}

// Mapper stores entity definitions. Unregistered types are inspected on first use.
// It is safe for concurrent use; definitions are immutable once built.
type Mapper struct {
	mu     sync.RWMutex
	types  map[reflect.Type]*EntityType
	byName map[string]*EntityType
}

// NewMapper creates an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{
		types:  make(map[reflect.Type]*EntityType),
		byName: make(map[string]*EntityType),
	}
}

// Register inspects sample (struct or pointer to struct) and stores its definition.
func (m *Mapper) Register(sample any, opts Options) (*EntityType, error) {
	t := reflect.TypeOf(sample)
	if t == nil {
		return nil, apperror.NewUnmappedType("<nil>", "nil sample")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	et, err := inspect(t, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if other, ok := m.byName[et.Name]; ok && other.goType != t {
		return nil, apperror.NewUnmappedType(t.String(), "entity name "+et.Name+" already registered")
	}
	m.types[t] = et
	m.byName[et.Name] = et
	return et, nil
}

// MustRegister is Register that panics; use for package-level wiring.
func (m *Mapper) MustRegister(sample any, opts Options) *EntityType {
	et, err := m.Register(sample, opts)
	if err != nil {
		panic(err)
	}
	return et
}

// Describe returns the definition for entity, which must be a non-nil pointer to a struct.
func (m *Mapper) Describe(entity any) (*EntityType, error) {
	if entity == nil {
		return nil, apperror.NewUnmappedType("<nil>", "entities must be non-nil pointers to structs")
	}
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, apperror.NewUnmappedType(reflect.TypeOf(entity).String(), "entities must be non-nil pointers to structs")
	}
	return m.DescribeType(rv.Elem().Type())
}

// DescribeType returns the definition for a struct type, inspecting it if needed.
func (m *Mapper) DescribeType(t reflect.Type) (*EntityType, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	m.mu.RLock()
	et, ok := m.types[t]
	m.mu.RUnlock()
	if ok {
		return et, nil
	}

	return m.Register(reflect.New(t).Interface(), Options{})
}

// ByName returns a registered definition.
func (m *Mapper) ByName(name string) (*EntityType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	et, ok := m.byName[name]
	return et, ok
}

// List returns all definitions sorted by name.
func (m *Mapper) List() []*EntityType {
	m.mu.RLock()
	list := make([]*EntityType, 0, len(m.byName))
	for _, et := range m.byName {
		list = append(list, et)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
