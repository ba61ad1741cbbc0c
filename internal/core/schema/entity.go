package schema

import (
	"fmt"
	"reflect"

	"unitwork/internal/core/tx"
)

// Field describes one mapped struct field.
type Field struct {
	Name   string
	Column string
	Key    bool
	Token  bool

	index []int
	typ   reflect.Type
}

// Type returns the Go type of the field.
func (f Field) Type() reflect.Type { return f.typ }

// EntityType describes a mapped struct.
type EntityType struct {
	Name   string
	Table  string
	Fields []Field

	Discriminator      string
	DiscriminatorValue any

	goType reflect.Type
	key    int
	token  int
}

// GoType returns the struct type.
func (t *EntityType) GoType() reflect.Type { return t.goType }

// Key returns the primary key field.
func (t *EntityType) Key() Field { return t.Fields[t.key] }

// Token returns the concurrency token field, if any.
func (t *EntityType) Token() (Field, bool) {
	if t.token < 0 {
		return Field{}, false
	}
	return t.Fields[t.token], true
}

// HasToken reports whether writes to this type are predicated on a token.
func (t *EntityType) HasToken() bool { return t.token >= 0 }

// Columns returns the mapped columns in declaration order, discriminator last.
func (t *EntityType) Columns() []string {
	cols := make([]string, 0, len(t.Fields)+1)
	for _, f := range t.Fields {
		cols = append(cols, f.Column)
	}
	if t.Discriminator != "" {
		cols = append(cols, t.Discriminator)
	}
	return cols
}

// Filter restricts reads to this variant of a shared table. Nil for plain mappings.
func (t *EntityType) Filter() tx.Filter {
	if t.Discriminator == "" {
		return nil
	}
	return tx.Filter{t.Discriminator: t.DiscriminatorValue}
}

// New allocates a zero entity and returns a pointer to it.
func (t *EntityType) New() any {
	return reflect.New(t.goType).Interface()
}

// Owns reports whether entity is a pointer to this type.
func (t *EntityType) Owns(entity any) bool {
	rv := reflect.ValueOf(entity)
	return rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Type() == t.goType
}

func (t *EntityType) elem(entity any) (reflect.Value, error) {
	if !t.Owns(entity) {
		return reflect.Value{}, fmt.Errorf("schema: %T is not *%s", entity, t.goType)
	}
	return reflect.ValueOf(entity).Elem(), nil
}

// Values snapshots the mapped fields (without the discriminator). Byte slices are
// copied so the snapshot never aliases the entity.
func (t *EntityType) Values(entity any) (Values, error) {
	rv, err := t.elem(entity)
	if err != nil {
		return nil, err
	}
	vals := make(Values, len(t.Fields))
	for _, f := range t.Fields {
		vals[f.Column] = cloneValue(rv.FieldByIndex(f.index).Interface())
	}
	return vals, nil
}

// RowValues is Values plus the discriminator column; this is what an insert writes.
func (t *EntityType) RowValues(entity any) (Values, error) {
	vals, err := t.Values(entity)
	if err != nil {
		return nil, err
	}
	if t.Discriminator != "" {
		vals[t.Discriminator] = t.DiscriminatorValue
	}
	return vals, nil
}

// Assign writes row values into entity, converting driver types where needed.
// Columns absent from row are left untouched; unknown columns are ignored.
func (t *EntityType) Assign(entity any, row map[string]any) error {
	rv, err := t.elem(entity)
	if err != nil {
		return err
	}
	for _, f := range t.Fields {
		v, ok := row[f.Column]
		if !ok {
			continue
		}
		if err := assignValue(rv.FieldByIndex(f.index), v); err != nil {
			return fmt.Errorf("schema: %s.%s: %w", t.Name, f.Name, err)
		}
	}
	return nil
}

// KeyOf returns the primary key value.
func (t *EntityType) KeyOf(entity any) (any, error) {
	rv, err := t.elem(entity)
	if err != nil {
		return nil, err
	}
	return rv.FieldByIndex(t.Fields[t.key].index).Interface(), nil
}

// TokenOf returns the current token, or nil when the type has none.
func (t *EntityType) TokenOf(entity any) (any, error) {
	if t.token < 0 {
		return nil, nil
	}
	rv, err := t.elem(entity)
	if err != nil {
		return nil, err
	}
	return cloneValue(rv.FieldByIndex(t.Fields[t.token].index).Interface()), nil
}

// SetToken overwrites the token field.
func (t *EntityType) SetToken(entity any, token any) error {
	if t.token < 0 {
		return nil
	}
	rv, err := t.elem(entity)
	if err != nil {
		return err
	}
	return assignValue(rv.FieldByIndex(t.Fields[t.token].index), token)
}

// NormalizeKey converts key to the Go type of the key field, so lookups by a plain int
// or a string UUID find entities whose key is int64 or id.ID.
func (t *EntityType) NormalizeKey(key any) (any, error) {
	kf := t.Fields[t.key]
	if key != nil && reflect.TypeOf(key) == kf.typ {
		return key, nil
	}
	dst := reflect.New(kf.typ).Elem()
	if err := assignValue(dst, key); err != nil {
		return nil, fmt.Errorf("schema: %s key: %w", t.Name, err)
	}
	return dst.Interface(), nil
}
