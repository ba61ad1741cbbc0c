package schema

import (
	"reflect"
	"strings"
	"unicode"

	"unitwork/internal/core/apperror"
)

const (
	tagColumn = "db"
	tagTrack  = "track"

	trackKey     = "key"
	trackVersion = "version"
)

// inspect builds an EntityType from struct tags. Embedded structs are flattened, so a
// shared base such as entity.Versioned contributes its columns to every variant.
func inspect(t reflect.Type, opts Options) (*EntityType, error) {
	if t.Kind() != reflect.Struct {
		return nil, apperror.NewUnmappedType(t.String(), "not a struct")
	}

	et := &EntityType{
		Name:               opts.Name,
		Table:              opts.Table,
		Discriminator:      opts.Discriminator,
		DiscriminatorValue: opts.DiscriminatorValue,
		goType:             t,
		key:                -1,
		token:              -1,
	}
	if et.Name == "" {
		et.Name = t.Name()
	}
	if et.Table == "" {
		et.Table = snakeCase(t.Name())
	}

	collectFields(t, nil, et)
	if len(et.Fields) == 0 {
		return nil, apperror.NewUnmappedType(t.String(), "no db-tagged fields")
	}

	seen := make(map[string]bool, len(et.Fields))
	for i := range et.Fields {
		f := &et.Fields[i]
		if seen[f.Column] {
			return nil, apperror.NewUnmappedType(t.String(), "duplicate column "+f.Column)
		}
		seen[f.Column] = true

		if f.Key {
			if et.key >= 0 && et.key != i {
				return nil, apperror.NewUnmappedType(t.String(), "more than one key field")
			}
			et.key = i
		}
		if f.Token {
			if et.token >= 0 && et.token != i {
				return nil, apperror.NewUnmappedType(t.String(), "more than one version field")
			}
			if !isTokenType(f.typ) {
				return nil, apperror.NewUnmappedType(t.String(), "version field "+f.Name+" must be an integer or []byte")
			}
			et.token = i
		}
	}

	// Fall back to the conventional "id" column.
	if et.key < 0 {
		for i, f := range et.Fields {
			if f.Column == "id" {
				et.Fields[i].Key = true
				et.key = i
				break
			}
		}
	}
	if et.key < 0 {
		return nil, apperror.NewUnmappedType(t.String(), "no key field (tag track:\"key\" or column id)")
	}
	// Keys index Go maps in the identity map and the memory backend.
	if kf := et.Fields[et.key]; !kf.typ.Comparable() {
		return nil, apperror.NewUnmappedType(t.String(), "key field "+kf.Name+" must be comparable")
	}
	if et.Discriminator != "" && seen[et.Discriminator] {
		return nil, apperror.NewUnmappedType(t.String(), "discriminator "+et.Discriminator+" collides with a field column")
	}

	return et, nil
}

func collectFields(t reflect.Type, prefix []int, et *EntityType) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				// Pointer embeds would need allocation on assign; only value embeds are flattened.
				continue
			}
			if ft.Kind() == reflect.Struct && field.Tag.Get(tagColumn) == "" {
				collectFields(ft, index, et)
				continue
			}
		}

		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get(tagColumn)
		if tag == "" || tag == "-" {
			continue
		}

		f := Field{
			Name:   field.Name,
			Column: tag,
			index:  index,
			typ:    field.Type,
		}
		for _, opt := range strings.Split(field.Tag.Get(tagTrack), ",") {
			switch strings.TrimSpace(opt) {
			case trackKey:
				f.Key = true
			case trackVersion:
				f.Token = true
			}
		}
		et.Fields = append(et.Fields, f)
	}
}

func isTokenType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// snakeCase converts CamelCase to snake_case ("ContractEmployee" -> "contract_employee").
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
