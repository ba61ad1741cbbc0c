package schema

import (
	"bytes"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Values maps column names to field values.
type Values map[string]any

// Clone returns a deep-enough copy: byte slices are duplicated, everything else is a
// value type or treated as immutable.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

// Diff returns the columns of current whose value differs from v.
func (v Values) Diff(current Values) Values {
	changed := make(Values)
	for col, cur := range current {
		if !Equal(v[col], cur) {
			changed[col] = cur
		}
	}
	return changed
}

func cloneValue(v any) any {
	if b, ok := v.([]byte); ok && b != nil {
		return append([]byte(nil), b...)
	}
	return v
}

// Equal compares two field values. Decimals and times compare by value rather than
// representation (1.50 equals 1.5; the same instant in two zones is equal), byte slices
// by content, everything else with reflect.DeepEqual.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case decimal.NullDecimal:
		y, ok := b.(decimal.NullDecimal)
		return ok && x.Valid == y.Valid && (!x.Valid || x.Decimal.Equal(y.Decimal))
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return reflect.DeepEqual(a, b)
}
