// Package concurrency plans token-predicated writes and turns zero-row results into
// typed conflicts.
package concurrency

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// TokenSize is the width of binary row-version tokens.
const TokenSize = 8

// Advance returns the token that follows current. Integers count up by one keeping
// their type; byte slices are treated as big-endian counters and always come back
// TokenSize bytes long.
func Advance(current any) (any, error) {
	if b, ok := current.([]byte); ok {
		if len(b) > TokenSize {
			return nil, fmt.Errorf("concurrency: binary token of %d bytes exceeds %d", len(b), TokenSize)
		}
		return encode(decode(b) + 1), nil
	}

	rv := reflect.ValueOf(current)
	if !rv.IsValid() {
		return nil, fmt.Errorf("concurrency: nil token")
	}
	next := reflect.New(rv.Type()).Elem()
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if next.OverflowInt(rv.Int() + 1) {
			return nil, fmt.Errorf("concurrency: token %v overflows %s", current, rv.Type())
		}
		next.SetInt(rv.Int() + 1)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if next.OverflowUint(rv.Uint() + 1) {
			return nil, fmt.Errorf("concurrency: token %v overflows %s", current, rv.Type())
		}
		next.SetUint(rv.Uint() + 1)
	default:
		return nil, fmt.Errorf("concurrency: unsupported token type %T", current)
	}
	return next.Interface(), nil
}

// Initial returns the token a new row is inserted with: current itself when set,
// otherwise the first value of its type.
func Initial(current any) (any, error) {
	if !IsZero(current) {
		return current, nil
	}
	if _, ok := current.([]byte); ok {
		return encode(1), nil
	}
	return Advance(current)
}

// IsZero reports whether a token has never been assigned.
func IsZero(token any) bool {
	if token == nil {
		return true
	}
	if b, ok := token.([]byte); ok {
		return decode(b) == 0
	}
	return reflect.ValueOf(token).IsZero()
}

// Equal compares two tokens byte-for-byte or numerically. Drivers widen integers, so
// an int32 token equals the int64 a backend reports for it.
func Equal(a, b any) bool {
	ab, aBytes := a.([]byte)
	bb, bBytes := b.([]byte)
	if aBytes || bBytes {
		return aBytes && bBytes && decode(ab) == decode(bb)
	}
	ai, aok := asUint64(a)
	bi, bok := asUint64(b)
	if aok && bok {
		return ai == bi
	}
	return reflect.DeepEqual(a, b)
}

func asUint64(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, false
		}
		return uint64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	}
	return 0, false
}

func decode(b []byte) uint64 {
	if len(b) > TokenSize {
		b = b[len(b)-TokenSize:]
	}
	var buf [TokenSize]byte
	copy(buf[TokenSize-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}

func encode(n uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, TokenSize), n)
}
