package schema

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
)

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// assignValue stores v into dst. Drivers hand back int64 for every integer width,
// strings or []byte for numerics, and their own types for decimals; those are
// converted here.
func assignValue(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(reflect.ValueOf(cloneValue(v)))
		return nil
	}

	// pgx hands back uuid columns as [16]byte.
	if src.Kind() == reflect.Array && src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}

	if dst.Addr().Type().Implements(scannerType) {
		if valuer, ok := v.(driver.Valuer); ok {
			dv, err := valuer.Value()
			if err != nil {
				return err
			}
			v = dv
		}
		return dst.Addr().Interface().(sql.Scanner).Scan(v)
	}

	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return err
		}
		if dv == nil {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		src = reflect.ValueOf(dv)
	}

	switch {
	case isNumber(src.Kind()) && isNumber(dst.Kind()):
		dst.Set(src.Convert(dst.Type()))
		return nil
	case isInteger(src.Kind()) && dst.Kind() == reflect.Bool:
		dst.SetBool(src.Int() != 0)
		return nil
	case src.Kind() == reflect.String && dst.Kind() == reflect.String:
		dst.SetString(src.String())
		return nil
	case src.Kind() == reflect.Slice && src.Type().Elem().Kind() == reflect.Uint8 && dst.Kind() == reflect.String:
		dst.SetString(string(src.Bytes()))
		return nil
	case src.Kind() == reflect.String && dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8:
		dst.SetBytes([]byte(src.String()))
		return nil
	case src.Type().ConvertibleTo(dst.Type()) && src.Kind() == dst.Kind():
		dst.Set(src.Convert(dst.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
