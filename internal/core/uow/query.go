package uow

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
)

// Get returns the entity of type T with the given key and tracks it. An already
// tracked instance is returned as is, without reading storage.
func Get[T any](ctx context.Context, u *UnitOfWork, key any) (*T, error) {
	et, err := u.mapper.DescribeType(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	key, err = et.NormalizeKey(key)
	if err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	if tracked, ok := u.idmap.Lookup(et.Name, key); ok {
		return tracked.(*T), nil
	}

	var row map[string]any
	var found bool
	err = u.read(ctx, func(r tx.Reader) error {
		row, found, err = r.Fetch(ctx, et.Table, et.Key().Column, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found || !matchesVariant(et, row) {
		return nil, apperror.NewNotFound(et.Name, key)
	}

	entity := new(T)
	if err := et.Assign(entity, row); err != nil {
		return nil, err
	}
	if _, err := u.idmap.Attach(entity, nil); err != nil {
		return nil, err
	}
	return entity, nil
}

// Find returns every T matching filter and tracks them. Rows whose identity is already
// tracked resolve to the tracked instance, keeping its in-memory changes.
func Find[T any](ctx context.Context, u *UnitOfWork, filter tx.Filter) ([]*T, error) {
	return find[T](ctx, u, filter, true)
}

// FindNoTracking returns every T matching filter as plain values that the unit of work
// does not track.
func FindNoTracking[T any](ctx context.Context, u *UnitOfWork, filter tx.Filter) ([]*T, error) {
	return find[T](ctx, u, filter, false)
}

func find[T any](ctx context.Context, u *UnitOfWork, filter tx.Filter, track bool) ([]*T, error) {
	et, err := u.mapper.DescribeType(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	merged := make(tx.Filter, len(filter)+1)
	maps.Copy(merged, filter)
	maps.Copy(merged, et.Filter())

	var rows []map[string]any
	err = u.read(ctx, func(r tx.Reader) error {
		rows, err = r.Scan(ctx, et.Table, merged)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		entity := new(T)
		if err := et.Assign(entity, row); err != nil {
			return nil, err
		}
		if !track {
			out = append(out, entity)
			continue
		}

		key, err := et.KeyOf(entity)
		if err != nil {
			return nil, err
		}
		if tracked, ok := u.idmap.Lookup(et.Name, key); ok {
			out = append(out, tracked.(*T))
			continue
		}
		if _, err := u.idmap.Attach(entity, nil); err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Reload overwrites a tracked entity with the stored row and makes that row its new
// baseline, discarding in-memory changes. This is the "store wins" resolution of a
// conflict. A row deleted in the meantime detaches the entity and returns NotFound.
func (u *UnitOfWork) Reload(ctx context.Context, entity any) error {
	entry, err := u.entry(entity)
	if err != nil {
		return err
	}
	et := entry.EntityType()
	ident := entry.Identity()

	var row map[string]any
	var found bool
	err = u.read(ctx, func(r tx.Reader) error {
		row, found, err = r.Fetch(ctx, et.Table, et.Key().Column, ident.Key)
		return err
	})
	if err != nil {
		return err
	}

	u.idmap.Detach(ident)
	if !found {
		return apperror.NewNotFound(ident.Type, ident.Key)
	}
	if err := et.Assign(entity, row); err != nil {
		return err
	}
	_, err = u.idmap.Attach(entity, nil)
	return err
}

// read runs fn against the active transaction, or a short read-only one at the
// default isolation when none is active.
func (u *UnitOfWork) read(ctx context.Context, fn func(tx.Reader) error) error {
	if t := u.current; t != nil {
		return asStorage(fn(t.backend))
	}

	btx, err := u.backend.Begin(ctx, tx.Options{
		Isolation:      u.cfg.DefaultIsolation,
		ReadOnly:       true,
		CommandTimeout: u.cfg.CommandTimeout,
	})
	if err != nil {
		return asStorage(err)
	}
	if err := fn(btx); err != nil {
		if rbErr := btx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			u.logger(ctx).Errorw("rollback of read failed", "error", rbErr)
		}
		return asStorage(err)
	}
	return asStorage(btx.Commit(ctx))
}

// matchesVariant filters rows of a shared table down to the variant et maps.
func matchesVariant(et *schema.EntityType, row map[string]any) bool {
	if et.Discriminator == "" {
		return true
	}
	return sameText(row[et.Discriminator], et.DiscriminatorValue)
}

// sameText compares values the way they would print, since drivers return text
// columns as string or []byte.
func sameText(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		a = string(ab)
	}
	if bb, ok := b.([]byte); ok {
		b = string(bb)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
