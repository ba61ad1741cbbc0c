package context

import (
	"context"
)

// UnitScope identifies the unit of work and transaction a call runs in.
type UnitScope struct {
	UnitID        string
	TransactionID string
	Isolation     string
}

type unitScopeKey struct{}

// WithUnitScope adds UnitScope to context.
func WithUnitScope(ctx context.Context, scope *UnitScope) context.Context {
	return context.WithValue(ctx, unitScopeKey{}, scope)
}

// GetUnitScope returns UnitScope from context.
func GetUnitScope(ctx context.Context) *UnitScope {
	if v, ok := ctx.Value(unitScopeKey{}).(*UnitScope); ok {
		return v
	}
	return nil
}
