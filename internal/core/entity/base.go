// Package entity provides base structs embedded by tracked entities.
package entity

import (
	"unitwork/internal/core/id"
)

// Versioned carries the concurrency token. The unit of work owns it: it is set to 1 on
// insert and advanced by one on every committed update; callers only read it.
type Versioned struct {
	RowVersion int64 `db:"row_version" track:"version" json:"rowVersion"`
}

// Version returns the token captured at the last read or commit.
func (v *Versioned) Version() int64 {
	return v.RowVersion
}

// BaseEntity contains the fields shared by the demo entities: a client-assigned UUIDv7
// key and a row version.
type BaseEntity struct {
	// ID is the primary key (UUIDv7), assigned before the entity is attached so the
	// identity map can index it.
	ID id.ID `db:"id" track:"key" json:"id"`

	Versioned
}

// NewBaseEntity creates a new BaseEntity with generated ID.
func NewBaseEntity() BaseEntity {
	return BaseEntity{ID: id.New()}
}
