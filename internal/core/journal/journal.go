// Package journal records every committed row change as an extra insert executed in
// the same backend transaction, so the journal and the data can never disagree.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"unitwork/internal/core/id"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
)

// DefaultTable is where entries are written unless configured otherwise.
const DefaultTable = "uow_journal"

// Action is the kind of change journaled.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ActionOf maps a statement kind to its journal action.
func ActionOf(k tx.Kind) Action {
	switch k {
	case tx.Insert:
		return ActionInsert
	case tx.Delete:
		return ActionDelete
	}
	return ActionUpdate
}

// CompressionAlgo specifies how Changes is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// Entry is one journal row.
type Entry struct {
	ID                id.ID           `db:"id" track:"key" json:"id"`
	UnitID            string          `db:"unit_id" json:"unitId"`
	EntityType        string          `db:"entity_type" json:"entityType"`
	EntityKey         string          `db:"entity_key" json:"entityKey"`
	Action            Action          `db:"action" json:"action"`
	Changes           json.RawMessage `db:"changes" json:"changes,omitempty"`
	ChangesCompressed []byte          `db:"changes_compressed" json:"-"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo" json:"compressionAlgo"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// Change is the old and new value of one column.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Journal turns row changes into journal inserts.
type Journal struct {
	table             string
	etype             *schema.EntityType
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// Option configures a Journal.
type Option func(*Journal)

// WithTable overrides DefaultTable.
func WithTable(table string) Option {
	return func(j *Journal) { j.table = table }
}

// WithCompressThreshold sets the size in bytes above which changes are zstd compressed.
func WithCompressThreshold(n int) Option {
	return func(j *Journal) { j.compressThreshold = n }
}

// New creates a journal.
func New(opts ...Option) (*Journal, error) {
	j := &Journal{
		table:             DefaultTable,
		compressThreshold: 10 * 1024, // 10KB
	}
	for _, opt := range opts {
		opt(j)
	}

	etype, err := schema.NewMapper().Register(Entry{}, schema.Options{Name: "JournalEntry", Table: j.table})
	if err != nil {
		return nil, err
	}
	j.etype = etype

	j.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	j.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return j, nil
}

// Table returns the table entries are written to.
func (j *Journal) Table() string { return j.table }

// EntityType returns the mapping of Entry, for reading the journal back.
func (j *Journal) EntityType() *schema.EntityType { return j.etype }

// Record builds the entry for one row change and the insert that stores it.
// oldValues is nil for inserts and newValues is nil for deletes.
func (j *Journal) Record(unitID, entityType string, key any, action Action, oldValues, newValues schema.Values, at time.Time) (Entry, tx.Statement, error) {
	changesJSON, err := json.Marshal(Diff(oldValues, newValues))
	if err != nil {
		return Entry{}, tx.Statement{}, fmt.Errorf("marshal changes: %w", err)
	}

	entry := Entry{
		ID:              id.New(),
		UnitID:          unitID,
		EntityType:      entityType,
		EntityKey:       fmt.Sprint(key),
		Action:          action,
		Changes:         changesJSON,
		CompressionAlgo: CompressionNone,
		CreatedAt:       at.UTC(),
	}

	// Compress large changes
	if len(changesJSON) > j.compressThreshold {
		entry.ChangesCompressed = j.encoder.EncodeAll(changesJSON, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}

	vals, err := j.etype.RowValues(&entry)
	if err != nil {
		return Entry{}, tx.Statement{}, err
	}
	return entry, tx.Statement{
		Kind:      tx.Insert,
		Table:     j.table,
		KeyColumn: j.etype.Key().Column,
		Key:       entry.ID,
		Values:    vals,
	}, nil
}

// Decode returns the per-column changes of e, decompressing when needed.
func (j *Journal) Decode(e Entry) (map[string]Change, error) {
	raw := []byte(e.Changes)
	if e.CompressionAlgo == CompressionZstd && len(e.ChangesCompressed) > 0 {
		decompressed, err := j.decoder.DecodeAll(e.ChangesCompressed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress changes: %w", err)
		}
		raw = decompressed
	}
	if len(raw) == 0 {
		return map[string]Change{}, nil
	}

	var changes map[string]Change
	if err := json.Unmarshal(raw, &changes); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	return changes, nil
}

// Diff calculates the difference between old and new row states.
func Diff(oldState, newState schema.Values) map[string]Change {
	changes := make(map[string]Change)

	for key, newVal := range newState {
		oldVal, exists := oldState[key]
		if !exists || !schema.Equal(oldVal, newVal) {
			changes[key] = Change{Old: oldVal, New: newVal}
		}
	}
	for key, oldVal := range oldState {
		if _, exists := newState[key]; !exists {
			changes[key] = Change{Old: oldVal}
		}
	}

	return changes
}
