// Package sqlbuild renders backend statements as SQL with squirrel. The SQL backends
// share it and differ only in placeholder format.
package sqlbuild

import (
	"fmt"
	"sort"

	"github.com/Masterminds/squirrel"

	"unitwork/internal/core/tx"
)

// Builder renders statements for one placeholder format.
type Builder struct {
	sq squirrel.StatementBuilderType
}

// New returns a builder using ph (squirrel.Dollar, squirrel.Question, squirrel.AtP).
func New(ph squirrel.PlaceholderFormat) Builder {
	return Builder{sq: squirrel.StatementBuilder.PlaceholderFormat(ph)}
}

// Fetch selects one row by key.
func (b Builder) Fetch(table, keyColumn string, key any) (string, []any, error) {
	return b.sq.Select("*").From(table).Where(squirrel.Eq{keyColumn: key}).ToSql()
}

// Scan selects every row matching filter. Columns are compared for equality; a nil
// value matches NULL.
func (b Builder) Scan(table string, filter tx.Filter) (string, []any, error) {
	q := b.sq.Select("*").From(table)
	if len(filter) > 0 {
		q = q.Where(squirrel.Eq(filter))
	}
	return q.ToSql()
}

// Statement renders one write. Conditional updates and deletes carry the token
// predicate, so a stale token affects zero rows.
func (b Builder) Statement(st tx.Statement) (string, []any, error) {
	switch st.Kind {
	case tx.Insert:
		cols := sortedColumns(st.Values)
		vals := make([]any, len(cols))
		for i, col := range cols {
			vals[i] = st.Values[col]
		}
		return b.sq.Insert(st.Table).Columns(cols...).Values(vals...).ToSql()

	case tx.Update:
		if len(st.Values) == 0 {
			return "", nil, fmt.Errorf("sqlbuild: update of %s %v sets no columns", st.Table, st.Key)
		}
		q := b.sq.Update(st.Table).SetMap(st.Values).Where(squirrel.Eq{st.KeyColumn: st.Key})
		if st.Conditional() {
			q = q.Where(squirrel.Eq{st.TokenColumn: st.ExpectedToken})
		}
		return q.ToSql()

	case tx.Delete:
		q := b.sq.Delete(st.Table).Where(squirrel.Eq{st.KeyColumn: st.Key})
		if st.Conditional() {
			q = q.Where(squirrel.Eq{st.TokenColumn: st.ExpectedToken})
		}
		return q.ToSql()
	}
	return "", nil, fmt.Errorf("sqlbuild: unknown statement kind %d", st.Kind)
}

func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
