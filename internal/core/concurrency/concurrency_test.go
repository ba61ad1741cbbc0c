package concurrency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tracking"
	"unitwork/internal/core/tx"
)

type product struct {
	ID      string `db:"id" track:"key"`
	Name    string `db:"name"`
	Version int32  `db:"row_version" track:"version"`
}

type binaryDoc struct {
	ID      string `db:"id"`
	Body    string `db:"body"`
	Version []byte `db:"stamp" track:"version"`
}

type tag struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

type stubReader struct {
	rows map[any]map[string]any
	err  error
}

func (r stubReader) Fetch(_ context.Context, _, _ string, key any) (map[string]any, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	row, ok := r.rows[key]
	return row, ok, nil
}

func (r stubReader) Scan(context.Context, string, tx.Filter) ([]map[string]any, error) {
	return nil, nil
}

func pending(t *testing.T, tracker *tracking.ChangeTracker) []tracking.PendingOperation {
	t.Helper()
	var ops []tracking.PendingOperation
	for op := range tracker.PendingOperations() {
		ops = append(ops, op)
	}
	return ops
}

func newTracker() (*tracking.IdentityMap, *tracking.ChangeTracker) {
	idmap := tracking.NewIdentityMap(schema.NewMapper())
	return idmap, tracking.NewChangeTracker(idmap)
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name    string
		current any
		want    any
	}{
		{"int64", int64(1), int64(2)},
		{"int32 keeps type", int32(7), int32(8)},
		{"uint", uint(0), uint(1)},
		{"bytes", []byte{0, 0, 0, 0, 0, 0, 0, 0xff}, []byte{0, 0, 0, 0, 0, 0, 1, 0}},
		{"short bytes widen", []byte{1}, []byte{0, 0, 0, 0, 0, 0, 0, 2}},
		{"nil bytes", []byte(nil), []byte{0, 0, 0, 0, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdvance_Errors(t *testing.T) {
	_, err := Advance(nil)
	assert.Error(t, err)

	_, err = Advance("v1")
	assert.Error(t, err)

	_, err = Advance(int8(127))
	assert.Error(t, err)

	_, err = Advance(make([]byte, 9))
	assert.Error(t, err)
}

func TestInitialAndEqual(t *testing.T) {
	got, err := Initial(int64(0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = Initial(int64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	got, err = Initial([]byte(nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, got)

	assert.True(t, Equal(int32(3), int64(3)))
	assert.True(t, Equal([]byte{3}, []byte{0, 0, 0, 0, 0, 0, 0, 3}))
	assert.False(t, Equal([]byte{3}, int64(3)))
	assert.False(t, Equal(int64(-1), uint64(1)))
	assert.True(t, IsZero(nil))
	assert.True(t, IsZero([]byte{0, 0}))
}

func TestPlan_Insert(t *testing.T) {
	_, tracker := newTracker()
	p := &product{ID: "p1", Name: "Chai"}
	require.NoError(t, tracker.MarkAdded(p))

	ops := pending(t, tracker)
	require.Len(t, ops, 1)
	w, err := Plan(ops[0])
	require.NoError(t, err)

	assert.Equal(t, tx.Insert, w.Statement.Kind)
	assert.Equal(t, "product", w.Statement.Table)
	assert.False(t, w.Statement.Conditional())
	assert.Equal(t, map[string]any{"id": "p1", "name": "Chai", "row_version": int32(1)}, w.Statement.Values)
	assert.Equal(t, int32(1), w.NextToken)
	// Nothing is written into the entity at planning time.
	assert.Equal(t, int32(0), p.Version)
}

func TestPlan_UpdateAndDelete(t *testing.T) {
	idmap, tracker := newTracker()
	p := &product{ID: "p1", Name: "Chai", Version: 4}
	d := &binaryDoc{ID: "d1", Body: "x", Version: []byte{0, 0, 0, 0, 0, 0, 0, 9}}
	for _, e := range []any{p, d} {
		_, err := idmap.Attach(e, nil)
		require.NoError(t, err)
	}
	p.Name = "Chang"
	require.NoError(t, tracker.MarkDeleted(d))

	ops := pending(t, tracker)
	require.Len(t, ops, 2)

	upd, err := Plan(ops[0])
	require.NoError(t, err)
	assert.Equal(t, tx.Update, upd.Statement.Kind)
	assert.Equal(t, "row_version", upd.Statement.TokenColumn)
	assert.Equal(t, int32(4), upd.Statement.ExpectedToken)
	assert.Equal(t, map[string]any{"name": "Chang", "row_version": int32(5)}, upd.Statement.Values)
	assert.Equal(t, int32(5), upd.NextToken)

	del, err := Plan(ops[1])
	require.NoError(t, err)
	assert.Equal(t, tx.Delete, del.Statement.Kind)
	assert.Equal(t, "stamp", del.Statement.TokenColumn)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 9}, del.Statement.ExpectedToken)
	assert.Nil(t, del.NextToken)
	assert.Nil(t, del.Statement.Values)
}

func TestPlan_RejectsChangedKey(t *testing.T) {
	idmap, tracker := newTracker()
	p := &product{ID: "p1", Name: "Chai", Version: 1}
	_, err := idmap.Attach(p, nil)
	require.NoError(t, err)
	added := &product{ID: "p2", Name: "Chang"}
	require.NoError(t, tracker.MarkAdded(added))

	p.ID = "p9"
	added.ID = "p8"

	ops := pending(t, tracker)
	require.Len(t, ops, 2)
	for _, op := range ops {
		_, err := Plan(op)
		assert.True(t, apperror.HasCode(err, apperror.CodeKeyModified), "got %v", err)
	}
}

func TestPlan_NoTokenIsUnconditional(t *testing.T) {
	idmap, tracker := newTracker()
	g := &tag{ID: "t1", Name: "old"}
	_, err := idmap.Attach(g, nil)
	require.NoError(t, err)
	g.Name = "new"

	ops := pending(t, tracker)
	require.Len(t, ops, 1)
	w, err := Plan(ops[0])
	require.NoError(t, err)
	assert.False(t, w.Statement.Conditional())
	assert.Equal(t, map[string]any{"name": "new"}, w.Statement.Values)

	// Zero rows on an unconditional write is last-write-wins, not a conflict.
	assert.NoError(t, Validate(context.Background(), stubReader{}, w, 0))
}

func plannedUpdate(t *testing.T) Write {
	t.Helper()
	idmap, tracker := newTracker()
	p := &product{ID: "p1", Name: "Chai", Version: 1}
	_, err := idmap.Attach(p, nil)
	require.NoError(t, err)
	p.Name = "client"

	ops := pending(t, tracker)
	require.Len(t, ops, 1)
	w, err := Plan(ops[0])
	require.NoError(t, err)
	return w
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("rows affected", func(t *testing.T) {
		assert.NoError(t, Validate(ctx, stubReader{}, plannedUpdate(t), 1))
	})

	t.Run("row modified", func(t *testing.T) {
		server := map[string]any{"id": "p1", "name": "server", "row_version": int64(2)}
		err := Validate(ctx, stubReader{rows: map[any]map[string]any{"p1": server}}, plannedUpdate(t), 0)

		conflict, ok := apperror.AsConflict(err)
		require.True(t, ok)
		assert.Equal(t, apperror.ConflictRowModified, conflict.Kind)
		assert.Equal(t, "product", conflict.EntityType)
		assert.Equal(t, "p1", conflict.Key)
		assert.Equal(t, "client", conflict.ClientValues["name"])
		assert.Equal(t, "server", conflict.ServerValues["name"])
		assert.Equal(t, int32(1), conflict.ClientToken)
		assert.Equal(t, int64(2), conflict.ServerToken)
	})

	t.Run("row deleted", func(t *testing.T) {
		err := Validate(ctx, stubReader{}, plannedUpdate(t), 0)
		assert.True(t, apperror.IsConflictKind(err, apperror.ConflictRowDeleted))

		conflict, _ := apperror.AsConflict(err)
		assert.Nil(t, conflict.ServerValues)
		assert.Nil(t, conflict.ServerToken)
	})

	t.Run("re-read fails", func(t *testing.T) {
		boom := errors.New("boom")
		err := Validate(ctx, stubReader{err: boom}, plannedUpdate(t), 0)
		assert.ErrorIs(t, err, boom)
		assert.False(t, apperror.IsConflict(err))
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	writes := []Write{plannedUpdate(t), plannedUpdate(t)}

	assert.NoError(t, Check(ctx, stubReader{}, writes, []int64{1, 1}))
	assert.True(t, apperror.IsConflict(Check(ctx, stubReader{}, writes, []int64{1, 0})))
	assert.Error(t, Check(ctx, stubReader{}, writes, []int64{1}))
	assert.Len(t, Statements(writes), 2)
}
