package exec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/concurrency/lockmgr"
	"coredb/execution/memheap"
	"coredb/types"
)

// equalJoinEvaluator implements types.ExpressionEvaluator with the one
// operation these tests need: an equi-join on a named column plus a
// stub Evaluate, always (nil, nil), used only by tests that don't touch
// predicates.
type equalJoinEvaluator struct {
	leftCol, rightCol string
}

func (e equalJoinEvaluator) Evaluate(t types.Tuple, schema *types.Schema) (any, error) {
	return nil, nil
}

func (e equalJoinEvaluator) EvaluateJoin(left types.Tuple, leftSchema *types.Schema, right types.Tuple, rightSchema *types.Schema) (any, error) {
	li := leftSchema.IndexOf(e.leftCol)
	ri := rightSchema.IndexOf(e.rightCol)
	return left.Values[li] == right.Values[ri], nil
}

func schemaOf(names ...string) *types.Schema {
	cols := make([]types.Column, len(names))
	for i, n := range names {
		cols[i] = types.Column{Name: n, Type: "int"}
	}
	return &types.Schema{Columns: cols}
}

func newCtx(t *testing.T) (*ExecContext, *memheap.Catalog) {
	cat := memheap.NewCatalog()
	lm := lockmgr.New(nil)
	txn := lm.Begin(lockmgr.ReadCommitted)
	return &ExecContext{Txn: txn, LockMgr: lm, Catalog: cat}, cat
}

// fixedExecutor replays a canned slice of tuples, for tests that need
// a child without building a real table heap.
type fixedExecutor struct {
	schema *types.Schema
	tuples []types.Tuple
	idx    int
}

func (f *fixedExecutor) Init() error { f.idx = 0; return nil }
func (f *fixedExecutor) Next() (types.Tuple, types.RID, bool, error) {
	if f.idx >= len(f.tuples) {
		return types.Tuple{}, types.RID{}, false, nil
	}
	t := f.tuples[f.idx]
	f.idx++
	return t, types.RID{}, true, nil
}
func (f *fixedExecutor) Schema() *types.Schema { return f.schema }

func drain(t *testing.T, e Executor) []types.Tuple {
	require.NoError(t, e.Init())
	var out []types.Tuple
	for {
		tuple, _, ok, err := e.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, tuple)
	}
	return out
}

func TestSeqScanExecutor_EmitsAllLiveTuples(t *testing.T) {
	ctx, cat := newCtx(t)
	info := cat.CreateTable("widgets", schemaOf("id", "name"))
	rid1, err := info.Heap.InsertTuple(types.Tuple{Values: []any{1, "a"}})
	require.NoError(t, err)
	_, err = info.Heap.InsertTuple(types.Tuple{Values: []any{2, "b"}})
	require.NoError(t, err)
	require.NoError(t, info.Heap.MarkDelete(rid1))

	scan := NewSeqScanExecutor(ctx, info.OID)
	rows := drain(t, scan)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].Values[0])
}

func TestInsertThenDeleteExecutor_MaintainsHeapAndCount(t *testing.T) {
	ctx, cat := newCtx(t)
	info := cat.CreateTable("widgets", schemaOf("id", "name"))

	child := &fixedExecutor{schema: info.Schema, tuples: []types.Tuple{
		{Values: []any{1, "a"}},
		{Values: []any{2, "b"}},
	}}
	insert := NewInsertExecutor(ctx, info.OID, child)
	rows := drain(t, insert)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].Values[0])

	scan := NewSeqScanExecutor(ctx, info.OID)
	require.Len(t, drain(t, scan), 2)

	delScan := NewSeqScanExecutor(ctx, info.OID)
	del := NewDeleteExecutor(ctx, info.OID, delScan)
	delRows := drain(t, del)
	require.Equal(t, 2, delRows[0].Values[0])

	finalScan := NewSeqScanExecutor(ctx, info.OID)
	require.Empty(t, drain(t, finalScan))
}

func TestNestedLoopJoinExecutor_InnerAndLeft(t *testing.T) {
	left := &fixedExecutor{schema: schemaOf("lk"), tuples: []types.Tuple{
		{Values: []any{1}}, {Values: []any{2}},
	}}
	rightInner := &fixedExecutor{schema: schemaOf("rk"), tuples: []types.Tuple{
		{Values: []any{1}},
	}}
	eval := equalJoinEvaluator{leftCol: "lk", rightCol: "rk"}

	inner := NewNestedLoopJoinExecutor(eval, InnerJoin, left, rightInner)
	innerRows := drain(t, inner)
	require.Len(t, innerRows, 1)
	require.Equal(t, []any{1, 1}, innerRows[0].Values)

	left2 := &fixedExecutor{schema: schemaOf("lk"), tuples: []types.Tuple{
		{Values: []any{1}}, {Values: []any{2}},
	}}
	rightInner2 := &fixedExecutor{schema: schemaOf("rk"), tuples: []types.Tuple{
		{Values: []any{1}},
	}}
	leftJoin := NewNestedLoopJoinExecutor(eval, LeftJoin, left2, rightInner2)
	leftRows := drain(t, leftJoin)
	require.Len(t, leftRows, 2)
	require.Equal(t, []any{1, 1}, leftRows[0].Values)
	require.Equal(t, []any{2, nil}, leftRows[1].Values)
}

func TestSortExecutor_OrdersByColumn(t *testing.T) {
	child := &fixedExecutor{schema: schemaOf("n"), tuples: []types.Tuple{
		{Values: []any{3}}, {Values: []any{1}}, {Values: []any{2}},
	}}
	sorted := NewSortExecutor(nil, child, []OrderByTerm{{Column: "n"}})
	rows := drain(t, sorted)
	require.Equal(t, []any{1}, rows[0].Values)
	require.Equal(t, []any{2}, rows[1].Values)
	require.Equal(t, []any{3}, rows[2].Values)
}

func TestTopNExecutor_TruncatesAfterSort(t *testing.T) {
	child := &fixedExecutor{schema: schemaOf("n"), tuples: []types.Tuple{
		{Values: []any{5}}, {Values: []any{1}}, {Values: []any{3}}, {Values: []any{2}},
	}}
	top := NewTopNExecutor(nil, child, []OrderByTerm{{Column: "n", Desc: true}}, 2)
	rows := drain(t, top)
	require.Len(t, rows, 2)
	require.Equal(t, []any{5}, rows[0].Values)
	require.Equal(t, []any{3}, rows[1].Values)
}

func TestAggregateExecutor_GroupByWithCountSumMinMax(t *testing.T) {
	child := &fixedExecutor{schema: schemaOf("grp", "amt"), tuples: []types.Tuple{
		{Values: []any{"a", 10}},
		{Values: []any{"a", 20}},
		{Values: []any{"b", 5}},
	}}
	agg := NewAggregateExecutor(child, []string{"grp"}, []AggSpec{
		{Func: CountStar}, {Func: Sum, Column: "amt"}, {Func: Min, Column: "amt"}, {Func: Max, Column: "amt"},
	})
	rows := drain(t, agg)
	require.Len(t, rows, 2)

	byGroup := map[string][]any{}
	for _, r := range rows {
		byGroup[r.Values[0].(string)] = r.Values[1:]
	}
	require.Equal(t, []any{int64(2), 30.0, 10, 20}, byGroup["a"])
	require.Equal(t, []any{int64(1), 5.0, 5, 5}, byGroup["b"])
}

func TestAggregateExecutor_EmptyInputEmptyGroupByYieldsZeroRow(t *testing.T) {
	child := &fixedExecutor{schema: schemaOf("amt")}
	agg := NewAggregateExecutor(child, nil, []AggSpec{
		{Func: CountStar}, {Func: Sum, Column: "amt"},
	})
	rows := drain(t, agg)
	require.Len(t, rows, 1)
	require.Equal(t, int64(0), rows[0].Values[0])
	require.Nil(t, rows[0].Values[1])
}

func TestAggregateExecutor_EmptyInputNonEmptyGroupByYieldsNoRows(t *testing.T) {
	child := &fixedExecutor{schema: schemaOf("grp", "amt")}
	agg := NewAggregateExecutor(child, []string{"grp"}, []AggSpec{{Func: CountStar}})
	require.Empty(t, drain(t, agg))
}
