package memheap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/types"
)

func TestHeap_InsertGetMarkDeleteRoundTrip(t *testing.T) {
	h := NewHeap(1)
	rid, err := h.InsertTuple(types.Tuple{Values: []any{1, "a"}})
	require.NoError(t, err)

	got, err := h.GetTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []any{1, "a"}, got.Values)

	require.NoError(t, h.MarkDelete(rid))
	_, err = h.GetTuple(rid)
	require.ErrorIs(t, err, ErrTupleNotFound)
}

func TestHeap_IteratorSkipsDeletedSlots(t *testing.T) {
	h := NewHeap(1)
	rid1, _ := h.InsertTuple(types.Tuple{Values: []any{1}})
	_, _ = h.InsertTuple(types.Tuple{Values: []any{2}})
	_, _ = h.InsertTuple(types.Tuple{Values: []any{3}})
	require.NoError(t, h.MarkDelete(rid1))

	it := h.Iterator()
	defer it.Close()
	var seen []any
	for {
		tuple, _, ok := it.Next()
		if !ok {
			break
		}
		seen = append(seen, tuple.Values[0])
	}
	require.Equal(t, []any{2, 3}, seen)
}

func TestCatalog_RegisterAndResolveTableAndIndex(t *testing.T) {
	cat := NewCatalog()
	schema := &types.Schema{Columns: []types.Column{{Name: "id", Type: "int"}}}
	info := cat.CreateTable("widgets", schema)

	byOID, err := cat.GetTable(info.OID)
	require.NoError(t, err)
	require.Equal(t, "widgets", byOID.Name)

	byName, err := cat.GetTableByName("widgets")
	require.NoError(t, err)
	require.Equal(t, info.OID, byName.OID)

	_, err = cat.GetTableByName("missing")
	require.ErrorIs(t, err, ErrTableNotFound)

	idx := cat.CreateIndex("widgets_pk", "widgets", nil, nil)
	byIdxOID, err := cat.GetIndex(idx.OID)
	require.NoError(t, err)
	require.Equal(t, "widgets_pk", byIdxOID.Name)

	indexes, err := cat.GetTableIndexes("widgets")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
}
