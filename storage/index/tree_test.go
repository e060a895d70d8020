package index

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"coredb/storage/buffer"
	"coredb/storage/diskmgr"
	"coredb/types"
)

func intKey(k int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(k))
	return buf
}

func intCmp(a, b []byte) int { return bytes.Compare(a, b) }

func newTestTree(t *testing.T, leafMax, internalMax int) *BPlusTree {
	t.Helper()
	dir := t.TempDir()
	disk, err := diskmgr.Open(dir+"/index.db", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Shutdown() })

	bp := buffer.NewBufferPool(64, 5, disk, nil)
	tree, err := Open("pk", bp, intCmp, leafMax, internalMax, nil)
	require.NoError(t, err)
	return tree
}

func TestBPlusTree_InsertGetRoundTrip(t *testing.T) {
	tree := newTestTree(t, 32, 32)
	rng := rand.New(rand.NewSource(1))
	want := map[int64]types.RID{}
	for i := 0; i < 500; i++ {
		k := rng.Int63n(100000)
		if _, exists := want[k]; exists {
			continue
		}
		rid := types.RID{PageID: k, Slot: uint32(i)}
		ok, err := tree.Insert(intKey(k), rid)
		require.NoError(t, err)
		require.True(t, ok)
		want[k] = rid
	}
	for k, rid := range want {
		got, ok, err := tree.Get(intKey(k))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rid, got)
	}
}

func TestBPlusTree_DuplicateInsertRejected(t *testing.T) {
	tree := newTestTree(t, 8, 8)
	ok, err := tree.Insert(intKey(42), types.RID{PageID: 1, Slot: 0})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(intKey(42), types.RID{PageID: 2, Slot: 0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBPlusTree_RemoveAllReturnsToEmpty(t *testing.T) {
	tree := newTestTree(t, 6, 6)
	keys := []int64{10, 20, 5, 15, 25, 1, 30, 7, 12, 18, 22, 28}
	for i, k := range keys {
		ok, err := tree.Insert(intKey(k), types.RID{PageID: k, Slot: uint32(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.False(t, tree.IsEmpty())

	for _, k := range keys {
		ok, err := tree.Remove(intKey(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, tree.IsEmpty())

	for _, k := range keys {
		_, ok, err := tree.Get(intKey(k))
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestBPlusTree_RemoveAbsentKeyIsNoOp(t *testing.T) {
	tree := newTestTree(t, 8, 8)
	ok, err := tree.Remove(intKey(99))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = tree.Insert(intKey(1), types.RID{PageID: 1})
	require.NoError(t, err)
	ok, err = tree.Remove(intKey(2))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBPlusTree_IteratorOrderingFromKey(t *testing.T) {
	tree := newTestTree(t, 5, 5)
	keys := []int64{50, 10, 30, 20, 40, 60, 5, 15, 25, 35, 45, 55}
	for _, k := range keys {
		_, err := tree.Insert(intKey(k), types.RID{PageID: k})
		require.NoError(t, err)
	}

	it, err := tree.BeginAt(intKey(25))
	require.NoError(t, err)
	defer it.Close()

	var got []int64
	for it.Valid() {
		got = append(got, int64(binary.BigEndian.Uint64(it.Key())))
		it.Next()
	}
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
	require.Equal(t, int64(25), got[0])
	require.Equal(t, 8, len(got)) // 25,30,35,40,45,50,55,60
}

func TestBPlusTree_FullIteratorCoversAllKeysInOrder(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	keys := []int64{2, 4, 15, 3, 7, 16, 18, 22, 20, 25, 11, 13}
	for _, k := range keys {
		_, err := tree.Insert(intKey(k), types.RID{PageID: k})
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var got []int64
	for it.Valid() {
		got = append(got, int64(binary.BigEndian.Uint64(it.Key())))
		it.Next()
	}
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}

// TestBPlusTree_DeleteRebalanceScenario replays spec.md's concrete
// max_size=4 insert/remove sequence, checking membership at each
// checkpoint rather than raw node layout.
func TestBPlusTree_DeleteRebalanceScenario(t *testing.T) {
	tree := newTestTree(t, 4, 4)

	insert := []int64{2, 4, 15, 3, 7, 16, 18, 22, 20, 25, 11, 13}
	for _, k := range insert {
		ok, err := tree.Insert(intKey(k), types.RID{PageID: k})
		require.NoError(t, err)
		require.True(t, ok)
	}
	requireAllPresent(t, tree, insert)

	for _, k := range []int64{15, 16} {
		ok, err := tree.Remove(intKey(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	requireAbsent(t, tree, []int64{15, 16})
	requireAllPresent(t, tree, []int64{2, 4, 3, 7, 18, 22, 20, 25, 11, 13})

	for _, k := range []int64{8, 26} {
		ok, err := tree.Insert(intKey(k), types.RID{PageID: k})
		require.NoError(t, err)
		require.True(t, ok)
	}

	for _, k := range []int64{4, 20, 7} {
		ok, err := tree.Remove(intKey(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	requireAbsent(t, tree, []int64{4, 20, 7})

	remaining := []int64{2, 3, 18, 22, 25, 11, 13, 8, 26}
	requireAllPresent(t, tree, remaining)

	for _, k := range remaining {
		ok, err := tree.Remove(intKey(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, tree.IsEmpty())
}

func requireAllPresent(t *testing.T, tree *BPlusTree, keys []int64) {
	t.Helper()
	for _, k := range keys {
		_, ok, err := tree.Get(intKey(k))
		require.NoError(t, err)
		require.True(t, ok, "expected key %d present", k)
	}
}

func requireAbsent(t *testing.T, tree *BPlusTree, keys []int64) {
	t.Helper()
	for _, k := range keys {
		_, ok, err := tree.Get(intKey(k))
		require.NoError(t, err)
		require.False(t, ok, "expected key %d absent", k)
	}
}

func TestBPlusTree_ConcurrentInsertGet(t *testing.T) {
	tree := newTestTree(t, 16, 16)

	const perWorker = 200
	const workers = 8
	results := make([]map[int64]types.RID, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			local := map[int64]types.RID{}
			rng := rand.New(rand.NewSource(int64(w) + 1))
			for i := 0; i < perWorker; i++ {
				k := int64(w)*1_000_000 + int64(i)
				rid := types.RID{PageID: k, Slot: uint32(rng.Intn(1000))}
				ok, err := tree.Insert(intKey(k), rid)
				if err == nil && ok {
					local[k] = rid
				}
			}
			results[w] = local
			return nil
		})
	}
	require.NoError(t, g.Wait())

	inserted := map[int64]types.RID{}
	for _, local := range results {
		for k, v := range local {
			inserted[k] = v
		}
	}

	for k, rid := range inserted {
		got, ok, err := tree.Get(intKey(k))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rid, got)
	}
}
