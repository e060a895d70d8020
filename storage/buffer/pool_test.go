package buffer

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coredb/storage/diskmgr"
	"coredb/storage/page"
)

func newTestPool(t *testing.T, poolSize, k int) *BufferPool {
	t.Helper()
	dir := t.TempDir()
	dm, err := diskmgr.Open(filepath.Join(dir, "data.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Shutdown() })
	return NewBufferPool(poolSize, k, dm, nil)
}

// Concrete scenario 1 from spec.md §8: pool size 10, K=5. Fill the
// first new page (id 1, since the disk manager reserves page 0)
// with random bytes including embedded NULs, exhaust the pool, verify
// it rejects further allocation, free frames, and round-trip the
// original bytes through an eviction.
func TestBufferPool_BinaryRoundTrip(t *testing.T) {
	bp := newTestPool(t, 10, 5)

	pg0, ok, err := bp.NewPage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, pg0.PinCount())

	payload := make([]byte, page.Size)
	rand.New(rand.NewSource(42)).Read(payload)
	payload[100] = 0
	payload[200] = 0
	copy(pg0.Data(), payload)
	pg0.SetDirty(true)
	id0 := pg0.ID()

	for i := 0; i < 9; i++ {
		_, ok, err := bp.NewPage()
		require.NoError(t, err)
		require.True(t, ok, "pool should not be full yet at page %d", i)
	}

	for i := 0; i < 10; i++ {
		_, ok, err := bp.NewPage()
		require.NoError(t, err)
		assert.False(t, ok, "pool is fully pinned, NewPage must return none")
	}
	for i := 0; i < 10; i++ {
		_, ok, err := bp.FetchPage(page.ID(999 + i))
		require.NoError(t, err)
		assert.False(t, ok, "pool is fully pinned, FetchPage must return none")
	}

	for i := int64(0); i < 5; i++ {
		assert.True(t, bp.UnpinPage(id0+page.ID(i), true))
	}

	for i := 0; i < 5; i++ {
		pg, ok, err := bp.NewPage()
		require.NoError(t, err)
		require.True(t, ok, "five unpinned frames should now be reusable")
		require.True(t, bp.UnpinPage(pg.ID(), false))
	}

	got, ok, err := bp.FetchPage(id0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got.Data(), "round-tripped page must match what was written before eviction")
}

func TestBufferPool_UnpinTracksPinCountAndEvictability(t *testing.T) {
	bp := newTestPool(t, 2, 2)

	pg, ok, err := bp.NewPage()
	require.NoError(t, err)
	require.True(t, ok)
	id := pg.ID()

	assert.False(t, bp.DeletePage(id), "pinned page cannot be deleted")

	assert.True(t, bp.UnpinPage(id, false))
	assert.EqualValues(t, 0, pg.PinCount())
	assert.Equal(t, 1, bp.replacer.Size(), "a fully unpinned frame must become evictable")

	assert.False(t, bp.UnpinPage(id, false), "unpinning an already-zero pin count must fail")
}

func TestBufferPool_DeletePageMakesFetchLookFresh(t *testing.T) {
	bp := newTestPool(t, 4, 2)

	pg, _, err := bp.NewPage()
	require.NoError(t, err)
	copy(pg.Data(), []byte("hello"))
	id := pg.ID()
	require.True(t, bp.UnpinPage(id, true))

	require.True(t, bp.DeletePage(id))

	fetched, ok, err := bp.FetchPage(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, make([]byte, page.Size), fetched.Data(), "deleted-then-refetched page must read back blank")
}

func TestBufferPool_FlushPageIndependentOfPinCount(t *testing.T) {
	bp := newTestPool(t, 2, 2)

	pg, _, err := bp.NewPage()
	require.NoError(t, err)
	copy(pg.Data(), []byte("payload"))
	pg.SetDirty(true)
	id := pg.ID()

	flushed, err := bp.FlushPage(id)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.False(t, pg.IsDirty())
	assert.EqualValues(t, 1, pg.PinCount(), "flush must not touch pin count")

	flushed, err = bp.FlushPage(page.ID(123456))
	require.NoError(t, err)
	assert.False(t, flushed, "flushing a non-resident page must report false")
}

func TestBufferPool_NonExistentWrites(t *testing.T) {
	// Never-written pages read back as zero-filled.
	dir := t.TempDir()
	dm, err := diskmgr.Open(filepath.Join(dir, "data.db"), nil)
	require.NoError(t, err)
	defer dm.Shutdown()

	buf := make([]byte, page.Size)
	require.NoError(t, dm.ReadPage(page.ID(77), buf))
	assert.Equal(t, make([]byte, page.Size), buf)
	_, err = os.Stat(filepath.Join(dir, "data.db"))
	require.NoError(t, err)
}
