package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUKReplacer_DegeneratesToLRUAtK1(t *testing.T) {
	r := NewLRUKReplacer(4, 1)
	for _, f := range []FrameID{0, 1, 2} {
		require.NoError(t, r.RecordAccess(f))
		r.SetEvictable(f, true)
	}
	require.NoError(t, r.RecordAccess(0)) // 0 becomes most recently used

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(1), victim, "classical LRU: least recently used frame evicted first")
}

func TestLRUKReplacer_KDistanceTieBreak(t *testing.T) {
	// Accesses [A, B, A] with K=2: A has a finite backward 2-distance,
	// B has only one access so its distance is +inf and wins eviction.
	r := NewLRUKReplacer(4, 2)
	require.NoError(t, r.RecordAccess(0)) // A @ t=1
	require.NoError(t, r.RecordAccess(1)) // B @ t=2
	require.NoError(t, r.RecordAccess(0)) // A @ t=3
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(1), victim)
}

func TestLRUKReplacer_NonEvictableNeverVictim(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(1))
	r.SetEvictable(0, false)
	r.SetEvictable(1, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(1), victim)

	_, ok = r.Evict()
	assert.False(t, ok, "frame 0 was never made evictable, nothing left to evict")
}

func TestLRUKReplacer_RecordAccessOutOfRangeAborts(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	assert.Error(t, r.RecordAccess(5))
}

func TestLRUKReplacer_RemoveNonEvictableAborts(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	require.NoError(t, r.RecordAccess(0))
	assert.Error(t, r.Remove(0), "Remove on a non-evictable frame must abort")
}

func TestLRUKReplacer_SizeTracksEvictableOnly(t *testing.T) {
	r := NewLRUKReplacer(4, 2)
	require.NoError(t, r.RecordAccess(0))
	require.NoError(t, r.RecordAccess(1))
	assert.Equal(t, 0, r.Size())
	r.SetEvictable(0, true)
	assert.Equal(t, 1, r.Size())
	r.SetEvictable(0, true) // no-op, already evictable
	assert.Equal(t, 1, r.Size())
	r.SetEvictable(0, false)
	assert.Equal(t, 0, r.Size())
}
