package chunkstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexPutGetRemove(t *testing.T) {
	idx := newHashIndex(64)

	require.True(t, idx.put(1, 8, 100))
	require.True(t, idx.put(2, 124, 200))

	slot, ok := idx.get(1)
	require.True(t, ok)
	assert.Equal(t, uint32(8), slot.offset)
	assert.Equal(t, uint32(100), slot.size)

	_, ok = idx.get(3)
	assert.False(t, ok)

	idx.remove(1)
	_, ok = idx.get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, idx.live)
}

func TestIndexCountersTrackOverwrites(t *testing.T) {
	idx := newHashIndex(64)

	require.True(t, idx.put(1, 8, 100))
	assert.Equal(t, uint64(100), idx.usefulBytes)
	assert.Equal(t, uint64(0), idx.wastedBytes)

	// Overwrite: the old payload becomes waste.
	require.True(t, idx.put(1, 124, 250))
	assert.Equal(t, uint64(250), idx.usefulBytes)
	assert.Equal(t, uint64(100), idx.wastedBytes)
	assert.Equal(t, 1, idx.live)

	// Remove: the live payload becomes waste too.
	idx.remove(1)
	assert.Equal(t, uint64(0), idx.usefulBytes)
	assert.Equal(t, uint64(350), idx.wastedBytes)
	assert.Equal(t, 0, idx.live)
}

func TestIndexLinearProbing(t *testing.T) {
	idx := newHashIndex(8)

	// Force collisions by filling most of a tiny table; every key must
	// remain retrievable regardless of probe order.
	keys := []uint64{1, 2, 3, 4, 5, 6}
	for i, k := range keys {
		require.True(t, idx.put(k, uint32(8+i*16), 10))
	}
	for i, k := range keys {
		slot, ok := idx.get(k)
		require.True(t, ok, "key %d", k)
		assert.Equal(t, uint32(8+i*16), slot.offset)
	}
}

func TestIndexTableFull(t *testing.T) {
	idx := newHashIndex(4)

	require.True(t, idx.put(1, 0, 1))
	require.True(t, idx.put(2, 0, 1))
	require.True(t, idx.put(3, 0, 1))
	require.True(t, idx.put(4, 0, 1))

	// A new key cannot be placed...
	assert.False(t, idx.put(5, 0, 1))

	// ...but existing keys can still be updated in place.
	assert.True(t, idx.put(3, 64, 9))
	slot, ok := idx.get(3)
	require.True(t, ok)
	assert.Equal(t, uint32(9), slot.size)
}

func TestIndexReset(t *testing.T) {
	idx := newHashIndex(16)
	require.True(t, idx.put(1, 8, 100))
	require.True(t, idx.put(2, 124, 50))

	idx.reset()
	assert.Equal(t, 0, idx.live)
	assert.Equal(t, uint64(0), idx.usefulBytes)
	assert.Equal(t, uint64(0), idx.wastedBytes)
	_, ok := idx.get(1)
	assert.False(t, ok)
}

func TestIndexForEach(t *testing.T) {
	idx := newHashIndex(32)
	want := map[uint64]uint32{10: 100, 20: 200, 30: 300}
	off := uint32(8)
	for k, size := range want {
		require.True(t, idx.put(k, off, size))
		off += 16 + size
	}

	got := map[uint64]uint32{}
	idx.forEach(func(s hashSlot) bool {
		got[s.key] = s.size
		return true
	})
	assert.Equal(t, want, got)
}
