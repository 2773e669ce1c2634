package chunkstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactReclaimsDeadEntries(t *testing.T) {
	s := newTestStore(t, WithAutoCompact(false))

	payload := func(key uint64, gen int) []byte {
		return bytes.Repeat([]byte{byte(key), byte(gen)}, 64)
	}

	for key := uint64(1); key <= 20; key++ {
		require.NoError(t, s.Set(key, payload(key, 0)))
	}
	// Overwrite half, delete a quarter.
	for key := uint64(1); key <= 10; key++ {
		require.NoError(t, s.Set(key, payload(key, 1)))
	}
	for key := uint64(16); key <= 20; key++ {
		require.NoError(t, s.Delete(key))
	}

	before := s.Stats()
	require.Greater(t, before.WastedBytes, uint64(0))

	require.NoError(t, s.Compact())

	after := s.Stats()
	assert.Equal(t, uint64(0), after.WastedBytes)
	assert.Equal(t, before.UsefulBytes, after.UsefulBytes)
	assert.Equal(t, before.LiveKeys, after.LiveKeys)
	assert.Less(t, after.FileSize, before.FileSize)

	// 15 live entries plus the file header and nothing else.
	wantSize := int64(fileHeaderSize) + 15*(entryHeaderSize+128)
	assert.Equal(t, wantSize, after.FileSize)

	// Every live chunk reads back its latest version; deleted keys stay gone.
	for key := uint64(1); key <= 10; key++ {
		assert.Equal(t, payload(key, 1), readBack(t, s, key))
	}
	for key := uint64(11); key <= 15; key++ {
		assert.Equal(t, payload(key, 0), readBack(t, s, key))
	}
	for key := uint64(16); key <= 20; key++ {
		_, err := s.Get(key, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestCompactEmptyStore(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Compact())
	assert.Equal(t, int64(fileHeaderSize), s.Stats().FileSize)
}

func TestCompactSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")

	s, err := Open(path, WithAutoCompact(false))
	require.NoError(t, err)
	require.NoError(t, s.Set(1, []byte("old")))
	require.NoError(t, s.Set(1, []byte("new value")))
	require.NoError(t, s.Compact())
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []byte("new value"), readBack(t, s, 1))
	assert.Equal(t, 1, s.Stats().LiveKeys)
}

func TestCompactLeavesNoTempFile(t *testing.T) {
	s := newTestStore(t, WithAutoCompact(false))
	require.NoError(t, s.Set(1, []byte("abc")))
	require.NoError(t, s.Set(1, []byte("def")))
	require.NoError(t, s.Compact())

	_, err := os.Stat(s.Path() + ".compact")
	assert.True(t, os.IsNotExist(err))
}

func TestAutoCompactTriggersOnFragmentation(t *testing.T) {
	s := newTestStore(t)

	data := bytes.Repeat([]byte{0xEE}, 100)
	require.NoError(t, s.Set(1, data))
	// One overwrite: wasted 100 / total 200, right at the 0.5 threshold,
	// no compaction yet.
	require.NoError(t, s.Set(1, data))
	assert.Equal(t, int64(fileHeaderSize+2*(entryHeaderSize+100)), s.Stats().FileSize)

	// Second overwrite: wasted 200 / total 300 crosses the threshold and
	// the log collapses back to a single live entry.
	require.NoError(t, s.Set(1, data))
	st := s.Stats()
	assert.Equal(t, int64(fileHeaderSize+entryHeaderSize+100), st.FileSize)
	assert.Equal(t, uint64(0), st.WastedBytes)
	assert.Equal(t, data, readBack(t, s, 1))
}

func TestAutoCompactDisabled(t *testing.T) {
	s := newTestStore(t, WithAutoCompact(false))

	data := bytes.Repeat([]byte{0xEE}, 100)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(1, data))
	}
	// Five generations of the same key, none reclaimed.
	assert.Equal(t, int64(fileHeaderSize+5*(entryHeaderSize+100)), s.Stats().FileSize)
}

func TestCompactStreamsLargePayloads(t *testing.T) {
	// A small stream buffer forces multi-pass copies even for modest chunks.
	s := newTestStore(t, WithAutoCompact(false), WithStreamBufferSize(512))

	data := make([]byte, 10_000)
	for i := range data {
		data[i] = byte(i >> 3)
	}
	require.NoError(t, s.Set(1, data))
	require.NoError(t, s.Set(1, data))
	require.NoError(t, s.Compact())

	assert.Equal(t, data, readBack(t, s, 1))
	assert.Equal(t, int64(fileHeaderSize+entryHeaderSize+10_000), s.Stats().FileSize)
}
