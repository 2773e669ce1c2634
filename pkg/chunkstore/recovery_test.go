package chunkstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLog creates a closed log at path with three 32-byte chunks under
// keys 1..3 and returns its final size. Layout, for byte-surgery below:
//
//	offset   8: entry key 1 (payload at 24)
//	offset  56: entry key 2 (payload at 72)
//	offset 104: entry key 3 (payload at 120)
//	size   152
func buildLog(t *testing.T, path string) int64 {
	t.Helper()

	s, err := Open(path)
	require.NoError(t, err)
	for key := uint64(1); key <= 3; key++ {
		require.NoError(t, s.Set(key, bytes.Repeat([]byte{byte(key)}, 32)))
	}
	require.NoError(t, s.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(152), fi.Size())
	return fi.Size()
}

// flipByteAt XORs one byte of the file in place.
func flipByteAt(t *testing.T, path string, offset int64) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()

	var b [1]byte
	_, err = f.ReadAt(b[:], offset)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], offset)
	require.NoError(t, err)
}

func TestRecoveryTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	size := buildLog(t, path)

	// Chop a few bytes off the last entry's payload, as if the process died
	// mid-append.
	require.NoError(t, os.Truncate(path, size-5))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	// Keys 1 and 2 survive; the interrupted third entry is discarded and the
	// file is trimmed back to the last committed entry.
	assert.ElementsMatch(t, []uint64{1, 2}, s.Keys())
	assert.Equal(t, int64(104), s.Stats().FileSize)
	assert.Equal(t, bytes.Repeat([]byte{2}, 32), readBack(t, s, 2))
}

func TestRecoveryTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	buildLog(t, path)

	// Leave only half of the third entry's header behind.
	require.NoError(t, os.Truncate(path, 104+8))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.ElementsMatch(t, []uint64{1, 2}, s.Keys())
	assert.Equal(t, int64(104), s.Stats().FileSize)
}

func TestRecoveryChecksumMismatchAtTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	buildLog(t, path)

	// Damage a payload byte of the LAST entry. A checksum failure on the
	// final entry is indistinguishable from a torn append, so it is
	// recovered by truncation rather than treated as fatal.
	flipByteAt(t, path, 120)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.ElementsMatch(t, []uint64{1, 2}, s.Keys())
	assert.Equal(t, int64(104), s.Stats().FileSize)
}

func TestRecoveryChecksumMismatchMidFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	buildLog(t, path)

	// Damage a payload byte of the SECOND entry. Interior entries were
	// followed by successful appends, so a mismatch there cannot be a torn
	// tail: it is real corruption and open must refuse.
	flipByteAt(t, path, 72)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrCorruption)

	// The failed open modified nothing.
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCorruptionDetectedOnRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(1, bytes.Repeat([]byte{0x55}, 64)))

	// Bit-rot under a live handle: damage the payload on disk after the
	// entry was indexed. Every Get re-verifies, so the damage surfaces
	// instead of being served.
	flipByteAt(t, path, fileHeaderSize+entryHeaderSize+10)

	buf := make([]byte, 64)
	_, err = s.Get(1, buf)
	assert.ErrorIs(t, err, ErrCorruption)
	assert.NotEmpty(t, s.LastError())
}

func TestCorruptionDetectedOnHeaderMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(1, []byte("payload")))

	// Damage the entry's size field so the on-disk header disagrees with
	// the index.
	flipByteAt(t, path, fileHeaderSize+4)

	buf := make([]byte, 7)
	_, err = s.Get(1, buf)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestRescanIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(1, []byte("one")))
	require.NoError(t, s.Set(2, []byte("two")))
	require.NoError(t, s.Set(1, []byte("one again")))
	require.NoError(t, s.Delete(2))
	keys := s.Keys()
	stats := s.Stats()
	require.NoError(t, s.Close())

	for i := 0; i < 3; i++ {
		s, err = Open(path)
		require.NoError(t, err)
		assert.ElementsMatch(t, keys, s.Keys())
		assert.Equal(t, stats, s.Stats())
		require.NoError(t, s.Close())
	}
}

func TestVerifyHealthyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	size := buildLog(t, path)

	report, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Entries)
	assert.Equal(t, 0, report.Tombstones)
	assert.Equal(t, 3, report.LiveKeys)
	assert.Equal(t, uint64(96), report.LiveBytes)
	assert.Equal(t, size, report.FileSize)
	assert.Equal(t, int64(0), report.TailBytes)
}

func TestVerifyReportsIncompleteTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	size := buildLog(t, path)
	require.NoError(t, os.Truncate(path, size-5))

	report, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Entries)
	assert.Equal(t, 2, report.LiveKeys)
	assert.Equal(t, size-5-104, report.TailBytes)

	// Verify never repairs; the file keeps its tail.
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, size-5, fi.Size())
}

func TestVerifyCountsTombstones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")

	s, err := Open(path, WithAutoCompact(false))
	require.NoError(t, err)
	require.NoError(t, s.Set(1, []byte("a")))
	require.NoError(t, s.Set(2, []byte("b")))
	require.NoError(t, s.Delete(1))
	require.NoError(t, s.Close())

	report, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Entries)
	assert.Equal(t, 1, report.Tombstones)
	assert.Equal(t, 1, report.LiveKeys)
	assert.Equal(t, uint64(1), report.LiveBytes)
}

func TestVerifyFailsOnInteriorCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.log")
	buildLog(t, path)
	flipByteAt(t, path, 72)

	_, err := Verify(path)
	assert.ErrorIs(t, err, ErrCorruption)
}
