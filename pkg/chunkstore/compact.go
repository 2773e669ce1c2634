package chunkstore

import (
	"fmt"
	"os"
	"time"

	"github.com/wispfire/chunkstore/internal/logger"
	"github.com/wispfire/chunkstore/pkg/bufpool"
)

// compactLocked rewrites the log into a temp file keeping only the latest
// live entry of every key, verifies the result, atomically swaps it in and
// rescans. Callers hold s.mu.
//
// Each entry is written in two passes: a placeholder header is reserved,
// the payload is streamed from the old file while the checksum is folded,
// then the finalized header is written back over the placeholder. This is
// what lets the CRC cover payload bytes that are never held in memory at
// once.
//
// Any failure discards the temp file and leaves the original log as the
// authoritative store; compaction can always fail safely.
func (s *Store) compactLocked() error {
	start := time.Now()

	sizeBefore, err := s.fileSize()
	if err != nil {
		return s.fail("compact", 0, -1, err, "stat log: %v", err)
	}

	tmpPath := s.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return s.fail("compact", 0, -1, err, "create temp file %s: %v", tmpPath, err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	fh := encodeFileHeader(fileHeader{Magic: Magic, Version: FormatVersion})
	if _, err := tmp.Write(fh[:]); err != nil {
		return s.fail("compact", 0, 0, err, "write temp header: %v", err)
	}

	buf := bufpool.Get(s.cfg.StreamBufferSize)
	defer bufpool.Put(buf)

	expectedSize := int64(fileHeaderSize)
	writeOffset := int64(fileHeaderSize)

	var copyErr error
	s.idx.forEach(func(slot hashSlot) bool {
		if slot.size == 0 {
			copyErr = s.fail("compact", slot.key, -1, ErrInternal,
				"live index slot with size 0")
			return false
		}
		if copyErr = s.copyEntry(tmp, writeOffset, slot, buf); copyErr != nil {
			return false
		}
		writeOffset += entryHeaderSize + int64(slot.size)
		expectedSize += entryHeaderSize + int64(slot.size)
		return true
	})
	if copyErr != nil {
		return copyErr
	}

	if err := tmp.Sync(); err != nil {
		return s.fail("compact", 0, -1, err, "sync temp file: %v", err)
	}

	// The rewrite is derived from the index alone; measuring the result
	// independently catches any divergence before the swap.
	fi, err := tmp.Stat()
	if err != nil {
		return s.fail("compact", 0, -1, err, "stat temp file: %v", err)
	}
	if fi.Size() != expectedSize {
		return s.fail("compact", 0, -1, ErrInternal,
			"size mismatch: expected %d bytes, wrote %d", expectedSize, fi.Size())
	}

	if err := tmp.Close(); err != nil {
		tmp = nil
		os.Remove(tmpPath)
		return s.fail("compact", 0, -1, err, "close temp file: %v", err)
	}
	tmp = nil

	// Swap. The old handle is closed first so the rename is the only owner
	// of the path; rename is atomic, so there is no window where neither
	// file is a complete log.
	if err := s.f.Close(); err != nil {
		os.Remove(tmpPath)
		s.f, _ = os.OpenFile(s.path, os.O_RDWR, 0644)
		return s.fail("compact", 0, -1, err, "close log before swap: %v", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		s.f, _ = os.OpenFile(s.path, os.O_RDWR, 0644)
		return s.fail("compact", 0, -1, err, "swap compacted log: %v", err)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		return s.fail("compact", 0, -1, err, "reopen compacted log: %v", err)
	}
	s.f = f

	// Rebuild through the same scan that ordinary opens use, so the
	// post-compaction state is verified rather than trusted.
	if err := s.scan(); err != nil {
		return fmt.Errorf("rescan after compaction: %w", err)
	}

	reclaimed := sizeBefore - expectedSize
	logger.Info("compaction complete",
		"path", s.path,
		"live_keys", s.idx.live,
		"size_before", sizeBefore,
		"size_after", expectedSize,
		"reclaimed", reclaimed)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveCompaction(reclaimed, time.Since(start))
	}
	s.reportUsage()
	s.clearErr()
	return nil
}

// copyEntry writes one live entry at writeOffset in the temp file, streaming
// the payload from the old log at slot.offset.
func (s *Store) copyEntry(tmp *os.File, writeOffset int64, slot hashSlot, buf []byte) error {
	// Reserve the header slot; the CRC is unknown until the payload has
	// been streamed through the digest.
	placeholder := encodeEntryHeader(entryHeader{Size: slot.size, Key: slot.key})
	if _, err := tmp.WriteAt(placeholder[:], writeOffset); err != nil {
		return s.fail("compact", slot.key, writeOffset, err, "write entry header: %v", err)
	}

	digest := newEntryDigest(slot.size, slot.key)
	readPos := int64(slot.offset) + entryHeaderSize
	writePos := writeOffset + entryHeaderSize
	remaining := int64(slot.size)

	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := s.f.ReadAt(buf[:n], readPos); err != nil {
			return s.fail("compact", slot.key, readPos, err, "read %d payload bytes: %v", n, err)
		}
		if _, err := tmp.WriteAt(buf[:n], writePos); err != nil {
			return s.fail("compact", slot.key, writePos, err, "write %d payload bytes: %v", n, err)
		}
		digest.Write(buf[:n])
		readPos += n
		writePos += n
		remaining -= n
	}

	final := encodeEntryHeader(entryHeader{CRC: digest.Sum32(), Size: slot.size, Key: slot.key})
	if _, err := tmp.WriteAt(final[:], writeOffset); err != nil {
		return s.fail("compact", slot.key, writeOffset, err, "finalize entry header: %v", err)
	}
	return nil
}
