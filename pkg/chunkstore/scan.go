package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wispfire/chunkstore/internal/logger"
	"github.com/wispfire/chunkstore/pkg/bufpool"
)

// scan walks the log from just after the file header, validates every entry
// and rebuilds the index. It is the crash-recovery contract of the store:
//
//   - An incomplete header, an incomplete payload, or a checksum mismatch
//     exactly at end-of-file is a normal end-of-log condition (a crash
//     mid-append); scanning stops at the last valid offset and the file is
//     truncated down to it.
//   - A checksum mismatch anywhere before end-of-file is interior
//     corruption; scan fails with ErrCorruption and leaves the file alone.
//
// Tail truncation is the only mutation scan ever performs, and it only ever
// removes an incomplete tail, never committed entries.
func (s *Store) scan() error {
	s.idx.reset()

	fileSize, err := s.fileSize()
	if err != nil {
		return s.fail("open", 0, -1, err, "stat log: %v", err)
	}
	if fileSize > maxLogSize {
		return s.fail("open", 0, fileSize, ErrCorruption, "log exceeds the 4 GiB format limit")
	}

	if err := readAndCheckFileHeader(s.f, "open", s.path); err != nil {
		if se, ok := err.(*StoreError); ok {
			s.lastErr = se.Msg
		}
		return err
	}

	buf := bufpool.Get(s.cfg.StreamBufferSize)
	defer bufpool.Put(buf)

	lastValid := int64(fileHeaderSize)
	offset := int64(fileHeaderSize)

	for offset < fileSize {
		hdr, complete, err := readLogEntry(s.f, "open", s.path, offset, fileSize, buf)
		if err != nil {
			if errors.Is(err, ErrCorruption) {
				s.recordCorruption()
			}
			if se, ok := err.(*StoreError); ok {
				s.lastErr = se.Msg
			}
			return err
		}
		if !complete {
			// Incomplete tail write; everything from lastValid on is
			// discarded below.
			break
		}

		if hdr.isTombstone() {
			s.idx.remove(hdr.Key)
		} else if !s.idx.put(hdr.Key, uint32(offset), hdr.Size) {
			return s.fail("open", hdr.Key, offset, ErrTableFull,
				"hash table full during scan (capacity %d chunks)", s.cfg.TableSize)
		}

		offset += entryHeaderSize + int64(hdr.Size)
		lastValid = offset
	}

	if lastValid < fileSize {
		logger.Info("discarding incomplete log tail",
			"path", s.path, "tail_bytes", fileSize-lastValid, "valid_size", lastValid)
		if err := s.f.Truncate(lastValid); err != nil {
			return s.fail("open", 0, lastValid, err, "truncate incomplete tail: %v", err)
		}
	}

	s.clearErr()
	return nil
}

// readAndCheckFileHeader validates the magic and version stamp at offset 0.
// A mismatch means the file is foreign or incompatible; no recovery is
// attempted.
func readAndCheckFileHeader(f *os.File, op, path string) error {
	var hdrBuf [fileHeaderSize]byte
	if _, err := f.ReadAt(hdrBuf[:], 0); err != nil {
		return &StoreError{Op: op, Path: path, Offset: 0,
			Msg: fmt.Sprintf("read file header: %v", err), Err: errOrCorruption(err)}
	}
	fh := decodeFileHeader(hdrBuf[:])
	if fh.Magic != Magic {
		return &StoreError{Op: op, Path: path, Offset: 0,
			Msg: fmt.Sprintf("bad magic: expected %#08x, got %#08x", Magic, fh.Magic),
			Err: ErrCorruption}
	}
	if fh.Version != FormatVersion {
		return &StoreError{Op: op, Path: path, Offset: 0,
			Msg: fmt.Sprintf("unsupported format version: expected %d, got %d", FormatVersion, fh.Version),
			Err: ErrCorruption}
	}
	return nil
}

// readLogEntry reads and validates one entry at offset, folding the payload
// through buf so memory stays independent of chunk size. It returns
// complete=false when the entry runs past end-of-file or its checksum fails
// right at the tail, both of which mean an interrupted append. A checksum
// mismatch on an entry that is not the last in the file is returned as
// ErrCorruption.
func readLogEntry(f *os.File, op, path string, offset, fileSize int64, buf []byte) (entryHeader, bool, error) {
	if offset+entryHeaderSize > fileSize {
		return entryHeader{}, false, nil
	}
	var hdrBuf [entryHeaderSize]byte
	if _, err := f.ReadAt(hdrBuf[:], offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return entryHeader{}, false, nil
		}
		return entryHeader{}, false, &StoreError{Op: op, Path: path, Offset: offset,
			Msg: fmt.Sprintf("read entry header: %v", err), Err: err}
	}
	hdr := decodeEntryHeader(hdrBuf[:])

	entryEnd := offset + entryHeaderSize + int64(hdr.Size)
	if entryEnd > fileSize {
		// Declared payload runs past EOF: interrupted append.
		return entryHeader{}, false, nil
	}

	digest := newEntryDigest(hdr.Size, hdr.Key)
	pos := offset + entryHeaderSize
	remaining := int64(hdr.Size)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := f.ReadAt(buf[:n], pos); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return entryHeader{}, false, nil
			}
			return entryHeader{}, false, &StoreError{Op: op, Path: path, Key: hdr.Key,
				Offset: offset, Msg: fmt.Sprintf("read payload: %v", err), Err: err}
		}
		digest.Write(buf[:n])
		pos += n
		remaining -= n
	}

	if crc := digest.Sum32(); crc != hdr.CRC {
		if entryEnd >= fileSize {
			// Mismatch on the very last entry: a partial write of the
			// final append, recoverable by truncation.
			return entryHeader{}, false, nil
		}
		return entryHeader{}, false, &StoreError{Op: op, Path: path, Key: hdr.Key, Offset: offset,
			Msg: fmt.Sprintf("checksum mismatch mid-file: computed %#08x, stored %#08x", crc, hdr.CRC),
			Err: ErrCorruption}
	}

	// Writers never produce key 0; a checksummed entry carrying it means
	// the file was written by something else.
	if hdr.Key == 0 {
		return entryHeader{}, false, &StoreError{Op: op, Path: path, Offset: offset,
			Msg: "entry with reserved key 0", Err: ErrCorruption}
	}
	return hdr, true, nil
}

// errOrCorruption maps an unexpected EOF while reading fixed structures to
// ErrCorruption; other errors pass through as I/O failures.
func errOrCorruption(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrCorruption
	}
	return err
}
