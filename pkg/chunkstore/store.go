package chunkstore

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wispfire/chunkstore/internal/logger"
)

// Store is one open chunkstore log. It owns the file handle, the in-memory
// index and the byte counters driving compaction.
//
// The API is fully synchronous and single-writer: callers must not share a
// Store across goroutines without external coordination, and must not open
// the same path for writing from two processes. The internal mutex only
// guards against accidental concurrent use; it is not a concurrency model.
//
// Durability ordering is strict: every mutation appends, forces the data to
// stable storage, and only then updates the index. The index never claims
// durability the log has not achieved, so crash recovery (the tail-truncating
// scan in Open) always reconstructs exactly what the index promised.
type Store struct {
	mu   sync.Mutex
	cfg  Config
	path string
	f    *os.File
	idx  *hashIndex

	// lastErr holds the message of the most recent failed operation,
	// cleared on success. Errors are also returned inline; this mirror
	// exists for callers that log the handle state after the fact.
	lastErr string
	closed  bool
}

// Open opens the log at path, creating it if absent, and rebuilds the
// in-memory index by scanning every entry.
//
// A freshly created file is header-stamped and synced before Open returns,
// so even a zero-entry store is durable. An incomplete trailing entry left
// by a crash is silently truncated away; corruption anywhere before the
// tail fails Open with ErrCorruption and leaves the file untouched.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{
		cfg:  cfg,
		path: path,
		idx:  newHashIndex(cfg.TableSize),
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		f, err = s.create(path)
	}
	if err != nil {
		return nil, s.fail("open", 0, -1, err, "open %s: %v", path, err)
	}
	s.f = f

	if err := s.scan(); err != nil {
		f.Close()
		return nil, err
	}

	s.reportUsage()
	return s, nil
}

// create makes a new log file with a synced header.
func (s *Store) create(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	hdr := encodeFileHeader(fileHeader{Magic: Magic, Version: FormatVersion})
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return f, nil
}

// Close releases the file handle. The on-disk log persists; a later Open
// re-derives the index from it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true
	err := s.f.Close()
	s.f = nil
	s.idx = nil
	return err
}

// Get reads the chunk stored under key.
//
// With a nil buf, Get reports the stored size without touching the disk.
// With a buf shorter than the stored size, Get returns the required size
// and ErrBufferTooSmall without reading. Otherwise the payload is read
// into buf and its checksum is re-verified against the stored CRC, so
// bit-rot between open and read surfaces as ErrCorruption instead of
// silently handing back damaged data.
func (s *Store) Get(key uint64, buf []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if s.closed {
		return 0, s.fail("get", key, -1, ErrClosed, "store is closed")
	}
	if key == 0 {
		return 0, s.fail("get", key, -1, ErrInvalidArgument, "chunk key 0 is reserved")
	}

	slot, ok := s.idx.get(key)
	if !ok {
		s.clearErr()
		return 0, &StoreError{Op: "get", Path: s.path, Key: key, Offset: -1, Msg: "chunk not found", Err: ErrNotFound}
	}

	if buf == nil {
		s.clearErr()
		return slot.size, nil
	}
	if uint32(len(buf)) < slot.size {
		s.clearErr()
		return slot.size, &StoreError{
			Op: "get", Path: s.path, Key: key, Offset: -1,
			Msg: fmt.Sprintf("buffer too small: need %d bytes, have %d", slot.size, len(buf)),
			Err: ErrBufferTooSmall,
		}
	}

	var hdrBuf [entryHeaderSize]byte
	if _, err := s.f.ReadAt(hdrBuf[:], int64(slot.offset)); err != nil {
		return 0, s.fail("get", key, int64(slot.offset), err, "read entry header: %v", err)
	}
	hdr := decodeEntryHeader(hdrBuf[:])

	// The header on disk must agree with the index. A mismatch means the
	// file changed underneath us.
	if hdr.Size != slot.size || hdr.Key != key {
		s.recordCorruption()
		return 0, s.fail("get", key, int64(slot.offset), ErrCorruption,
			"header mismatch: index has size=%d key=%#x, log has size=%d key=%#x",
			slot.size, key, hdr.Size, hdr.Key)
	}

	payload := buf[:slot.size]
	if _, err := s.f.ReadAt(payload, int64(slot.offset)+entryHeaderSize); err != nil {
		return 0, s.fail("get", key, int64(slot.offset), err, "read %d payload bytes: %v", slot.size, err)
	}

	if crc := entryChecksum(hdr.Size, hdr.Key, payload); crc != hdr.CRC {
		s.recordCorruption()
		return 0, s.fail("get", key, int64(slot.offset), ErrCorruption,
			"checksum mismatch: computed %#08x, stored %#08x", crc, hdr.CRC)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveGet(int(slot.size), time.Since(start))
	}
	s.clearErr()
	return slot.size, nil
}

// Set durably stores data under key, superseding any previous entry.
//
// The entry is appended and synced before the index is touched. If the
// payload write or the sync fails, or the index has no room for a new key,
// the just-appended bytes are rolled back by truncating the file to its
// pre-append length. Rollback is best-effort; the scanner's tail truncation
// on the next Open is the real safety net.
func (s *Store) Set(key uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if s.closed {
		return s.fail("set", key, -1, ErrClosed, "store is closed")
	}
	if key == 0 {
		return s.fail("set", key, -1, ErrInvalidArgument, "chunk key 0 is reserved")
	}
	if len(data) == 0 {
		return s.fail("set", key, -1, ErrInvalidArgument, "chunk data must not be empty")
	}

	entryOffset, err := s.fileSize()
	if err != nil {
		return s.fail("set", key, -1, err, "stat log: %v", err)
	}
	if entryOffset+entryHeaderSize+int64(len(data)) > maxLogSize {
		return s.fail("set", key, entryOffset, ErrTooLarge, "log would exceed the 4 GiB format limit")
	}

	size := uint32(len(data))
	hdr := entryHeader{
		CRC:  entryChecksum(size, key, data),
		Size: size,
		Key:  key,
	}

	if err := s.appendEntry(hdr, data, entryOffset); err != nil {
		return s.fail("set", key, entryOffset, err, "append entry: %v", err)
	}

	// Durable now; safe to publish in the index.
	if !s.idx.put(key, uint32(entryOffset), size) {
		s.rollback(entryOffset)
		return s.fail("set", key, entryOffset, ErrTableFull,
			"hash table full (capacity %d chunks)", s.cfg.TableSize)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveSet(len(data), time.Since(start))
	}
	s.reportUsage()
	s.clearErr()

	if s.cfg.AutoCompact && s.fragmentation() > s.cfg.FragmentationThreshold {
		// The write above is already durable; a failed compaction only
		// means the reclaim is postponed.
		if err := s.compactLocked(); err != nil {
			logger.Warn("automatic compaction failed",
				"path", s.path, "error", err)
		}
		s.clearErr()
	}
	return nil
}

// Delete appends a tombstone for key and removes it from the index.
// Deleting an absent key returns ErrNotFound.
func (s *Store) Delete(key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if s.closed {
		return s.fail("del", key, -1, ErrClosed, "store is closed")
	}
	if key == 0 {
		return s.fail("del", key, -1, ErrInvalidArgument, "chunk key 0 is reserved")
	}
	if _, ok := s.idx.get(key); !ok {
		s.clearErr()
		return &StoreError{Op: "del", Path: s.path, Key: key, Offset: -1, Msg: "chunk not found", Err: ErrNotFound}
	}

	entryOffset, err := s.fileSize()
	if err != nil {
		return s.fail("del", key, -1, err, "stat log: %v", err)
	}
	if entryOffset+entryHeaderSize > maxLogSize {
		return s.fail("del", key, entryOffset, ErrTooLarge, "log would exceed the 4 GiB format limit")
	}

	hdr := entryHeader{
		CRC:  entryChecksum(0, key, nil),
		Size: 0,
		Key:  key,
	}
	if err := s.appendEntry(hdr, nil, entryOffset); err != nil {
		return s.fail("del", key, entryOffset, err, "append tombstone: %v", err)
	}

	s.idx.remove(key)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveDelete(time.Since(start))
	}
	s.reportUsage()
	s.clearErr()
	return nil
}

// Compact rewrites the log keeping only the latest live entry of every key
// and atomically swaps the result in. See compact.go.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.fail("compact", 0, -1, ErrClosed, "store is closed")
	}
	return s.compactLocked()
}

// Sync forces any buffered file state to stable storage. Every mutation
// already syncs before returning, so this is only useful as a barrier for
// callers that bypass the engine (none are known).
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.f.Sync()
}

// LastError returns the message of the most recent failed operation, or ""
// if the last operation succeeded.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Path returns the log file path.
func (s *Store) Path() string {
	return s.path
}

// Stats describes the current occupancy of a store.
type Stats struct {
	// LiveKeys is the number of distinct keys with a live entry.
	LiveKeys int

	// UsefulBytes counts payload bytes belonging to live entries.
	UsefulBytes uint64

	// WastedBytes counts payload bytes of superseded or deleted entries.
	WastedBytes uint64

	// Fragmentation is WastedBytes/(UsefulBytes+WastedBytes), 0 when empty.
	Fragmentation float64

	// FileSize is the current log file size in bytes.
	FileSize int64

	// TableSize is the fixed index capacity.
	TableSize int
}

// Stats returns the current occupancy counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TableSize: s.cfg.TableSize}
	if s.closed {
		return st
	}
	st.LiveKeys = s.idx.live
	st.UsefulBytes = s.idx.usefulBytes
	st.WastedBytes = s.idx.wastedBytes
	st.Fragmentation = s.fragmentation()
	if size, err := s.fileSize(); err == nil {
		st.FileSize = size
	}
	return st
}

// Keys returns every live key, in index order.
func (s *Store) Keys() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	keys := make([]uint64, 0, s.idx.live)
	s.idx.forEach(func(slot hashSlot) bool {
		keys = append(keys, slot.key)
		return true
	})
	return keys
}

// appendEntry writes header+payload at entryOffset (the current end of file)
// and syncs. On a partial payload write or failed sync the file is truncated
// back to entryOffset so the log is not left with a half-entry.
func (s *Store) appendEntry(hdr entryHeader, payload []byte, entryOffset int64) error {
	hdrBuf := encodeEntryHeader(hdr)
	if _, err := s.f.WriteAt(hdrBuf[:], entryOffset); err != nil {
		s.rollback(entryOffset)
		return err
	}
	if len(payload) > 0 {
		if _, err := s.f.WriteAt(payload, entryOffset+entryHeaderSize); err != nil {
			s.rollback(entryOffset)
			return err
		}
	}
	if err := s.f.Sync(); err != nil {
		s.rollback(entryOffset)
		return err
	}
	return nil
}

// rollback truncates the log back to size, discarding a partially appended
// entry. Best-effort: if this fails too, the next Open's scan discards the
// incomplete tail instead.
func (s *Store) rollback(size int64) {
	if err := s.f.Truncate(size); err != nil {
		logger.Warn("rollback truncate failed; next open will repair the tail",
			"path", s.path, "size", size, "error", err)
	}
}

func (s *Store) fileSize() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *Store) fragmentation() float64 {
	total := s.idx.usefulBytes + s.idx.wastedBytes
	if total == 0 {
		return 0
	}
	return float64(s.idx.wastedBytes) / float64(total)
}

func (s *Store) recordCorruption() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordCorruption()
	}
}

// fail records and returns a StoreError wrapping err.
func (s *Store) fail(op string, key uint64, offset int64, err error, format string, args ...any) error {
	e := &StoreError{
		Op:     op,
		Path:   s.path,
		Key:    key,
		Offset: offset,
		Msg:    fmt.Sprintf(format, args...),
		Err:    err,
	}
	s.lastErr = e.Msg
	return e
}

func (s *Store) clearErr() {
	s.lastErr = ""
}
