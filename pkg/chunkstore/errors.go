package chunkstore

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by store operations. Callers should match these
// with errors.Is; the concrete error value usually is a *StoreError carrying
// additional context.
var (
	// ErrNotFound indicates the key has no live entry in the store.
	// This is an expected outcome, not a failure.
	ErrNotFound = errors.New("chunk not found")

	// ErrBufferTooSmall indicates the caller's buffer cannot hold the
	// stored payload. Get reports the required size alongside this error.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInvalidArgument indicates caller misuse: key 0, nil or empty
	// payload data.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorruption indicates a checksum or structural mismatch that
	// cannot be safely auto-recovered. An incomplete trailing write is
	// not corruption; the scanner truncates it silently.
	ErrCorruption = errors.New("data corruption detected")

	// ErrTooLarge indicates an append would push the log past the 4 GiB
	// format limit (entry offsets are stored as 32-bit values).
	ErrTooLarge = errors.New("log size limit exceeded")

	// ErrTableFull indicates the fixed-capacity index has no room for a
	// new key. The table does not grow; compaction does not shrink the
	// live-key count, so the caller must reopen with a larger capacity.
	ErrTableFull = errors.New("hash table full")

	// ErrInternal indicates an invariant violation inside the engine,
	// such as a live index slot with size zero or a compaction size
	// mismatch. It signals a bug, not an expected runtime condition.
	ErrInternal = errors.New("internal error")

	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("store is closed")
)

// StoreError wraps a sentinel error with the operation and file context in
// which it occurred. errors.Is matches through the wrapper:
//
//	_, err := store.Get(key, buf)
//	if errors.Is(err, chunkstore.ErrNotFound) { ... }
type StoreError struct {
	// Op is the failing operation: "open", "get", "set", "del", "compact".
	Op string

	// Path is the log file path.
	Path string

	// Key is the chunk key involved, 0 when not applicable.
	Key uint64

	// Offset is the file offset involved, -1 when not applicable.
	Offset int64

	// Msg is a human-readable description of the failure.
	Msg string

	// Err is the wrapped sentinel (or underlying I/O) error.
	Err error
}

// Error returns a human-readable description including the operation and
// any available context fields.
func (e *StoreError) Error() string {
	s := fmt.Sprintf("chunkstore %s: %s", e.Op, e.Msg)
	if e.Key != 0 {
		s += fmt.Sprintf(" (key=%#x)", e.Key)
	}
	if e.Offset >= 0 {
		s += fmt.Sprintf(" (offset=%d)", e.Offset)
	}
	return s
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}
