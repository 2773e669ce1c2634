// Package bufpool provides size-classed reusable byte buffers.
//
// The storage engine streams chunk payloads through bounded buffers during
// scan, read verification and compaction. Pooling those buffers keeps the
// steady-state allocation rate flat regardless of how often stores are
// opened or compacted.
//
// Three size classes cover the engine's access patterns:
//   - header buffers (64 B): entry and file header scratch
//   - stream buffers (64 KB): bounded payload streaming
//   - chunk buffers (1 MB): whole-chunk reads by callers that want one
//
// Requests above the largest class are allocated directly and never pooled,
// so an occasional oversized chunk does not pin memory.
package bufpool

import (
	"sync"
)

// Default size classes.
const (
	// DefaultHeaderSize covers header and small scratch buffers (64 B).
	DefaultHeaderSize = 64

	// DefaultStreamSize matches the engine's payload streaming buffer (64 KB).
	DefaultStreamSize = 64 << 10

	// DefaultChunkSize covers typical whole-chunk buffers (1 MB).
	DefaultChunkSize = 1 << 20
)

// Pool manages byte slices organized by size class.
type Pool struct {
	header     sync.Pool
	stream     sync.Pool
	chunk      sync.Pool
	headerSize int
	streamSize int
	chunkSize  int
}

// Config holds the size classes for a custom pool. Zero values fall back to
// the defaults.
type Config struct {
	HeaderSize int
	StreamSize int
	ChunkSize  int
}

// NewPool creates a pool with the given configuration. A nil config uses
// the default size classes.
func NewPool(cfg *Config) *Pool {
	p := &Pool{
		headerSize: DefaultHeaderSize,
		streamSize: DefaultStreamSize,
		chunkSize:  DefaultChunkSize,
	}
	if cfg != nil {
		if cfg.HeaderSize > 0 {
			p.headerSize = cfg.HeaderSize
		}
		if cfg.StreamSize > 0 {
			p.streamSize = cfg.StreamSize
		}
		if cfg.ChunkSize > 0 {
			p.chunkSize = cfg.ChunkSize
		}
	}

	p.header.New = func() any {
		buf := make([]byte, p.headerSize)
		return &buf
	}
	p.stream.New = func() any {
		buf := make([]byte, p.streamSize)
		return &buf
	}
	p.chunk.New = func() any {
		buf := make([]byte, p.chunkSize)
		return &buf
	}
	return p
}

// Get returns a byte slice of exactly the requested length, backed by a
// pooled buffer when a size class fits. Callers must return it with Put.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.headerSize:
		bufPtr = p.header.Get().(*[]byte)
	case size <= p.streamSize:
		bufPtr = p.stream.Get().(*[]byte)
	case size <= p.chunkSize:
		bufPtr = p.chunk.Get().(*[]byte)
	default:
		// Oversized: allocate directly, never pooled.
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put returns a buffer obtained from Get to its pool. Oversized buffers are
// dropped for the garbage collector. Safe for concurrent use.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.headerSize:
		full := buf[:cap(buf)]
		p.header.Put(&full)
	case p.streamSize:
		full := buf[:cap(buf)]
		p.stream.Put(&full)
	case p.chunkSize:
		full := buf[:cap(buf)]
		p.chunk.Put(&full)
	}
}

// globalPool serves the package-level Get/Put convenience functions.
var globalPool = NewPool(nil)

// Get returns a byte slice of the requested length from the global pool.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer obtained from the package-level Get.
func Put(buf []byte) {
	globalPool.Put(buf)
}
