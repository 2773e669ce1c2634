// Package chunkstore implements an embedded append-only, log-structured
// blob store for a single writer/reader process.
//
// Chunks are opaque byte blobs addressed by a non-zero 64-bit key. Every
// write appends a checksummed entry to a single log file; deletes append
// tombstones; superseded space is reclaimed by rewriting the log once a
// fragmentation threshold is crossed. The in-memory index is rebuilt from
// the log on every open, and a crash mid-write leaves at most one
// incomplete trailing entry, which the next open silently discards.
//
// File Format:
//
//	FileHeader (8 bytes):
//	  - Magic: uint32 LE ("RLCK")
//	  - Version: uint32 LE
//
//	LogEntry (16-byte header + payload):
//	  - CRC32: uint32 LE, computed over (size, key, payload)
//	  - Size: uint32 LE, payload length; 0 marks a tombstone
//	  - Key: uint64 LE, chunk key (0 is reserved)
//	  - Payload: Size raw bytes (absent for tombstones)
//
// The layout is a frozen wire contract: offsets inside the file are stored
// as 32-bit values, so a log may never grow past 4 GiB.
package chunkstore

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
	"math"
)

// On-disk format constants.
const (
	// Magic identifies a chunkstore log file ("RLCK" little-endian).
	Magic uint32 = 0x524C434B

	// FormatVersion is the current on-disk format version.
	FormatVersion uint32 = 1

	fileHeaderSize  = 8
	entryHeaderSize = 16

	// maxLogSize is the hard file-size bound. Entry offsets are stored as
	// uint32, so the log must never grow past 4 GiB.
	maxLogSize = int64(math.MaxUint32)
)

// fileHeader is the fixed header written once at file creation.
type fileHeader struct {
	Magic   uint32
	Version uint32
}

// entryHeader precedes every log entry. The checksum covers the logical
// triple (Size, Key, payload), never the checksum field itself.
type entryHeader struct {
	CRC  uint32
	Size uint32
	Key  uint64
}

// isTombstone reports whether the entry is a delete marker.
func (h entryHeader) isTombstone() bool {
	return h.Size == 0
}

func encodeFileHeader(h fileHeader) [fileHeaderSize]byte {
	var buf [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	return buf
}

func decodeFileHeader(buf []byte) fileHeader {
	return fileHeader{
		Magic:   binary.LittleEndian.Uint32(buf[0:4]),
		Version: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

func encodeEntryHeader(h entryHeader) [entryHeaderSize]byte {
	var buf [entryHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.CRC)
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	binary.LittleEndian.PutUint64(buf[8:16], h.Key)
	return buf
}

func decodeEntryHeader(buf []byte) entryHeader {
	return entryHeader{
		CRC:  binary.LittleEndian.Uint32(buf[0:4]),
		Size: binary.LittleEndian.Uint32(buf[4:8]),
		Key:  binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// newEntryDigest returns a CRC-32 digest pre-seeded with the entry's size
// and key fields. Callers fold the payload in afterwards, which lets the
// scanner and compactor stream payloads through bounded buffers without
// holding a whole chunk in memory.
func newEntryDigest(size uint32, key uint64) hash.Hash32 {
	var fields [12]byte
	binary.LittleEndian.PutUint32(fields[0:4], size)
	binary.LittleEndian.PutUint64(fields[4:12], key)

	d := crc32.NewIEEE()
	d.Write(fields[:])
	return d
}

// entryChecksum computes the checksum for a fully materialized payload.
func entryChecksum(size uint32, key uint64, payload []byte) uint32 {
	d := newEntryDigest(size, key)
	d.Write(payload)
	return d.Sum32()
}
