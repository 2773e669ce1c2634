package chunkstore

import (
	"os"

	"github.com/wispfire/chunkstore/pkg/bufpool"
)

// VerifyReport summarizes an offline integrity walk over a log file.
type VerifyReport struct {
	// Entries is the number of valid entries, tombstones included.
	Entries int

	// Tombstones is the number of valid delete markers.
	Tombstones int

	// LiveKeys is the number of keys with a live entry after applying
	// last-write-wins and tombstones.
	LiveKeys int

	// LiveBytes is the payload byte count of live entries.
	LiveBytes uint64

	// FileSize is the size of the file as found on disk.
	FileSize int64

	// TailBytes is the size of the incomplete trailing region, if any.
	// Open would silently truncate these bytes; Verify only reports them.
	TailBytes int64
}

// Verify walks every entry of the log at path and validates headers and
// checksums, without building an index or modifying the file. It fails with
// ErrCorruption for interior damage, exactly like Open would; an incomplete
// tail is reported in the returned VerifyReport instead of being truncated.
//
// The store must not be open for writing elsewhere while Verify runs.
func Verify(path string) (*VerifyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StoreError{Op: "verify", Path: path, Offset: -1, Msg: err.Error(), Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &StoreError{Op: "verify", Path: path, Offset: -1, Msg: err.Error(), Err: err}
	}
	fileSize := fi.Size()

	if err := readAndCheckFileHeader(f, "verify", path); err != nil {
		return nil, err
	}

	buf := bufpool.Get(DefaultStreamBufferSize)
	defer bufpool.Put(buf)

	report := &VerifyReport{FileSize: fileSize}
	live := make(map[uint64]uint32)
	offset := int64(fileHeaderSize)
	lastValid := offset

	for offset < fileSize {
		hdr, complete, err := readLogEntry(f, "verify", path, offset, fileSize, buf)
		if err != nil {
			return nil, err
		}
		if !complete {
			break
		}
		report.Entries++
		if hdr.isTombstone() {
			report.Tombstones++
			delete(live, hdr.Key)
		} else {
			live[hdr.Key] = hdr.Size
		}
		offset += entryHeaderSize + int64(hdr.Size)
		lastValid = offset
	}

	report.TailBytes = fileSize - lastValid
	report.LiveKeys = len(live)
	for _, size := range live {
		report.LiveBytes += uint64(size)
	}
	return report, nil
}
