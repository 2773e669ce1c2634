package chunkstore

import "time"

// Metrics receives operation observations from a store. The engine never
// depends on a metrics backend directly; pkg/metrics provides a
// Prometheus-backed implementation. A nil Metrics is valid and means zero
// overhead.
type Metrics interface {
	// ObserveGet records a successful read of bytes payload bytes.
	ObserveGet(bytes int, d time.Duration)

	// ObserveSet records a successful write of bytes payload bytes.
	ObserveSet(bytes int, d time.Duration)

	// ObserveDelete records a successful tombstone append.
	ObserveDelete(d time.Duration)

	// ObserveCompaction records a completed compaction and the bytes it
	// reclaimed.
	ObserveCompaction(reclaimed int64, d time.Duration)

	// RecordCorruption records a detected corruption event.
	RecordCorruption()

	// SetUsage reports the current live-key count, byte counters and
	// log file size after any mutation.
	SetUsage(liveKeys int, usefulBytes, wastedBytes uint64, fileSize int64)
}

// reportUsage pushes the current counters to the metrics sink, if any.
func (s *Store) reportUsage() {
	if s.cfg.Metrics == nil {
		return
	}
	size, err := s.fileSize()
	if err != nil {
		size = 0
	}
	s.cfg.Metrics.SetUsage(s.idx.live, s.idx.usefulBytes, s.idx.wastedBytes, size)
}
