package chunkstore

// hashSlot records where the latest live entry for a key sits in the log.
// A slot with key 0 is empty; key 0 is reserved and never stored.
type hashSlot struct {
	key    uint64
	offset uint32
	size   uint32
}

// hashIndex is a fixed-capacity open-addressing table with linear probing.
// It also owns the two byte counters that drive the compaction trigger:
// usefulBytes counts payload bytes of live entries, wastedBytes counts
// payload bytes of superseded or tombstoned entries. Every mutation keeps
// the counters consistent, so the index is always exactly what a fresh
// rescan of the log would produce.
//
// The table never grows. When a full probe cycle finds neither the key nor
// an empty slot, put reports capacity exhaustion and the caller surfaces
// ErrTableFull.
type hashIndex struct {
	slots       []hashSlot
	live        int
	usefulBytes uint64
	wastedBytes uint64
}

func newHashIndex(capacity int) *hashIndex {
	return &hashIndex{
		slots: make([]hashSlot, capacity),
	}
}

// splitmix64 is the SplitMix64 finalizer, used to spread sequential chunk
// keys (packed spatial coordinates tend to be clustered) across the table.
func splitmix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func (idx *hashIndex) slotFor(key uint64) int {
	return int(splitmix64(key) % uint64(len(idx.slots)))
}

// put inserts or overwrites the slot for key. Overwriting credits the prior
// payload size to wastedBytes. Returns false when the table is full.
func (idx *hashIndex) put(key uint64, offset, size uint32) bool {
	i := idx.slotFor(key)
	probes := 0

	for idx.slots[i].key != 0 && idx.slots[i].key != key {
		probes++
		if probes >= len(idx.slots) {
			return false
		}
		i = (i + 1) % len(idx.slots)
	}

	if idx.slots[i].key != 0 {
		old := idx.slots[i].size
		idx.usefulBytes -= uint64(old)
		idx.wastedBytes += uint64(old)
	} else {
		idx.live++
	}
	idx.usefulBytes += uint64(size)
	idx.slots[i] = hashSlot{key: key, offset: offset, size: size}
	return true
}

// get returns the slot for key, or false when the key is absent.
func (idx *hashIndex) get(key uint64) (hashSlot, bool) {
	i := idx.slotFor(key)
	probes := 0

	for idx.slots[i].key != 0 {
		if idx.slots[i].key == key {
			return idx.slots[i], true
		}
		probes++
		if probes >= len(idx.slots) {
			break
		}
		i = (i + 1) % len(idx.slots)
	}
	return hashSlot{}, false
}

// remove clears the slot for key, crediting its payload size to wastedBytes.
// Removing an absent key is a no-op.
func (idx *hashIndex) remove(key uint64) {
	i := idx.slotFor(key)
	probes := 0

	for idx.slots[i].key != 0 {
		if idx.slots[i].key == key {
			old := idx.slots[i].size
			idx.usefulBytes -= uint64(old)
			idx.wastedBytes += uint64(old)
			idx.slots[i].key = 0
			idx.live--
			return
		}
		probes++
		if probes >= len(idx.slots) {
			return
		}
		i = (i + 1) % len(idx.slots)
	}
}

// reset clears all slots and counters ahead of a rescan.
func (idx *hashIndex) reset() {
	clear(idx.slots)
	idx.live = 0
	idx.usefulBytes = 0
	idx.wastedBytes = 0
}

// forEach calls fn for every live slot until fn returns false.
func (idx *hashIndex) forEach(fn func(hashSlot) bool) {
	for _, s := range idx.slots {
		if s.key == 0 {
			continue
		}
		if !fn(s) {
			return
		}
	}
}
