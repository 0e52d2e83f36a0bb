package block

import "shale/internal/common"

// Data Block Layout (on disk):
//
// ┌──────────────────┐
// │     payload      │  entries (common.Entry encoding), optionally snappy-compressed
// ├──────────────────┤
// │   compression    │  uint8 - NO_COMPRESSION or SNAPPY_COMPRESSION
// ├──────────────────┤
// │     checksum     │  uint32 - CRC-32C over payload + compression byte
// └──────────────────┘

const (
	// DEFAULT_BLOCK_SIZE is the uncompressed byte budget of a data block.
	// A block is closed once it reaches the budget, so the last entry may
	// push it past; the final block in an SSTable may be smaller.
	DEFAULT_BLOCK_SIZE = 4 << 10

	// TRAILER_SIZE is compression(1) + checksum(4).
	TRAILER_SIZE = 1 + common.CHECKSUM_SIZE
)

const (
	NO_COMPRESSION     uint8 = 0
	SNAPPY_COMPRESSION uint8 = 1
)

// Block provides fast key lookups within a parsed data block.
type Block interface {
	// Get returns the entry for the given key. Returns (entry, true) if found, (nil, false) if not found.
	Get(key []byte) (*common.Entry, bool)
	// Iterator yields entries with key >= from in order; nil from starts at the first entry.
	Iterator(from []byte) common.EntryIterator
	// Len returns the number of entries in this block.
	Len() int
	// FirstKey and LastKey bound the keys held by the block.
	FirstKey() []byte
	LastKey() []byte
}
