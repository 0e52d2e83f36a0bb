package memtable

import (
	"errors"

	"shale/internal/common"
)

// ErrFrozen is returned by writes against a frozen memtable.
var ErrFrozen = errors.New("memtable: frozen")

// ENTRY_OVERHEAD approximates the per-entry bookkeeping charged against the
// flush threshold on top of key and value bytes.
const ENTRY_OVERHEAD = 16

// Memtable defines the interface for a memory-backed sorted key-value store.
// At most one entry is kept per key: the one with the highest sequence number.
type Memtable interface {
	Put(key, value []byte, seq uint64) error
	// Delete installs a tombstone; it does not error if the key is missing.
	Delete(key []byte, seq uint64) error
	// Get returns the newest entry for key, which may be a tombstone.
	Get(key []byte) (*common.Entry, bool)
	// Iterator yields all entries in key order.
	Iterator() common.EntryIterator
	// RangeIterator yields entries with start <= key < end in key order.
	// A nil end means unbounded.
	RangeIterator(start, end []byte) common.EntryIterator
	// ApproximateSize is the byte footprint used for the flush threshold.
	ApproximateSize() int
	Len() int
	// MaxSeq is the highest sequence number applied so far.
	MaxSeq() uint64
	// Freeze makes the memtable read-only.
	Freeze()
	Frozen() bool
}
