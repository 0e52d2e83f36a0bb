package sstable

import "shale/internal/common"

// SSTable File Layout:
//
//                 ┌────────────────┐
//                 │  Data Block 0  │  block layout, at most ~BlockSize uncompressed bytes
//                 ├────────────────┤
//                 │  Data Block 1  │
//                 ├────────────────┤
//                 │       ...      │
//                 ├────────────────┤
//                 │  Data Block N  │
// filterOffset -> ├────────────────┤
//                 │  Filter Block  │  bloom filter over every key, checksummed
//  indexOffset -> ├────────────────┤
//                 │  Index Block   │  {offset, length, firstKey} per block + last key, checksummed
// footerOffset -> ├────────────────┤
//                 │     Footer     │  {filterOffset, indexOffset, entryCount, magic, checksum}
//                 └────────────────┘

// SSTable provides read access to an immutable table file.
//
// Tables are reference counted. A table starts with one reference owned by
// whoever opened it; every reader that outlives that owner takes its own.
// The file handle is closed when the count drops to zero, and the file is
// also unlinked if the table was marked obsolete.
type SSTable interface {
	// Get returns the entry stored for key. found is false when the table
	// has no entry for key; a tombstone is returned as a found entry.
	Get(key []byte) (entry *common.Entry, found bool, err error)
	// Iterator yields entries with key >= from in order; nil from scans
	// the whole table. The iterator holds a reference until Close.
	Iterator(from []byte) common.EntryIterator

	FileNo() common.FileNo
	Path() string
	// Len returns the total number of entries.
	Len() int
	// Size returns the file size in bytes.
	Size() int64
	SmallestKey() []byte
	LargestKey() []byte
	GetIndex() *Index
	GetFooter() *Footer

	Ref()
	Unref() error
	// MarkObsolete schedules the file for deletion once unreferenced.
	MarkObsolete()
}
