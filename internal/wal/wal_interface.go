package wal

import (
	"context"

	"shale/internal/common"
)

// WAL defines the minimal contract required by the DB layer to persist
// and recover write operations.
type WAL interface {
	// Append persists the batch and syncs it before returning.
	Append(ctx context.Context, batch []*common.Entry) error
	// Iterator replays the log from the start, stopping at the first
	// torn or corrupt record.
	Iterator(ctx context.Context) (WALIterator, error)
	// Size returns the current length of the log in bytes.
	Size() int64
	Path() string
	Close() error
}

// WALIterator walks entries recovered from the log.
// Next returns nil, nil when the end of valid data is reached.
type WALIterator interface {
	common.EntryIterator
	// ValidOffset is the byte offset just past the last good record.
	ValidOffset() int64
	// Truncated reports whether iteration stopped before end of file.
	Truncated() bool
}
