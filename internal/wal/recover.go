package wal

import (
	"context"
	"os"

	"shale/internal/common"
)

// RecoveryResult summarizes one replayed log file.
type RecoveryResult struct {
	Entries   int
	MaxSeq    uint64
	ValidSize int64
	Truncated bool
}

// Recover replays every valid record of the log at path through apply, in
// write order. If the tail is torn or corrupt the file is truncated to the
// last good record so later appends start from a clean boundary.
func Recover(ctx context.Context, path string, apply func(*common.Entry) error) (*RecoveryResult, error) {
	iter, err := NewFileIterator(ctx, path)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	res := &RecoveryResult{}
	for {
		entry, err := iter.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if err := apply(entry); err != nil {
			return nil, err
		}
		res.Entries++
		if entry.Seq > res.MaxSeq {
			res.MaxSeq = entry.Seq
		}
	}

	res.ValidSize = iter.ValidOffset()
	res.Truncated = iter.Truncated()
	if res.Truncated {
		if err := os.Truncate(path, res.ValidSize); err != nil {
			return nil, common.IoFailure("wal truncate", err)
		}
	}
	return res, nil
}
