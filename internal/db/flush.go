package db

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"shale/internal/common"
	"shale/internal/manifest"
)

const flushRetryDelay = time.Second

// flushLoop writes frozen memtables to L0 whenever rotate signals one.
// A failed flush leaves the memtable queued and is retried.
func (d *DB) flushLoop(ctx context.Context) error {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.flushCh:
		case <-retry:
		}
		retry = nil
		if err := d.flushPending(); err != nil {
			if errors.Is(err, common.ErrClosed) {
				return nil
			}
			common.Logger().Error("flush failed", zap.Error(err))
			retry = time.After(flushRetryDelay)
		}
	}
}

// flushPending flushes frozen memtables oldest first until none remain.
func (d *DB) flushPending() error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	for {
		d.mu.RLock()
		if len(d.imm) == 0 {
			d.mu.RUnlock()
			return nil
		}
		gen := d.imm[0]
		// Generations only get newer, so the next one in line is the
		// oldest WAL still needed once gen is in a table.
		next := d.mem
		if len(d.imm) > 1 {
			next = d.imm[1]
		}
		currentWAL := d.mem.walNo
		d.mu.RUnlock()

		if err := d.flushGeneration(gen, next.walNo, currentWAL); err != nil {
			d.mu.Lock()
			d.flushErr = err
			d.cond.Broadcast()
			d.mu.Unlock()
			return err
		}

		d.mu.Lock()
		d.imm[0] = nil
		d.imm = d.imm[1:]
		d.flushErr = nil
		d.cond.Broadcast()
		d.mu.Unlock()

		if err := os.Remove(d.paths.WALPath(gen.walNo)); err != nil && !os.IsNotExist(err) {
			common.Logf("remove flushed wal %d: %v", gen.walNo, err)
		}
		d.signal(d.compactCh)
	}
}

// flushGeneration writes gen to a new L0 table and records it in the
// manifest together with the new oldest live WAL.
func (d *DB) flushGeneration(gen *memtableGen, logNumber, currentWAL common.FileNo) error {
	start := time.Now()

	var edit manifest.Edit
	edit.SetLogNumber(logNumber)
	edit.SetCurrentWAL(currentWAL)

	var (
		fm   manifest.FileMetadata
		path string
	)
	if gen.mem.Len() > 0 {
		var err error
		fm, path, err = d.writeLevel0(gen.mem)
		if err != nil {
			return err
		}
		edit.AddTable(0, fm)
		edit.LastSequence = gen.mem.MaxSeq()
	}

	if err := d.manifest.LogAndApply(&edit); err != nil {
		if path != "" {
			os.Remove(path)
		}
		return err
	}

	common.Logger().Info("memtable flushed",
		zap.Int("level", 0),
		zap.Uint64("file_no", uint64(fm.FileNo)),
		zap.Uint64("entries", fm.EntryCount),
		zap.Int64("bytes", fm.Size),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// compactionLoop runs compactions after flushes and on a timer.
func (d *DB) compactionLoop(ctx context.Context) error {
	var tick <-chan time.Time
	if d.opts.CompactionInterval > 0 {
		ticker := time.NewTicker(d.opts.CompactionInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-d.compactCh:
		}
		d.maybeCompact(ctx)
	}
}

func (d *DB) maybeCompact(ctx context.Context) {
	d.compactMu.Lock()
	defer d.compactMu.Unlock()

	for ctx.Err() == nil {
		did, err := d.compactor.MaybeCompact()
		if err != nil {
			if !errors.Is(err, common.ErrClosed) {
				common.Logger().Error("compaction failed", zap.Error(err))
			}
			return
		}
		if !did {
			return
		}
	}
}
