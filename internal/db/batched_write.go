package db

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"shale/internal/common"
	"shale/internal/memtable"
)

// writeRequest represents a pending write operation waiting for group commit.
// A request with flush set carries no entry and asks the loop to freeze the
// active memtable.
type writeRequest struct {
	entry    *common.Entry
	flush    bool
	resultCh chan error
}

// collectBatch collects a batch of write requests from the channel.
// It blocks waiting for the first request, then greedily collects
// additional requests that are immediately available (up to MaxBatchSize).
// It returns nil once the channel is closed and drained.
func (d *DB) collectBatch() []*writeRequest {
	maxBatchSize := d.opts.MaxBatchSize

	// Block waiting for first request
	first, ok := <-d.writeChan
	if !ok {
		return nil
	}
	batch := make([]*writeRequest, 0, maxBatchSize)
	batch = append(batch, first)

	// Collect more requests that are immediately available
	for len(batch) < maxBatchSize {
		select {
		case req, ok := <-d.writeChan:
			if !ok {
				return batch
			}
			batch = append(batch, req)
		default:
			// No more immediately available
			return batch
		}
	}

	return batch
}

// processBatch assigns sequence numbers, appends the batch to the WAL with a
// single sync and applies it to the active memtable. It rotates to a new
// memtable generation when the memtable or WAL outgrows its limit.
func (d *DB) processBatch(batch []*writeRequest) error {
	// A failed append may have left a partial record; never append after it.
	// A rotation that failed after the last batch is retried before the
	// memtable grows any further.
	if d.walFailed || d.overLimit() {
		if err := d.rotate(); err != nil {
			return err
		}
	}

	entries := make([]*common.Entry, 0, len(batch))
	for _, req := range batch {
		if req.flush {
			continue
		}
		d.nextSeq++
		req.entry.Seq = d.nextSeq
		entries = append(entries, req.entry)
	}

	if len(entries) > 0 {
		// Client cancellation never interrupts a mutation.
		if err := d.wal.Append(context.Background(), entries); err != nil {
			d.walFailed = true
			return err
		}

		mem := d.mem.mem
		for _, e := range entries {
			var err error
			switch e.Type {
			case common.EntryTypePut:
				err = mem.Put(e.Key, e.Value, e.Seq)
			case common.EntryTypeDelete:
				err = mem.Delete(e.Key, e.Seq)
			}
			if err != nil {
				return err
			}
		}
		d.lastSeq.Store(d.nextSeq)
	}

	// The batch is durable at this point; a failed rotation is retried by
	// the next batch.
	if d.overLimit() {
		if err := d.rotate(); err != nil {
			common.Logger().Warn("memtable rotation failed", zap.Error(err))
		}
	}
	return nil
}

func (d *DB) overLimit() bool {
	return d.mem.mem.ApproximateSize() >= d.opts.MemtableFlushThreshold ||
		(d.opts.WALMaxBytes > 0 && d.wal.Size() >= d.opts.WALMaxBytes)
}

// rotate starts a new memtable generation with its own WAL. A non-empty
// active memtable is frozen and queued for the flush worker; writes stall
// here while MaxFrozenMemtables are already queued. An empty one is
// dropped along with its WAL.
func (d *DB) rotate() error {
	oldGen := d.mem
	frozen := oldGen.mem.Len() > 0
	if frozen {
		if err := d.waitForFlushSlot(); err != nil {
			return err
		}
	}

	walNo := d.manifest.NewWALNumber()
	next, err := d.createWAL(walNo)
	if err != nil {
		return err
	}
	old := d.wal

	// Only this goroutine appends to imm, so the slot is still free.
	d.mu.Lock()
	if frozen {
		oldGen.mem.Freeze()
		d.imm = append(d.imm, oldGen)
	}
	d.mem = &memtableGen{mem: memtable.NewMemtable(), walNo: walNo}
	d.wal = next
	d.walFailed = false
	d.mu.Unlock()

	if err := old.Close(); err != nil {
		common.Logf("close wal %s: %v", old.Path(), err)
	}
	if !frozen {
		if err := os.Remove(old.Path()); err != nil {
			common.Logf("remove empty wal %s: %v", old.Path(), err)
		}
		return nil
	}

	common.Logger().Debug("memtable frozen",
		zap.Uint64("wal", uint64(oldGen.walNo)),
		zap.Int("entries", oldGen.mem.Len()),
		zap.Int("bytes", oldGen.mem.ApproximateSize()))
	d.signal(d.flushCh)
	return nil
}

// waitForFlushSlot blocks while MaxFrozenMemtables are queued. It gives up
// with ErrClosed once Close begins, and with the flush error if a flush
// fails while the queue is full.
func (d *DB) waitForFlushSlot() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.imm) >= d.opts.MaxFrozenMemtables {
		common.Logf("write stall: %d memtables awaiting flush", len(d.imm))
	}
	for len(d.imm) >= d.opts.MaxFrozenMemtables {
		switch {
		case d.closing:
			return common.ErrClosed
		case d.flushErr != nil:
			return fmt.Errorf("write stall: %w", d.flushErr)
		}
		d.cond.Wait()
	}
	return nil
}

// groupCommitLoop is the main batching coordinator.
// It runs in a background goroutine, collecting batches of write requests
// and committing them together with a single WAL sync.
func (d *DB) groupCommitLoop() {
	defer close(d.writeDone)
	for {
		batch := d.collectBatch()
		if batch == nil {
			return
		}
		err := d.processBatch(batch)

		flushErr := err
		if err == nil && hasFlushRequest(batch) && d.mem.mem.Len() > 0 {
			flushErr = d.rotate()
		}

		// Notify all writers in batch
		for _, req := range batch {
			if req.flush {
				req.resultCh <- flushErr
			} else {
				req.resultCh <- err
			}
		}
	}
}

func hasFlushRequest(batch []*writeRequest) bool {
	for _, req := range batch {
		if req.flush {
			return true
		}
	}
	return false
}
