package compaction

import (
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"shale/internal/common"
	"shale/internal/iterator"
	"shale/internal/manifest"
	"shale/internal/sstable"
)

// Compactor runs compactions against a manifest. It is not safe for
// concurrent use; one background goroutine owns it.
type Compactor struct {
	m    *manifest.Manifest
	opts Options
}

func NewCompactor(m *manifest.Manifest, opts Options) *Compactor {
	return &Compactor{m: m, opts: opts}
}

// MaybeCompact runs one compaction if any level is over its trigger and
// reports whether it did.
func (c *Compactor) MaybeCompact() (bool, error) {
	comp := Pick(c.m.Current(), c.opts)
	if comp == nil {
		return false, nil
	}
	return true, c.Run(comp)
}

// CompactAll compacts until no level is over its trigger.
func (c *Compactor) CompactAll() error {
	for {
		did, err := c.MaybeCompact()
		if err != nil || !did {
			return err
		}
	}
}

// Run merges the compaction's inputs into new tables at the output level
// and swaps them in with one manifest edit. On failure every output file
// is removed and the manifest is left unchanged.
func (c *Compactor) Run(comp *Compaction) error {
	start := time.Now()
	snap, err := c.m.Acquire()
	if err != nil {
		return err
	}
	defer snap.Release()

	// Newest first: L0 is appended oldest first in the version.
	var sources []common.EntryIterator
	for i := len(comp.Inputs[0]) - 1; i >= 0; i-- {
		table := snap.Table(comp.Inputs[0][i].FileNo)
		if table == nil {
			return common.InvalidArgument("compaction", "input table %d no longer live", comp.Inputs[0][i].FileNo)
		}
		sources = append(sources, table.Iterator(nil))
	}
	for _, fm := range comp.Inputs[1] {
		table := snap.Table(fm.FileNo)
		if table == nil {
			closeAll(sources)
			return common.InvalidArgument("compaction", "input table %d no longer live", fm.FileNo)
		}
		sources = append(sources, table.Iterator(nil))
	}
	merged := iterator.NewMergingIterator(sources)
	defer merged.Close()

	outputs, dropped, err := c.writeOutputs(merged, comp, snap.Version)
	if err != nil {
		c.removeOutputs(comp.OutputLevel(), outputs)
		return err
	}

	var edit manifest.Edit
	for i, files := range comp.Inputs {
		for _, fm := range files {
			edit.DeleteTable(comp.Level+i, fm.FileNo)
		}
	}
	for _, fm := range outputs {
		edit.AddTable(comp.OutputLevel(), fm)
	}
	if comp.Level > 0 {
		_, largest := keyRange(comp.Inputs[0])
		edit.SetCompactPointer(comp.Level, largest)
	}
	if err := c.m.LogAndApply(&edit); err != nil {
		c.removeOutputs(comp.OutputLevel(), outputs)
		return err
	}

	common.Logger().Info("compaction finished",
		zap.Int("level", comp.Level),
		zap.Int("inputs", len(comp.Inputs[0])+len(comp.Inputs[1])),
		zap.Int("outputs", len(outputs)),
		zap.Int("tombstones_dropped", dropped),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Compactor) writeOutputs(merged common.EntryIterator, comp *Compaction, v *manifest.Version) ([]manifest.FileMetadata, int, error) {
	var (
		outputs []manifest.FileMetadata
		current *sstable.FileWriter
		fileNo  common.FileNo
		dropped int
	)
	finish := func() error {
		res, err := current.Finish()
		current = nil
		if err != nil {
			return err
		}
		outputs = append(outputs, manifest.FileMetadata{
			FileNo:      fileNo,
			Size:        int64(res.BytesWritten),
			EntryCount:  res.EntryCount,
			SmallestKey: res.SmallestKey,
			LargestKey:  res.LargestKey,
		})
		return nil
	}

	for {
		entry, err := merged.Next()
		if err != nil {
			if current != nil {
				current.Abort()
			}
			return outputs, dropped, err
		}
		if entry == nil {
			break
		}
		if entry.IsTombstone() && canDropTombstone(v, comp.OutputLevel(), entry.Key) {
			dropped++
			continue
		}

		if current == nil {
			fileNo = c.m.NewSSTableNumber()
			current, err = sstable.CreateFile(c.m.Paths().SSTablePath(comp.OutputLevel(), fileNo), c.opts.Writer)
			if err != nil {
				return outputs, dropped, err
			}
		}
		if err := current.Add(entry); err != nil {
			current.Abort()
			return outputs, dropped, err
		}
		if c.opts.TargetFileSize > 0 && current.EstimatedSize() >= c.opts.TargetFileSize {
			if err := finish(); err != nil {
				return outputs, dropped, err
			}
		}
	}
	if current != nil {
		if err := finish(); err != nil {
			return outputs, dropped, err
		}
	}
	return outputs, dropped, nil
}

// canDropTombstone reports whether no older version of key can exist below
// outputLevel: either outputLevel is the bottom level or no deeper table's
// key range covers key.
func canDropTombstone(v *manifest.Version, outputLevel int, key []byte) bool {
	for level := outputLevel + 1; level < v.NumLevels(); level++ {
		for _, fm := range v.Levels[level] {
			if fm.Overlaps(key, key) {
				return false
			}
		}
	}
	return true
}

func (c *Compactor) removeOutputs(level int, outputs []manifest.FileMetadata) {
	var result *multierror.Error
	for _, fm := range outputs {
		if err := os.Remove(c.m.Paths().SSTablePath(level, fm.FileNo)); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		common.Logf("compaction cleanup: %v", err)
	}
}

func closeAll(iters []common.EntryIterator) {
	for _, it := range iters {
		it.Close()
	}
}
