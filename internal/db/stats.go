package db

import (
	"shale/internal/block_cache"
	"shale/internal/common"
	"shale/internal/compaction"
)

type LevelStats struct {
	Level  int
	Tables int
	Bytes  int64
	// Score is the level's fill ratio against its compaction trigger.
	Score float64
}

type Stats struct {
	LastSequence    uint64
	MemtableBytes   int
	MemtableEntries int
	FrozenMemtables int
	CurrentWAL      common.FileNo
	Levels          []LevelStats
	BlockCache      block_cache.Stats
}

// Stats reports a point-in-time view of the engine's in-memory and on-disk
// state.
func (d *DB) Stats() Stats {
	d.mu.RLock()
	s := Stats{
		LastSequence:    d.lastSeq.Load(),
		MemtableBytes:   d.mem.mem.ApproximateSize(),
		MemtableEntries: d.mem.mem.Len(),
		FrozenMemtables: len(d.imm),
		CurrentWAL:      d.mem.walNo,
	}
	d.mu.RUnlock()

	v := d.manifest.Current()
	scores := compaction.Scores(v, d.opts.compactionOptions())
	for level, files := range v.Levels {
		s.Levels = append(s.Levels, LevelStats{
			Level:  level,
			Tables: len(files),
			Bytes:  v.LevelSize(level),
			Score:  scores[level],
		})
	}
	if cache := d.manifest.BlockCache(); cache != nil {
		s.BlockCache = cache.Stats()
	}
	return s
}
