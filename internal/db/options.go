package db

import (
	"time"

	"go.uber.org/zap"

	"shale/internal/block"
	"shale/internal/block_cache"
	"shale/internal/common"
	"shale/internal/compaction"
	"shale/internal/filter"
	"shale/internal/sstable"
)

type Options struct {
	Dir string

	// MemtableFlushThreshold is the memtable size in bytes at which it is
	// frozen and handed to the flush worker.
	MemtableFlushThreshold int
	// MaxFrozenMemtables bounds memtables awaiting flush; writes stall
	// beyond it.
	MaxFrozenMemtables int
	WALMaxBytes        int64

	BlockSize               int
	TargetFileSize          uint64
	FilterFalsePositiveRate float64
	Compression             bool

	NumLevels           int
	L0CompactionTrigger int
	BaseLevelBytes      int64
	LevelSizeMultiplier float64
	CompactionInterval  time.Duration

	BlockCacheCapacity int
	MaxBatchSize       int

	Logger *zap.Logger
}

var DefaultOptions = Options{
	Dir:                     "data",
	MemtableFlushThreshold:  4 << 20,
	MaxFrozenMemtables:      2,
	WALMaxBytes:             64 << 20,
	BlockSize:               block.DEFAULT_BLOCK_SIZE,
	TargetFileSize:          compaction.DEFAULT_TARGET_FILE_SIZE,
	FilterFalsePositiveRate: filter.DEFAULT_FALSE_POSITIVE_RATE,
	Compression:             true,
	NumLevels:               compaction.DEFAULT_NUM_LEVELS,
	L0CompactionTrigger:     compaction.DEFAULT_L0_COMPACTION_TRIGGER,
	BaseLevelBytes:          compaction.DEFAULT_BASE_LEVEL_BYTES,
	LevelSizeMultiplier:     compaction.DEFAULT_LEVEL_SIZE_MULTIPLIER,
	CompactionInterval:      10 * time.Second,
	BlockCacheCapacity:      block_cache.DEFAULT_CAPACITY,
	MaxBatchSize:            64,
}

type Option func(*Options)

func WithDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

func WithMemtableFlushThreshold(n int) Option {
	return func(o *Options) {
		o.MemtableFlushThreshold = n
	}
}

func WithMaxFrozenMemtables(n int) Option {
	return func(o *Options) {
		o.MaxFrozenMemtables = n
	}
}

func WithWALMaxBytes(n int64) Option {
	return func(o *Options) {
		o.WALMaxBytes = n
	}
}

func WithBlockSize(n int) Option {
	return func(o *Options) {
		o.BlockSize = n
	}
}

func WithTargetFileSize(n uint64) Option {
	return func(o *Options) {
		o.TargetFileSize = n
	}
}

func WithFilterFalsePositiveRate(p float64) Option {
	return func(o *Options) {
		o.FilterFalsePositiveRate = p
	}
}

func WithCompression(enabled bool) Option {
	return func(o *Options) {
		o.Compression = enabled
	}
}

func WithNumLevels(n int) Option {
	return func(o *Options) {
		o.NumLevels = n
	}
}

func WithL0CompactionTrigger(n int) Option {
	return func(o *Options) {
		o.L0CompactionTrigger = n
	}
}

func WithBaseLevelBytes(n int64) Option {
	return func(o *Options) {
		o.BaseLevelBytes = n
	}
}

func WithLevelSizeMultiplier(m float64) Option {
	return func(o *Options) {
		o.LevelSizeMultiplier = m
	}
}

func WithBlockCacheCapacity(n int) Option {
	return func(o *Options) {
		o.BlockCacheCapacity = n
	}
}

// WithCompactionInterval sets the period of the background compaction
// check. Zero disables the periodic check; flushes still trigger one.
func WithCompactionInterval(d time.Duration) Option {
	return func(o *Options) {
		o.CompactionInterval = d
	}
}

func WithMaxBatchSize(n int) Option {
	return func(o *Options) {
		o.MaxBatchSize = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func (o *Options) validate() error {
	switch {
	case o.Dir == "":
		return common.InvalidArgument("options", "dir must be set")
	case o.MemtableFlushThreshold <= 0:
		return common.InvalidArgument("options", "memtable flush threshold must be positive")
	case o.MaxFrozenMemtables <= 0:
		return common.InvalidArgument("options", "max frozen memtables must be positive")
	case o.NumLevels < 2:
		return common.InvalidArgument("options", "need at least 2 levels, got %d", o.NumLevels)
	case o.L0CompactionTrigger <= 0:
		return common.InvalidArgument("options", "L0 compaction trigger must be positive")
	case o.BaseLevelBytes <= 0 || o.LevelSizeMultiplier < 1:
		return common.InvalidArgument("options", "invalid level sizing %d x %.2f", o.BaseLevelBytes, o.LevelSizeMultiplier)
	case o.FilterFalsePositiveRate <= 0 || o.FilterFalsePositiveRate >= 1:
		return common.InvalidArgument("options", "false positive rate %.4f out of range", o.FilterFalsePositiveRate)
	case o.MaxBatchSize <= 0:
		return common.InvalidArgument("options", "max batch size must be positive")
	}
	return nil
}

func (o *Options) writerOptions() sstable.WriterOptions {
	return sstable.WriterOptions{
		BlockSize:         o.BlockSize,
		FalsePositiveRate: o.FilterFalsePositiveRate,
		Compress:          o.Compression,
	}
}

func (o *Options) compactionOptions() compaction.Options {
	return compaction.Options{
		NumLevels:           o.NumLevels,
		L0CompactionTrigger: o.L0CompactionTrigger,
		BaseLevelBytes:      o.BaseLevelBytes,
		LevelSizeMultiplier: o.LevelSizeMultiplier,
		TargetFileSize:      o.TargetFileSize,
		Writer:              o.writerOptions(),
	}
}
