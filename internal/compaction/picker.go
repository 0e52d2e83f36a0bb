package compaction

import (
	"bytes"
	"math"

	"shale/internal/manifest"
	"shale/internal/sstable"
)

const (
	DEFAULT_NUM_LEVELS            = 7
	DEFAULT_L0_COMPACTION_TRIGGER = 4
	DEFAULT_BASE_LEVEL_BYTES      = 10 << 20
	DEFAULT_LEVEL_SIZE_MULTIPLIER = 10
	DEFAULT_TARGET_FILE_SIZE      = 2 << 20
)

// Options controls when compactions trigger and how their output is cut.
type Options struct {
	NumLevels           int
	L0CompactionTrigger int
	BaseLevelBytes      int64
	LevelSizeMultiplier float64
	TargetFileSize      uint64
	Writer              sstable.WriterOptions
}

func DefaultOptions() Options {
	return Options{
		NumLevels:           DEFAULT_NUM_LEVELS,
		L0CompactionTrigger: DEFAULT_L0_COMPACTION_TRIGGER,
		BaseLevelBytes:      DEFAULT_BASE_LEVEL_BYTES,
		LevelSizeMultiplier: DEFAULT_LEVEL_SIZE_MULTIPLIER,
		TargetFileSize:      DEFAULT_TARGET_FILE_SIZE,
		Writer:              sstable.DefaultWriterOptions(),
	}
}

// MaxBytesForLevel returns the byte budget of level n >= 1.
func (o Options) MaxBytesForLevel(level int) int64 {
	return int64(float64(o.BaseLevelBytes) * math.Pow(o.LevelSizeMultiplier, float64(level-1)))
}

// Compaction describes one unit of work: tables from Level merged with the
// overlapping tables of Level+1.
type Compaction struct {
	Level  int
	Inputs [2][]manifest.FileMetadata
	// Score is how far over budget the level was when picked.
	Score float64
}

func (c *Compaction) OutputLevel() int {
	return c.Level + 1
}

// Scores returns the overflow ratio of every level that can be compacted.
// A ratio >= 1 means the level is over its trigger.
func Scores(v *manifest.Version, opts Options) []float64 {
	scores := make([]float64, v.NumLevels())
	for level := 0; level < v.NumLevels()-1; level++ {
		if level == 0 {
			scores[0] = float64(len(v.Levels[0])) / float64(opts.L0CompactionTrigger)
			continue
		}
		scores[level] = float64(v.LevelSize(level)) / float64(opts.MaxBytesForLevel(level))
	}
	return scores
}

// Pick chooses the most overflowing level and its input tables. It returns
// nil when no level is over its trigger.
func Pick(v *manifest.Version, opts Options) *Compaction {
	scores := Scores(v, opts)
	best, bestScore := -1, 0.0
	for level, score := range scores {
		if score >= 1 && score > bestScore {
			best, bestScore = level, score
		}
	}
	if best < 0 {
		return nil
	}

	c := &Compaction{Level: best, Score: bestScore}
	if best == 0 {
		c.Inputs[0] = append([]manifest.FileMetadata(nil), v.Levels[0]...)
	} else {
		c.Inputs[0] = []manifest.FileMetadata{pickRoundRobin(v.Levels[best], v.CompactPointers[best])}
	}
	smallest, largest := keyRange(c.Inputs[0])
	c.Inputs[1] = v.Overlapping(best+1, smallest, largest)
	return c
}

// pickRoundRobin returns the first table after the compact pointer,
// wrapping to the start of the level.
func pickRoundRobin(files []manifest.FileMetadata, pointer []byte) manifest.FileMetadata {
	if pointer != nil {
		for _, fm := range files {
			if bytes.Compare(fm.SmallestKey, pointer) > 0 {
				return fm
			}
		}
	}
	return files[0]
}

func keyRange(files []manifest.FileMetadata) (smallest, largest []byte) {
	for i, fm := range files {
		if i == 0 || bytes.Compare(fm.SmallestKey, smallest) < 0 {
			smallest = fm.SmallestKey
		}
		if i == 0 || bytes.Compare(fm.LargestKey, largest) > 0 {
			largest = fm.LargestKey
		}
	}
	return smallest, largest
}
