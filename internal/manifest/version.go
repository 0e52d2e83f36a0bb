package manifest

import (
	"bytes"
	"sort"

	"shale/internal/common"
)

// FileMetadata tracks metadata for a single SSTable file.
type FileMetadata struct {
	FileNo      common.FileNo
	Size        int64
	EntryCount  uint64
	SmallestKey []byte
	LargestKey  []byte
}

// Overlaps reports whether the table's key range intersects [start, end].
// A nil bound is unbounded on that side.
func (fm *FileMetadata) Overlaps(start, end []byte) bool {
	if end != nil && bytes.Compare(fm.SmallestKey, end) > 0 {
		return false
	}
	if start != nil && bytes.Compare(fm.LargestKey, start) < 0 {
		return false
	}
	return true
}

// Version represents an immutable snapshot of the LSM tree structure.
type Version struct {
	// DBID identifies the database across restarts.
	DBID string

	// Current WAL being written
	CurrentWAL common.FileNo

	// Oldest WAL whose entries are not yet in a table. Recovery replays
	// every log numbered LogNumber or higher.
	LogNumber common.FileNo

	// Levels[0] = L0 tables oldest first, Levels[n>0] sorted by smallest key.
	Levels [][]FileMetadata

	// Next file number to allocate for new WAL
	NextWALNumber common.FileNo

	// Next file number to allocate for new SSTable
	NextSSTableNumber common.FileNo

	// Highest sequence number persisted in a table.
	LastSequence uint64

	// CompactPointers[n] is the largest key of the last table compacted
	// out of level n; the next pick starts after it.
	CompactPointers [][]byte
}

// NewVersion returns an empty version with numLevels levels.
func NewVersion(dbID string, numLevels int) *Version {
	return &Version{
		DBID:              dbID,
		Levels:            make([][]FileMetadata, numLevels),
		CompactPointers:   make([][]byte, numLevels),
		NextWALNumber:     1,
		NextSSTableNumber: 1,
	}
}

func (v *Version) NumLevels() int {
	return len(v.Levels)
}

// LevelSize returns the total bytes of the tables in level.
func (v *Version) LevelSize(level int) int64 {
	var total int64
	for _, fm := range v.Levels[level] {
		total += fm.Size
	}
	return total
}

// Overlapping returns the tables in level whose range intersects [start, end].
func (v *Version) Overlapping(level int, start, end []byte) []FileMetadata {
	var out []FileMetadata
	for _, fm := range v.Levels[level] {
		if fm.Overlaps(start, end) {
			out = append(out, fm)
		}
	}
	return out
}

// Edit describes an atomic change to the manifest.
type Edit struct {
	// SSTables to add/remove per level
	AddSSTables    map[int][]FileMetadata
	DeleteSSTables map[int]map[common.FileNo]struct{}

	CurrentWAL      *common.FileNo
	LogNumber       *common.FileNo
	LastSequence    uint64
	CompactPointers map[int][]byte
}

// AddTable records a new table at level.
func (e *Edit) AddTable(level int, fm FileMetadata) {
	if e.AddSSTables == nil {
		e.AddSSTables = make(map[int][]FileMetadata)
	}
	e.AddSSTables[level] = append(e.AddSSTables[level], fm)
}

// DeleteTable records the removal of a table from level.
func (e *Edit) DeleteTable(level int, fileNo common.FileNo) {
	if e.DeleteSSTables == nil {
		e.DeleteSSTables = make(map[int]map[common.FileNo]struct{})
	}
	if e.DeleteSSTables[level] == nil {
		e.DeleteSSTables[level] = make(map[common.FileNo]struct{})
	}
	e.DeleteSSTables[level][fileNo] = struct{}{}
}

func (e *Edit) SetCurrentWAL(n common.FileNo) {
	e.CurrentWAL = &n
}

func (e *Edit) SetLogNumber(n common.FileNo) {
	e.LogNumber = &n
}

func (e *Edit) SetCompactPointer(level int, key []byte) {
	if e.CompactPointers == nil {
		e.CompactPointers = make(map[int][]byte)
	}
	e.CompactPointers[level] = bytes.Clone(key)
}

// Apply returns a new version with the edit applied; v is not modified.
func (v *Version) Apply(edit *Edit) (*Version, error) {
	nv := v.deepCopy()

	// Apply SSTable deletions
	for level, deleteSet := range edit.DeleteSSTables {
		if level < 0 || level >= len(nv.Levels) {
			return nil, common.InvalidArgument("manifest apply", "level %d out of range", level)
		}
		filtered := make([]FileMetadata, 0, len(nv.Levels[level]))
		for _, fm := range nv.Levels[level] {
			if _, deleted := deleteSet[fm.FileNo]; !deleted {
				filtered = append(filtered, fm)
			}
		}
		nv.Levels[level] = filtered
	}

	// Apply SSTable additions
	var maxSSTable common.FileNo
	for level, addList := range edit.AddSSTables {
		if level < 0 || level >= len(nv.Levels) {
			return nil, common.InvalidArgument("manifest apply", "level %d out of range", level)
		}
		for _, fm := range addList {
			nv.Levels[level] = append(nv.Levels[level], fm)
			if fm.FileNo > maxSSTable {
				maxSSTable = fm.FileNo
			}
		}
		if level > 0 {
			sortByKey(nv.Levels[level])
		}
	}
	if maxSSTable >= nv.NextSSTableNumber {
		nv.NextSSTableNumber = maxSSTable + 1
	}

	if edit.CurrentWAL != nil {
		nv.CurrentWAL = *edit.CurrentWAL
		if nv.CurrentWAL >= nv.NextWALNumber {
			nv.NextWALNumber = nv.CurrentWAL + 1
		}
	}
	if edit.LogNumber != nil {
		nv.LogNumber = *edit.LogNumber
	}
	if edit.LastSequence > nv.LastSequence {
		nv.LastSequence = edit.LastSequence
	}
	for level, key := range edit.CompactPointers {
		if level >= 0 && level < len(nv.CompactPointers) {
			nv.CompactPointers[level] = key
		}
	}
	return nv, nil
}

func sortByKey(files []FileMetadata) {
	sort.Slice(files, func(i, j int) bool {
		return bytes.Compare(files[i].SmallestKey, files[j].SmallestKey) < 0
	})
}

func (v *Version) deepCopy() *Version {
	nv := *v
	nv.Levels = make([][]FileMetadata, len(v.Levels))
	for i := range v.Levels {
		nv.Levels[i] = make([]FileMetadata, len(v.Levels[i]))
		copy(nv.Levels[i], v.Levels[i])
	}
	nv.CompactPointers = make([][]byte, len(v.Levels))
	copy(nv.CompactPointers, v.CompactPointers)
	return &nv
}

// ensureLevels grows a persisted version opened with more configured levels.
func (v *Version) ensureLevels(numLevels int) {
	for len(v.Levels) < numLevels {
		v.Levels = append(v.Levels, nil)
	}
	for len(v.CompactPointers) < len(v.Levels) {
		v.CompactPointers = append(v.CompactPointers, nil)
	}
}
