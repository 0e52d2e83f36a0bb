package manifest

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"shale/internal/block_cache"
	"shale/internal/common"
	"shale/internal/sstable"
)

// CORRUPT_EXT is appended to quarantined table files.
const CORRUPT_EXT = ".corrupt"

// Manifest tracks the structural state of the LSM tree with snapshot isolation.
//
// The manifest holds one reference on every live table. Readers pin the
// tables they need through Acquire; a table removed by an edit is closed
// and unlinked once the last snapshot holding it is released.
type Manifest struct {
	mu sync.RWMutex

	// writeMu serializes LogAndApply so edits are persisted in order.
	writeMu sync.Mutex

	paths *common.PathManager

	// Current version (latest state)
	current *Version

	// Table cache: one open handle per live table
	tables map[common.FileNo]sstable.SSTable

	// Block cache: shared across all SSTables
	blockCache block_cache.BlockCache

	nextSSTable common.FileNo
	nextWAL     common.FileNo
	closed      bool
}

// Open loads the MANIFEST under paths, or creates a fresh one, and opens
// every table it lists. Tables that fail validation are quarantined.
func Open(paths *common.PathManager, numLevels int, blockCache block_cache.BlockCache) (*Manifest, error) {
	if err := os.MkdirAll(paths.Root(), 0o755); err != nil {
		return nil, common.IoFailure("manifest open", err)
	}
	os.Remove(paths.ManifestTmpPath())

	v, err := loadVersion(paths.ManifestPath())
	fresh := false
	switch {
	case errors.Is(err, os.ErrNotExist):
		v = NewVersion(uuid.NewString(), numLevels)
		fresh = true
	case err != nil:
		return nil, err
	}
	v.ensureLevels(numLevels)

	for level := 0; level < v.NumLevels(); level++ {
		if err := os.MkdirAll(paths.LevelDir(level), 0o755); err != nil {
			return nil, common.IoFailure("manifest open", err)
		}
	}

	m := &Manifest{
		paths:       paths,
		current:     v,
		tables:      make(map[common.FileNo]sstable.SSTable),
		blockCache:  blockCache,
		nextSSTable: v.NextSSTableNumber,
		nextWAL:     v.NextWALNumber,
	}

	var quarantine Edit
	for level, files := range v.Levels {
		for _, fm := range files {
			table, err := sstable.OpenSSTable(paths.SSTablePath(level, fm.FileNo), fm.FileNo, blockCache)
			if err != nil {
				if common.KindOf(err) != common.KindCorruption {
					m.closeTables()
					return nil, err
				}
				common.Logger().Warn("quarantining corrupt table",
					zap.Int("level", level), zap.Uint64("file_no", uint64(fm.FileNo)), zap.Error(err))
				os.Rename(paths.SSTablePath(level, fm.FileNo), paths.SSTablePath(level, fm.FileNo)+CORRUPT_EXT)
				quarantine.DeleteTable(level, fm.FileNo)
				continue
			}
			m.tables[fm.FileNo] = table
		}
	}

	if fresh || quarantine.DeleteSSTables != nil {
		if m.current, err = m.current.Apply(&quarantine); err != nil {
			m.closeTables()
			return nil, err
		}
		if err := m.persist(m.current); err != nil {
			m.closeTables()
			return nil, err
		}
	}

	if err := m.removeOrphans(); err != nil {
		m.closeTables()
		return nil, err
	}
	return m, nil
}

func loadVersion(path string) (*Version, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, common.IoFailure("manifest read", err)
	}
	defer f.Close()
	v, err := ReadManifest(f)
	if err != nil {
		return nil, common.Corruption("manifest read", "%s: %v", path, err)
	}
	return v, nil
}

// removeOrphans deletes table files no version refers to. They are left
// behind by flushes or compactions that crashed before their edit landed.
func (m *Manifest) removeOrphans() error {
	live := make(map[common.FileNo]struct{}, len(m.tables))
	for fileNo := range m.tables {
		live[fileNo] = struct{}{}
	}
	for level := 0; level < m.current.NumLevels(); level++ {
		fileNos, err := common.ListFileNos(m.paths.LevelDir(level), common.SSTABLE_EXT)
		if err != nil {
			return common.IoFailure("manifest gc", err)
		}
		for _, fileNo := range fileNos {
			if _, ok := live[fileNo]; ok {
				continue
			}
			path := m.paths.SSTablePath(level, fileNo)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return common.IoFailure("manifest gc", err)
			}
			common.Logger().Info("removed orphan table", zap.Int("level", level), zap.Uint64("file_no", uint64(fileNo)))
		}
	}
	return nil
}

// Current returns the current version. Versions are never mutated.
func (m *Manifest) Current() *Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manifest) BlockCache() block_cache.BlockCache {
	return m.blockCache
}

func (m *Manifest) Paths() *common.PathManager {
	return m.paths
}

// NewSSTableNumber allocates a table file number. Numbers allocated but
// never committed are simply skipped.
func (m *Manifest) NewSSTableNumber() common.FileNo {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nextSSTable
	m.nextSSTable++
	return n
}

// NewWALNumber allocates a WAL file number.
func (m *Manifest) NewWALNumber() common.FileNo {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nextWAL
	m.nextWAL++
	return n
}

// ReserveWALNumber makes sure later allocations are above n.
func (m *Manifest) ReserveWALNumber(n common.FileNo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n >= m.nextWAL {
		m.nextWAL = n + 1
	}
}

// LogAndApply persists the edit and installs the resulting version. New
// tables named by the edit are opened first; if anything fails the current
// version is left untouched.
func (m *Manifest) LogAndApply(edit *Edit) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return common.ErrClosed
	}
	base := m.current
	m.mu.RUnlock()

	nv, err := base.Apply(edit)
	if err != nil {
		return err
	}

	opened := make(map[common.FileNo]sstable.SSTable)
	for level, files := range edit.AddSSTables {
		for _, fm := range files {
			table, err := sstable.OpenSSTable(m.paths.SSTablePath(level, fm.FileNo), fm.FileNo, m.blockCache)
			if err != nil {
				unrefAll(opened)
				return err
			}
			opened[fm.FileNo] = table
		}
	}

	m.mu.Lock()
	if m.nextSSTable > nv.NextSSTableNumber {
		nv.NextSSTableNumber = m.nextSSTable
	}
	if m.nextWAL > nv.NextWALNumber {
		nv.NextWALNumber = m.nextWAL
	}
	m.mu.Unlock()

	if err := m.persist(nv); err != nil {
		unrefAll(opened)
		return err
	}

	var removed []sstable.SSTable
	m.mu.Lock()
	m.current = nv
	for fileNo, table := range opened {
		m.tables[fileNo] = table
	}
	for _, deleteSet := range edit.DeleteSSTables {
		for fileNo := range deleteSet {
			if table, ok := m.tables[fileNo]; ok {
				removed = append(removed, table)
				delete(m.tables, fileNo)
			}
		}
	}
	m.mu.Unlock()

	var result *multierror.Error
	for _, table := range removed {
		table.MarkObsolete()
		if err := table.Unref(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Quarantine drops a table that failed validation at read time. The file
// is renamed aside rather than deleted.
func (m *Manifest) Quarantine(fileNo common.FileNo) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	base := m.current
	table, ok := m.tables[fileNo]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	var edit Edit
	level := -1
	for l, files := range base.Levels {
		for _, fm := range files {
			if fm.FileNo == fileNo {
				level = l
			}
		}
	}
	if level < 0 {
		return nil
	}
	edit.DeleteTable(level, fileNo)
	nv, err := base.Apply(&edit)
	if err != nil {
		return err
	}
	if err := m.persist(nv); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = nv
	delete(m.tables, fileNo)
	m.mu.Unlock()

	common.Logger().Warn("quarantined corrupt table",
		zap.Int("level", level), zap.Uint64("file_no", uint64(fileNo)))
	if err := os.Rename(table.Path(), table.Path()+CORRUPT_EXT); err != nil {
		common.Logf("quarantine rename %s: %v", table.Path(), err)
	}
	if m.blockCache != nil {
		m.blockCache.EvictFile(fileNo)
	}
	return table.Unref()
}

// persist atomically replaces MANIFEST with v.
func (m *Manifest) persist(v *Version) error {
	start := time.Now()
	tmpPath := m.paths.ManifestTmpPath()
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return common.IoFailure("manifest write", err)
	}

	if err := WriteManifest(f, v); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return common.IoFailure("manifest write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return common.IoFailure("manifest sync", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return common.IoFailure("manifest close", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, m.paths.ManifestPath()); err != nil {
		os.Remove(tmpPath)
		return common.IoFailure("manifest rename", err)
	}
	if err := common.SyncDir(m.paths.Root()); err != nil {
		return common.IoFailure("manifest sync dir", err)
	}
	common.Logf("manifest persisted in %s", time.Since(start))
	return nil
}

// Close releases the manifest's table references. Tables pinned by open
// snapshots stay readable until those are released.
func (m *Manifest) Close() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.closeTables()
}

func (m *Manifest) closeTables() error {
	m.mu.Lock()
	tables := m.tables
	m.tables = make(map[common.FileNo]sstable.SSTable)
	m.mu.Unlock()

	var result *multierror.Error
	for _, table := range tables {
		if err := table.Unref(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func unrefAll(tables map[common.FileNo]sstable.SSTable) {
	for _, table := range tables {
		table.Unref()
	}
}

// WriteManifest serializes a Version to JSON.
func WriteManifest(w io.Writer, v *Version) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// ReadManifest deserializes a Version from JSON.
func ReadManifest(r io.Reader) (*Version, error) {
	var v Version
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}
