package manifest

import (
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"shale/internal/common"
	"shale/internal/sstable"
)

// Snapshot pins the tables of one version for the duration of a read or a
// compaction. Levels[0] is ordered newest first; deeper levels follow the
// version's key order.
type Snapshot struct {
	Version  *Version
	Levels   [][]sstable.SSTable
	released atomic.Bool
}

// Acquire returns a snapshot of the current version holding a reference on
// each of its tables. The caller must Release it.
func (m *Manifest) Acquire() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, common.ErrClosed
	}

	v := m.current
	snap := &Snapshot{Version: v, Levels: make([][]sstable.SSTable, len(v.Levels))}
	for level, files := range v.Levels {
		tables := make([]sstable.SSTable, 0, len(files))
		for _, fm := range files {
			table, ok := m.tables[fm.FileNo]
			if !ok {
				continue
			}
			table.Ref()
			tables = append(tables, table)
		}
		if level == 0 {
			for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
				tables[i], tables[j] = tables[j], tables[i]
			}
		}
		snap.Levels[level] = tables
	}
	return snap, nil
}

// Release drops the snapshot's table references. Safe to call twice.
func (s *Snapshot) Release() error {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return nil
	}
	var result *multierror.Error
	for _, tables := range s.Levels {
		for _, table := range tables {
			if err := table.Unref(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// Table returns the pinned handle for fileNo, or nil.
func (s *Snapshot) Table(fileNo common.FileNo) sstable.SSTable {
	for _, tables := range s.Levels {
		for _, table := range tables {
			if table.FileNo() == fileNo {
				return table
			}
		}
	}
	return nil
}
