package memtable

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"shale/internal/common"
)

const btreeDegree = 32

// btreeMemtable keeps entries ordered by key in a B-tree.
type btreeMemtable struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[*common.Entry]
	size   int
	maxSeq uint64
	frozen bool
}

var _ Memtable = (*btreeMemtable)(nil)

func entryLess(a, b *common.Entry) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// NewMemtable returns the default B-tree backed memtable.
func NewMemtable() Memtable {
	return &btreeMemtable{
		tree: btree.NewG(btreeDegree, entryLess),
	}
}

func (m *btreeMemtable) Put(key, value []byte, seq uint64) error {
	return m.apply(&common.Entry{
		Type:  common.EntryTypePut,
		Seq:   seq,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
}

func (m *btreeMemtable) Delete(key []byte, seq uint64) error {
	return m.apply(&common.Entry{
		Type: common.EntryTypeDelete,
		Seq:  seq,
		Key:  bytes.Clone(key),
	})
}

// apply inserts e unless an entry with an equal or higher sequence number
// already exists for the key. Stored entries are never mutated in place, so
// pointers handed out by Get and the iterators stay valid.
func (m *btreeMemtable) apply(e *common.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return ErrFrozen
	}

	if old, ok := m.tree.Get(e); ok {
		if old.Seq >= e.Seq {
			return nil
		}
		m.size -= entrySize(old)
	}
	m.tree.ReplaceOrInsert(e)
	m.size += entrySize(e)
	if e.Seq > m.maxSeq {
		m.maxSeq = e.Seq
	}
	return nil
}

func entrySize(e *common.Entry) int {
	return len(e.Key) + len(e.Value) + ENTRY_OVERHEAD
}

func (m *btreeMemtable) Get(key []byte) (*common.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Get(&common.Entry{Key: key})
}

// Iterator returns a stable snapshot iterator over the current entries.
func (m *btreeMemtable) Iterator() common.EntryIterator {
	return m.RangeIterator(nil, nil)
}

func (m *btreeMemtable) RangeIterator(start, end []byte) common.EntryIterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*common.Entry, 0, m.tree.Len())
	collect := func(e *common.Entry) bool {
		entries = append(entries, e)
		return true
	}
	switch {
	case end == nil:
		m.tree.AscendGreaterOrEqual(&common.Entry{Key: start}, collect)
	default:
		m.tree.AscendRange(&common.Entry{Key: start}, &common.Entry{Key: end}, collect)
	}
	return common.NewSliceIterator(entries)
}

func (m *btreeMemtable) ApproximateSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *btreeMemtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

func (m *btreeMemtable) MaxSeq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSeq
}

func (m *btreeMemtable) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
}

func (m *btreeMemtable) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}
