package iterator

import (
	"bytes"
	"container/heap"

	"github.com/hashicorp/go-multierror"

	"shale/internal/common"
)

// MergingIterator performs a k-way merge over sorted sources and yields one
// entry per key: the one with the highest sequence number. When two sources
// carry the same key and sequence, the source listed first wins. Tombstones
// are passed through; callers decide whether to drop them.
type MergingIterator struct {
	sources []common.EntryIterator
	h       iteratorHeap
	started bool
	lastKey []byte
	err     error
}

var _ common.EntryIterator = (*MergingIterator)(nil)

// NewMergingIterator merges sources, which should be ordered newest first.
func NewMergingIterator(sources []common.EntryIterator) *MergingIterator {
	return &MergingIterator{sources: sources}
}

type iteratorItem struct {
	entry    *common.Entry
	iter     common.EntryIterator
	priority int // lower = newer source
}

type iteratorHeap []*iteratorItem

func (h iteratorHeap) Len() int { return len(h) }

func (h iteratorHeap) Less(i, j int) bool {
	keyCmp := bytes.Compare(h[i].entry.Key, h[j].entry.Key)
	if keyCmp != 0 {
		return keyCmp < 0
	}
	if h[i].entry.Seq != h[j].entry.Seq {
		return h[i].entry.Seq > h[j].entry.Seq
	}
	return h[i].priority < h[j].priority
}

func (h iteratorHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *iteratorHeap) Push(x any) {
	*h = append(*h, x.(*iteratorItem))
}

func (h *iteratorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func (m *MergingIterator) init() error {
	m.started = true
	for i, src := range m.sources {
		entry, err := src.Next()
		if err != nil {
			return err
		}
		if entry != nil {
			m.h = append(m.h, &iteratorItem{entry: entry, iter: src, priority: i})
		}
	}
	heap.Init(&m.h)
	return nil
}

// advance moves item to its source's next entry, dropping it when exhausted.
func (m *MergingIterator) advance(item *iteratorItem) error {
	entry, err := item.iter.Next()
	if err != nil {
		return err
	}
	if entry == nil {
		heap.Pop(&m.h)
		return nil
	}
	item.entry = entry
	heap.Fix(&m.h, 0)
	return nil
}

func (m *MergingIterator) Next() (*common.Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if !m.started {
		if m.err = m.init(); m.err != nil {
			return nil, m.err
		}
	}

	for m.h.Len() > 0 {
		top := m.h[0]
		entry := top.entry
		if m.lastKey != nil && bytes.Equal(entry.Key, m.lastKey) {
			// Older version of a key already returned.
			if m.err = m.advance(top); m.err != nil {
				return nil, m.err
			}
			continue
		}
		m.lastKey = append(m.lastKey[:0], entry.Key...)
		if m.err = m.advance(top); m.err != nil {
			return nil, m.err
		}
		return entry, nil
	}
	return nil, nil
}

// Close closes every source.
func (m *MergingIterator) Close() error {
	var result *multierror.Error
	for _, src := range m.sources {
		if err := src.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.sources = nil
	m.h = nil
	return result.ErrorOrNil()
}
