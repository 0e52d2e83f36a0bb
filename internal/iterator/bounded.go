package iterator

import (
	"bytes"

	"shale/internal/common"
)

// RangeIterator stops its source at the first key >= end. A nil end is unbounded.
type RangeIterator struct {
	src  common.EntryIterator
	end  []byte
	done bool
}

func NewRangeIterator(src common.EntryIterator, end []byte) *RangeIterator {
	return &RangeIterator{src: src, end: end}
}

func (it *RangeIterator) Next() (*common.Entry, error) {
	if it.done {
		return nil, nil
	}
	entry, err := it.src.Next()
	if err != nil || entry == nil {
		return nil, err
	}
	if it.end != nil && bytes.Compare(entry.Key, it.end) >= 0 {
		it.done = true
		return nil, nil
	}
	return entry, nil
}

func (it *RangeIterator) Close() error {
	it.done = true
	return it.src.Close()
}

// LiveIterator hides tombstones.
type LiveIterator struct {
	src common.EntryIterator
}

func NewLiveIterator(src common.EntryIterator) *LiveIterator {
	return &LiveIterator{src: src}
}

func (it *LiveIterator) Next() (*common.Entry, error) {
	for {
		entry, err := it.src.Next()
		if err != nil || entry == nil {
			return nil, err
		}
		if !entry.IsTombstone() {
			return entry, nil
		}
	}
}

func (it *LiveIterator) Close() error {
	return it.src.Close()
}
