package db

import (
	"bytes"

	"shale/internal/common"
	"shale/internal/iterator"
)

// Iterator walks the live entries of a Scan in key order. It reads a
// snapshot taken when Scan was called and must be closed.
type Iterator struct {
	src    common.EntryIterator
	cur    *common.Entry
	err    error
	closed bool
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.closed || it.err != nil || it.src == nil {
		return false
	}
	entry, err := it.src.Next()
	if err != nil {
		it.err = err
		it.cur = nil
		return false
	}
	it.cur = entry
	return entry != nil
}

func (it *Iterator) Key() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.Key
}

func (it *Iterator) Value() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.Value
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the tables pinned by the scan.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.cur = nil
	if it.src == nil {
		return nil
	}
	return it.src.Close()
}

// Scan returns the live entries with start <= key < end. A nil end scans to
// the last key.
func (d *DB) Scan(start, end []byte) (*Iterator, error) {
	if d.closed.Load() {
		return nil, common.ErrClosed
	}
	if end != nil {
		switch cmp := bytes.Compare(start, end); {
		case cmp > 0:
			return nil, common.InvalidArgument("scan", "start %q is after end %q", start, end)
		case cmp == 0:
			return &Iterator{}, nil
		}
	}

	d.mu.RLock()
	mem := d.mem.mem
	imm := append([]*memtableGen(nil), d.imm...)
	snap, err := d.manifest.Acquire()
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	// Table iterators hold their own references.
	defer snap.Release()

	sources := []common.EntryIterator{mem.RangeIterator(start, end)}
	for i := len(imm) - 1; i >= 0; i-- {
		sources = append(sources, imm[i].mem.RangeIterator(start, end))
	}
	for _, tables := range snap.Levels {
		for _, table := range tables {
			if end != nil && bytes.Compare(table.SmallestKey(), end) >= 0 {
				continue
			}
			if bytes.Compare(table.LargestKey(), start) < 0 {
				continue
			}
			sources = append(sources, table.Iterator(start))
		}
	}

	merged := iterator.NewMergingIterator(sources)
	return &Iterator{src: iterator.NewLiveIterator(iterator.NewRangeIterator(merged, end))}, nil
}
