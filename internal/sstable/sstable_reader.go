package sstable

import (
	"bytes"
	"os"
	"sync"
	"sync/atomic"

	"shale/internal/block"
	"shale/internal/block_cache"
	"shale/internal/common"
	"shale/internal/filter"
)

// sstableImpl provides random access to entries in an SSTable file.
type sstableImpl struct {
	file       *os.File
	path       string
	fileNo     common.FileNo
	size       int64
	footer     *Footer
	filter     filter.Filter
	index      *Index
	blockCache block_cache.BlockCache

	refs       atomic.Int32
	obsolete   atomic.Bool
	closeOnce  sync.Once
	closeErr   error
	blockReads atomic.Uint64
}

var _ SSTable = (*sstableImpl)(nil)

// loadSSTableMetadata reads and verifies the footer, filter and index of an open table file.
func loadSSTableMetadata(f *os.File, size int64) (*Footer, filter.Filter, *Index, error) {
	if size < FOOTER_SIZE {
		return nil, nil, nil, common.Corruption("sstable open", "file of %d bytes has no footer", size)
	}

	footerOffset := size - FOOTER_SIZE
	footerData := make([]byte, FOOTER_SIZE)
	if _, err := f.ReadAt(footerData, footerOffset); err != nil {
		return nil, nil, nil, common.IoFailure("sstable read footer", err)
	}
	footer, err := ReadFooter(bytes.NewReader(footerData))
	if err != nil {
		return nil, nil, nil, err
	}
	if footer.FilterOffset > footer.IndexOffset || footer.IndexOffset > uint64(footerOffset) {
		return nil, nil, nil, common.Corruption("sstable open", "footer offsets out of range: filter=%d index=%d size=%d",
			footer.FilterOffset, footer.IndexOffset, size)
	}

	filterData := make([]byte, footer.IndexOffset-footer.FilterOffset)
	if _, err := f.ReadAt(filterData, int64(footer.FilterOffset)); err != nil {
		return nil, nil, nil, common.IoFailure("sstable read filter", err)
	}
	bf, err := filter.Decode(filterData)
	if err != nil {
		return nil, nil, nil, err
	}

	indexData := make([]byte, uint64(footerOffset)-footer.IndexOffset)
	if _, err := f.ReadAt(indexData, int64(footer.IndexOffset)); err != nil {
		return nil, nil, nil, common.IoFailure("sstable read index", err)
	}
	index, err := ReadIndex(indexData)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, e := range index.Entries {
		if e.BlockOffset+uint64(e.BlockLength) > footer.FilterOffset {
			return nil, nil, nil, common.Corruption("sstable open", "block at %d overruns data section", e.BlockOffset)
		}
	}
	return footer, bf, index, nil
}

// OpenSSTable opens an SSTable file and loads its footer, filter and index
// into memory. The returned table holds one reference.
func OpenSSTable(
	path string,
	fileNo common.FileNo,
	blockCache block_cache.BlockCache,
) (SSTable, error) {
	return openSSTable(path, fileNo, blockCache)
}

func openSSTable(path string, fileNo common.FileNo, blockCache block_cache.BlockCache) (*sstableImpl, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.IoFailure("sstable open", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.IoFailure("sstable open", err)
	}

	footer, bf, index, err := loadSSTableMetadata(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &sstableImpl{
		file:       f,
		path:       path,
		fileNo:     fileNo,
		size:       stat.Size(),
		footer:     footer,
		filter:     bf,
		index:      index,
		blockCache: blockCache,
	}
	s.refs.Store(1)
	return s, nil
}

// Get looks up the entry for the given key.
func (s *sstableImpl) Get(key []byte) (*common.Entry, bool, error) {
	if !s.filter.MayContain(key) {
		return nil, false, nil
	}
	blockIdx, ok := s.index.FindBlock(key)
	if !ok {
		return nil, false, nil
	}
	blk, err := s.loadBlock(blockIdx, true)
	if err != nil {
		return nil, false, err
	}
	entry, found := blk.Get(key)
	return entry, found, nil
}

// loadBlock returns the decoded block at blockIdx, consulting the shared
// cache first. Sequential scans pass useCache=false so they do not evict
// blocks that point lookups depend on.
func (s *sstableImpl) loadBlock(blockIdx int, useCache bool) (block.Block, error) {
	blockNo := common.BlockNo(blockIdx)
	if useCache && s.blockCache != nil {
		if cached, ok := s.blockCache.Get(s.fileNo, blockNo); ok {
			return cached, nil
		}
	}

	ie := s.index.Entries[blockIdx]
	raw := make([]byte, ie.BlockLength)
	s.blockReads.Add(1)
	if _, err := s.file.ReadAt(raw, int64(ie.BlockOffset)); err != nil {
		return nil, common.IoFailure("sstable read block", err)
	}
	blk, err := block.Decode(raw)
	if err != nil {
		return nil, &common.Error{Kind: common.KindCorruption, Op: s.path, Err: err}
	}

	if useCache && s.blockCache != nil {
		s.blockCache.Put(s.fileNo, blockNo, blk)
	}
	return blk, nil
}

func (s *sstableImpl) FileNo() common.FileNo {
	return s.fileNo
}

func (s *sstableImpl) Path() string {
	return s.path
}

// Len returns the total number of entries in the SSTable.
// This value is cached in the footer for fast lookup.
func (s *sstableImpl) Len() int {
	return int(s.footer.EntryCount)
}

func (s *sstableImpl) Size() int64 {
	return s.size
}

func (s *sstableImpl) SmallestKey() []byte {
	if len(s.index.Entries) == 0 {
		return nil
	}
	return s.index.Entries[0].Key
}

func (s *sstableImpl) LargestKey() []byte {
	return s.index.LastKey
}

// GetIndex returns the index entries (first key of each block).
func (s *sstableImpl) GetIndex() *Index {
	return s.index
}

func (s *sstableImpl) GetFooter() *Footer {
	return s.footer
}

func (s *sstableImpl) Ref() {
	s.refs.Add(1)
}

// Unref drops a reference, closing (and for obsolete tables, deleting) the
// file when none remain.
func (s *sstableImpl) Unref() error {
	n := s.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		common.Logf("sstable %d: unref below zero", s.fileNo)
		return nil
	}
	return s.release()
}

func (s *sstableImpl) MarkObsolete() {
	s.obsolete.Store(true)
}

func (s *sstableImpl) release() error {
	s.closeOnce.Do(func() {
		s.closeErr = common.IoFailure("sstable close", s.file.Close())
		if !s.obsolete.Load() {
			return
		}
		if s.blockCache != nil {
			s.blockCache.EvictFile(s.fileNo)
		}
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && s.closeErr == nil {
			s.closeErr = common.IoFailure("sstable remove", err)
		}
		common.Logf("sstable %d: removed obsolete file %s", s.fileNo, s.path)
	})
	return s.closeErr
}

// Iterator returns an iterator over entries with key >= from.
func (s *sstableImpl) Iterator(from []byte) common.EntryIterator {
	s.Ref()
	it := &sstableIterator{table: s, from: from}
	if from != nil {
		// Start at the block that could hold from; if from sorts before
		// the first block FindBlock reports false and we start at zero.
		if idx, ok := s.index.FindBlock(from); ok {
			it.next = idx
		} else if len(s.index.Entries) > 0 && bytes.Compare(from, s.index.LastKey) > 0 {
			it.next = len(s.index.Entries)
		}
	}
	return it
}

// sstableIterator loads one block at a time.
type sstableIterator struct {
	table  *sstableImpl
	from   []byte
	next   int // next block to load
	cur    common.EntryIterator
	closed bool
}

var _ common.EntryIterator = (*sstableIterator)(nil)

// Next returns the next entry in the SSTable.
func (it *sstableIterator) Next() (*common.Entry, error) {
	if it.closed {
		return nil, nil
	}
	for {
		if it.cur != nil {
			entry, err := it.cur.Next()
			if err != nil || entry != nil {
				return entry, err
			}
			it.cur = nil
		}
		if it.next >= len(it.table.index.Entries) {
			return nil, nil
		}
		blk, err := it.table.loadBlock(it.next, false)
		if err != nil {
			return nil, err
		}
		it.next++
		it.cur = blk.Iterator(it.from)
		it.from = nil
	}
}

// Close releases the iterator's table reference.
func (it *sstableIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.cur = nil
	return it.table.Unref()
}
