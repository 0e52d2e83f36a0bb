package sstable

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"shale/internal/block"
	"shale/internal/common"
	"shale/internal/filter"
)

// WriterOptions controls block sizing, compression and filter precision.
type WriterOptions struct {
	BlockSize         int
	FalsePositiveRate float64
	Compress          bool
}

// DefaultWriterOptions returns the options used when none are given.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		BlockSize:         block.DEFAULT_BLOCK_SIZE,
		FalsePositiveRate: filter.DEFAULT_FALSE_POSITIVE_RATE,
		Compress:          true,
	}
}

// WriteResult contains metadata from writing an SSTable.
type WriteResult struct {
	BytesWritten uint64
	SmallestKey  []byte
	LargestKey   []byte
	EntryCount   uint64
	MaxSeq       uint64
}

// Writer streams sorted entries into the SSTable format.
type Writer struct {
	w       io.Writer
	opts    WriterOptions
	builder *block.Builder
	index   Index
	keys    [][]byte // for sizing the filter exactly at Finish
	offset  uint64
	result  WriteResult
	lastKey []byte
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.BlockSize <= 0 {
		opts.BlockSize = block.DEFAULT_BLOCK_SIZE
	}
	return &Writer{
		w:       w,
		opts:    opts,
		builder: block.NewBuilder(opts.Compress),
	}
}

// Add appends e. Keys must be strictly increasing across the whole table.
func (tw *Writer) Add(e *common.Entry) error {
	if tw.result.EntryCount > 0 && bytes.Compare(e.Key, tw.lastKey) <= 0 {
		return common.InvalidArgument("sstable write", "key %q not after %q", e.Key, tw.lastKey)
	}
	if tw.result.EntryCount == 0 {
		tw.result.SmallestKey = bytes.Clone(e.Key)
	}
	tw.lastKey = append(tw.lastKey[:0], e.Key...)
	if e.Seq > tw.result.MaxSeq {
		tw.result.MaxSeq = e.Seq
	}

	if err := tw.builder.Add(e); err != nil {
		return err
	}
	tw.keys = append(tw.keys, bytes.Clone(e.Key))
	tw.result.EntryCount++

	if tw.builder.EstimatedSize() >= tw.opts.BlockSize {
		return tw.flushBlock()
	}
	return nil
}

func (tw *Writer) flushBlock() error {
	if tw.builder.Empty() {
		return nil
	}
	firstKey := tw.builder.FirstKey()
	data := tw.builder.Finish()
	if _, err := tw.w.Write(data); err != nil {
		return common.IoFailure("sstable write", err)
	}
	tw.index.Entries = append(tw.index.Entries, IndexEntry{
		BlockOffset: tw.offset,
		BlockLength: uint32(len(data)),
		Key:         firstKey,
	})
	tw.offset += uint64(len(data))
	tw.builder.Reset()
	return nil
}

// EntryCount returns the number of entries added so far.
func (tw *Writer) EntryCount() uint64 {
	return tw.result.EntryCount
}

// EstimatedSize is the number of bytes the table would occupy if finished now,
// excluding filter and index.
func (tw *Writer) EstimatedSize() uint64 {
	return tw.offset + uint64(tw.builder.EstimatedSize())
}

// Finish writes the last data block, the filter block, the index block and
// the footer. An empty table is rejected.
func (tw *Writer) Finish() (*WriteResult, error) {
	if tw.result.EntryCount == 0 {
		return nil, common.InvalidArgument("sstable write", "table has no entries")
	}
	if err := tw.flushBlock(); err != nil {
		return nil, err
	}

	// Write filter block
	filterOffset := tw.offset
	bf := filter.NewBloomFilter(uint64(len(tw.keys)), tw.opts.FalsePositiveRate)
	for _, k := range tw.keys {
		bf.Add(k)
	}
	filterData, err := bf.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := tw.w.Write(filterData); err != nil {
		return nil, common.IoFailure("sstable write", err)
	}
	tw.offset += uint64(len(filterData))

	// Write index block
	indexOffset := tw.offset
	tw.index.LastKey = bytes.Clone(tw.lastKey)
	n, err := WriteIndex(tw.w, &tw.index)
	if err != nil {
		return nil, common.IoFailure("sstable write", err)
	}
	tw.offset += uint64(n)

	// Write footer
	n, err = WriteFooter(tw.w, &Footer{
		FilterOffset: filterOffset,
		IndexOffset:  indexOffset,
		EntryCount:   tw.result.EntryCount,
	})
	if err != nil {
		return nil, common.IoFailure("sstable write", err)
	}
	tw.offset += uint64(n)

	res := tw.result
	res.BytesWritten = tw.offset
	res.LargestKey = bytes.Clone(tw.lastKey)
	return &res, nil
}

// WriteSSTable writes a complete SSTable from a stream of sorted entries.
// Returns metadata about the written SSTable.
func WriteSSTable(w io.Writer, entries common.EntryIterator, opts WriterOptions) (*WriteResult, error) {
	tw := NewWriter(w, opts)
	for {
		entry, err := entries.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break // End of stream
		}
		if err := tw.Add(entry); err != nil {
			return nil, err
		}
	}
	return tw.Finish()
}

// FileWriter builds one table file. The file only becomes visible under its
// final name once Finish has synced it; Abort removes any partial output.
type FileWriter struct {
	*Writer
	path string
	file *os.File
	buf  *bufio.Writer
}

// CreateFile starts a new table at path.
func CreateFile(path string, opts WriterOptions) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, common.IoFailure("sstable create", err)
	}
	buf := bufio.NewWriterSize(f, 64<<10)
	return &FileWriter{
		Writer: NewWriter(buf, opts),
		path:   path,
		file:   f,
		buf:    buf,
	}, nil
}

func (fw *FileWriter) Path() string {
	return fw.path
}

// Finish completes the table and fsyncs it.
func (fw *FileWriter) Finish() (*WriteResult, error) {
	res, err := fw.Writer.Finish()
	if err != nil {
		fw.Abort()
		return nil, err
	}
	if err := fw.buf.Flush(); err != nil {
		fw.Abort()
		return nil, common.IoFailure("sstable flush", err)
	}
	if err := fw.file.Sync(); err != nil {
		fw.Abort()
		return nil, common.IoFailure("sstable sync", err)
	}
	if err := fw.file.Close(); err != nil {
		fw.file = nil
		fw.Abort()
		return nil, common.IoFailure("sstable close", err)
	}
	fw.file = nil
	return res, nil
}

// Abort discards the partial table.
func (fw *FileWriter) Abort() {
	if fw.file != nil {
		fw.file.Close()
		fw.file = nil
	}
	os.Remove(fw.path)
}

// WriteFile writes entries into a new table file at path.
func WriteFile(path string, entries common.EntryIterator, opts WriterOptions) (*WriteResult, error) {
	fw, err := CreateFile(path, opts)
	if err != nil {
		return nil, err
	}
	for {
		entry, err := entries.Next()
		if err != nil {
			fw.Abort()
			return nil, err
		}
		if entry == nil {
			break
		}
		if err := fw.Add(entry); err != nil {
			fw.Abort()
			return nil, err
		}
	}
	return fw.Finish()
}
