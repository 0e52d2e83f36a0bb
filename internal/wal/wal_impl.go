package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	"shale/internal/common"
)

// WAL Record Layout:
//
// ┌──────────────────┐
// │     checksum     │  uint32 - CRC-32C over length + payload
// ├──────────────────┤
// │      length      │  uint32 - payload length
// ├──────────────────┤
// │     payload      │  common.Entry encoding
// └──────────────────┘

const (
	// RECORD_HEADER_SIZE is checksum(4) + length(4).
	RECORD_HEADER_SIZE = 8
	// MAX_RECORD_SIZE bounds a single payload; larger lengths are treated
	// as a torn or corrupt tail.
	MAX_RECORD_SIZE = 64 << 20
)

// WALImpl appends entries to a single file on disk.
type WALImpl struct {
	mu   sync.Mutex
	file *os.File
	path string
	size int64
	buf  []byte
}

var _ WAL = (*WALImpl)(nil)

// CreateWAL creates a new, empty WAL at path, truncating any existing file.
func CreateWAL(path string) (*WALImpl, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, common.IoFailure("wal create", err)
	}
	return &WALImpl{file: f, path: path}, nil
}

// OpenWAL creates (or reopens) a WAL file at path for appending.
func OpenWAL(path string) (*WALImpl, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, common.IoFailure("wal open", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.IoFailure("wal open", err)
	}
	return &WALImpl{file: f, path: path, size: stat.Size()}, nil
}

// Close releases the underlying file handle.
func (l *WALImpl) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return common.IoFailure("wal close", err)
}

func (l *WALImpl) Path() string {
	return l.path
}

func (l *WALImpl) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Append persists the provided batch with a single write and a single sync.
// On error nothing in the batch may be considered durable.
func (l *WALImpl) Append(ctx context.Context, batch []*common.Entry) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return &common.Error{Kind: common.KindClosed, Op: "wal append"}
	}

	buf := l.buf[:0]
	for _, e := range batch {
		buf = appendRecord(buf, e)
	}
	l.buf = buf

	n, err := l.file.Write(buf)
	l.size += int64(n)
	if err != nil {
		return common.IoFailure("wal append", err)
	}
	if err := l.file.Sync(); err != nil {
		return common.IoFailure("wal sync", err)
	}
	return nil
}

func appendRecord(dst []byte, e *common.Entry) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, RECORD_HEADER_SIZE)...)
	dst = common.AppendEntry(dst, e)
	payloadLen := len(dst) - start - RECORD_HEADER_SIZE
	binary.LittleEndian.PutUint32(dst[start+4:], uint32(payloadLen))
	crc := common.Checksum(dst[start+4:])
	binary.LittleEndian.PutUint32(dst[start:], crc)
	return dst
}

// Iterator returns a forward-only reader over all log entries.
func (l *WALImpl) Iterator(ctx context.Context) (WALIterator, error) {
	return NewFileIterator(ctx, l.path)
}

// NewFileIterator opens path read-only and replays its records.
func NewFileIterator(ctx context.Context, path string) (WALIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.IoFailure("wal iterate", err)
	}
	return &fileIterator{
		ctx: ctx,
		f:   f,
		br:  bufio.NewReader(f),
	}, nil
}

type fileIterator struct {
	ctx       context.Context
	f         *os.File
	br        *bufio.Reader
	offset    int64
	truncated bool
	done      bool
}

func (it *fileIterator) Next() (*common.Entry, error) {
	if it.done {
		return nil, nil
	}
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}

	var hdr [RECORD_HEADER_SIZE]byte
	if _, err := io.ReadFull(it.br, hdr[:]); err != nil {
		return it.stop(err)
	}
	length := binary.LittleEndian.Uint32(hdr[4:])
	if length > MAX_RECORD_SIZE {
		return it.stop(io.ErrUnexpectedEOF)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(it.br, payload); err != nil {
		return it.stop(err)
	}

	crc := common.ChecksumExtend(common.Checksum(hdr[4:]), payload)
	if crc != binary.LittleEndian.Uint32(hdr[:4]) {
		common.Logf("wal %s: checksum mismatch at offset %d, truncating replay", it.f.Name(), it.offset)
		return it.stop(io.ErrUnexpectedEOF)
	}

	entry, n, err := common.DecodeEntryFrom(payload)
	if err != nil || n != len(payload) {
		common.Logf("wal %s: malformed record at offset %d, truncating replay", it.f.Name(), it.offset)
		return it.stop(io.ErrUnexpectedEOF)
	}

	it.offset += RECORD_HEADER_SIZE + int64(length)
	return entry, nil
}

// stop ends iteration. A clean EOF on a record boundary is the normal end;
// anything partial or corrupt marks the tail as truncated. Other read
// errors are surfaced.
func (it *fileIterator) stop(err error) (*common.Entry, error) {
	it.done = true
	switch {
	case errors.Is(err, io.EOF):
		return nil, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		it.truncated = true
		return nil, nil
	default:
		return nil, common.IoFailure("wal read", err)
	}
}

func (it *fileIterator) ValidOffset() int64 {
	return it.offset
}

func (it *fileIterator) Truncated() bool {
	return it.truncated
}

func (it *fileIterator) Close() error {
	if it.f == nil {
		return nil
	}
	err := it.f.Close()
	it.f = nil
	it.done = true
	return err
}
