package common

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// FileNo identifies a file (SSTable or WAL).
type FileNo uint64

// BlockNo identifies a block within an SSTable.
type BlockNo int

// EntryType enumerates logical operations flowing through WAL, memtable,
// and SSTable components.
type EntryType uint8

const (
	EntryTypePut EntryType = iota
	EntryTypeDelete
)

func (t EntryType) String() string {
	switch t {
	case EntryTypePut:
		return "PUT"
	case EntryTypeDelete:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// ENTRY_HEADER_SIZE is the fixed part of an encoded entry: type(1) + seq(8).
const ENTRY_HEADER_SIZE = 1 + 8

// MAX_KEY_SIZE is the longest key a write may carry. Table indexes refuse
// to decode anything longer.
const MAX_KEY_SIZE = 1 << 20

// Entry captures a single mutation in sequence order.
type Entry struct {
	Type  EntryType
	Seq   uint64
	Key   []byte
	Value []byte
}

// IsTombstone reports whether the entry records a delete.
func (e *Entry) IsTombstone() bool {
	return e.Type == EntryTypeDelete
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	return &Entry{
		Type:  e.Type,
		Seq:   e.Seq,
		Key:   bytes.Clone(e.Key),
		Value: bytes.Clone(e.Value),
	}
}

// EncodedLen returns the number of bytes Encode will produce.
func (e *Entry) EncodedLen() int {
	return ENTRY_HEADER_SIZE + uvarintLen(uint64(len(e.Key))) + uvarintLen(uint64(len(e.Value))) + len(e.Key) + len(e.Value)
}

// EntryIterator produces a forward-only stream of entries. Next returns
// nil, nil when the stream is exhausted. Close releases any underlying
// resources and is safe to call more than once.
type EntryIterator interface {
	Next() (*Entry, error)
	Close() error
}

// AppendEntry appends the encoded form of e to dst.
// Format: type(1) + seq(8) + keyLen(varint) + valueLen(varint) + key + value
func AppendEntry(dst []byte, e *Entry) []byte {
	var hdr [ENTRY_HEADER_SIZE]byte
	hdr[0] = byte(e.Type)
	binary.LittleEndian.PutUint64(hdr[1:], e.Seq)
	dst = append(dst, hdr[:]...)
	dst = binary.AppendUvarint(dst, uint64(len(e.Key)))
	dst = binary.AppendUvarint(dst, uint64(len(e.Value)))
	dst = append(dst, e.Key...)
	dst = append(dst, e.Value...)
	return dst
}

// Encode writes an entry to the given writer.
func (e *Entry) Encode(w io.Writer) error {
	_, err := WriteEntry(w, e)
	return err
}

// WriteEntry writes an entry and returns the number of bytes written.
func WriteEntry(w io.Writer, e *Entry) (int, error) {
	buf := AppendEntry(make([]byte, 0, e.EncodedLen()), e)
	return w.Write(buf)
}

// DecodeEntryFrom decodes one entry from the front of buf and returns it
// together with the number of bytes consumed. The returned slices alias buf.
func DecodeEntryFrom(buf []byte) (*Entry, int, error) {
	if len(buf) < ENTRY_HEADER_SIZE {
		return nil, 0, Corruption("decode entry", "short header: %d bytes", len(buf))
	}
	typ := EntryType(buf[0])
	if typ != EntryTypePut && typ != EntryTypeDelete {
		return nil, 0, Corruption("decode entry", "unknown entry type %d", typ)
	}
	off := ENTRY_HEADER_SIZE
	keyLen, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return nil, 0, Corruption("decode entry", "bad key length")
	}
	off += n
	valueLen, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return nil, 0, Corruption("decode entry", "bad value length")
	}
	off += n
	if uint64(len(buf)-off) < keyLen+valueLen {
		return nil, 0, Corruption("decode entry", "payload truncated")
	}
	entry := &Entry{
		Type: typ,
		Seq:  binary.LittleEndian.Uint64(buf[1:ENTRY_HEADER_SIZE]),
	}
	if keyLen > 0 {
		entry.Key = buf[off : off+int(keyLen)]
	}
	off += int(keyLen)
	if valueLen > 0 {
		entry.Value = buf[off : off+int(valueLen)]
	}
	off += int(valueLen)
	return entry, off, nil
}

// DecodeEntry reads a single entry from the reader.
// Returns io.EOF if the reader is empty and io.ErrUnexpectedEOF if the
// entry is cut short.
func DecodeEntry(r io.Reader) (*Entry, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = byteReader{r}
	}

	var hdr [ENTRY_HEADER_SIZE]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		return nil, unexpected(err)
	}

	keyLen, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, unexpected(err)
	}
	valueLen, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, unexpected(err)
	}

	entry := &Entry{
		Type: EntryType(hdr[0]),
		Seq:  binary.LittleEndian.Uint64(hdr[1:]),
	}
	if entry.Key, err = ReadBytes(r, keyLen); err != nil {
		return nil, unexpected(err)
	}
	if entry.Value, err = ReadBytes(r, valueLen); err != nil {
		return nil, unexpected(err)
	}
	return entry, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// byteReader adapts io.Reader to io.ByteReader for binary.ReadUvarint
type byteReader struct {
	io.Reader
}

func (br byteReader) ReadByte() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(br.Reader, b[:])
	return b[0], err
}
