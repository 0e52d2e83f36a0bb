package sstable

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"shale/internal/common"
)

// Index Block Layout:
//
// ┌──────────────────┐
// │    numEntries    │  uint32 - number of data blocks
// ├──────────────────┤
// │   IndexEntry 0   │
// ├──────────────────┤
// │       ...        │
// ├──────────────────┤
// │  IndexEntry N-1  │
// ├──────────────────┤
// │     lastKey      │  uint32 length + bytes - largest key in the table
// ├──────────────────┤
// │     checksum     │  uint32 - CRC-32C over everything above
// └──────────────────┘
//
// IndexEntry Layout:
//
// ┌──────────────────┐
// │   blockOffset    │  uint64
// ├──────────────────┤
// │   blockLength    │  uint32 - on-disk length including the block trailer
// ├──────────────────┤
// │      keyLen      │  uint32
// ├──────────────────┤
// │       key        │  []byte - first key in the block
// └──────────────────┘

// MAX_INDEX_KEY_SIZE bounds key lengths accepted while decoding.
const MAX_INDEX_KEY_SIZE = common.MAX_KEY_SIZE

// IndexEntry represents a single entry in the index block.
type IndexEntry struct {
	BlockOffset uint64 // File offset where data block starts
	BlockLength uint32 // Encoded block length
	Key         []byte // First key in the data block
}

// Index is the in-memory form of the index block.
type Index struct {
	Entries []IndexEntry
	LastKey []byte
}

// Encode writes an index entry to the given writer.
func (e *IndexEntry) Encode(w io.Writer) error {
	var buf [8 + 4 + 4]byte

	binary.LittleEndian.PutUint64(buf[0:], e.BlockOffset)
	binary.LittleEndian.PutUint32(buf[8:], e.BlockLength)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(e.Key)))

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := common.WriteBytes(w, e.Key)
	return err
}

// DecodeIndexEntry reads a single index entry from the reader.
func DecodeIndexEntry(r io.Reader) (*IndexEntry, error) {
	var hdr [8 + 4 + 4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	entry := &IndexEntry{
		BlockOffset: binary.LittleEndian.Uint64(hdr[0:8]),
		BlockLength: binary.LittleEndian.Uint32(hdr[8:12]),
	}

	keyLen := binary.LittleEndian.Uint32(hdr[12:16])
	if keyLen > MAX_INDEX_KEY_SIZE {
		return nil, common.Corruption("sstable index", "key length %d too large", keyLen)
	}
	key, err := common.ReadBytes(r, uint64(keyLen))
	if err != nil {
		return nil, err
	}
	entry.Key = key
	return entry, nil
}

// WriteIndex serializes the index block. Returns the number of bytes written.
func WriteIndex(w io.Writer, idx *Index) (int, error) {
	var buf bytes.Buffer
	common.WriteUint32(&buf, uint32(len(idx.Entries)))
	for i := range idx.Entries {
		if err := idx.Entries[i].Encode(&buf); err != nil {
			return 0, err
		}
	}
	common.WriteLengthPrefixed(&buf, idx.LastKey)
	common.WriteUint32(&buf, common.Checksum(buf.Bytes()))
	return w.Write(buf.Bytes())
}

// ReadIndex parses an index block produced by WriteIndex.
func ReadIndex(raw []byte) (*Index, error) {
	if len(raw) < 4+4+common.CHECKSUM_SIZE {
		return nil, common.Corruption("sstable index", "index block of %d bytes is too short", len(raw))
	}
	body := raw[:len(raw)-common.CHECKSUM_SIZE]
	if got, want := common.Checksum(body), binary.LittleEndian.Uint32(raw[len(body):]); got != want {
		return nil, common.Corruption("sstable index", "checksum mismatch: got %08x want %08x", got, want)
	}

	r := bytes.NewReader(body)
	count, err := common.ReadUint32(r)
	if err != nil {
		return nil, common.Corruption("sstable index", "%v", err)
	}
	// Each entry takes at least 16 bytes.
	if uint64(count)*16 > uint64(len(body)) {
		return nil, common.Corruption("sstable index", "entry count %d exceeds block size", count)
	}

	idx := &Index{Entries: make([]IndexEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		entry, err := DecodeIndexEntry(r)
		if err != nil {
			return nil, common.Corruption("sstable index", "entry %d: %v", i, err)
		}
		idx.Entries = append(idx.Entries, *entry)
	}
	if idx.LastKey, err = common.ReadLengthPrefixed(r, MAX_INDEX_KEY_SIZE); err != nil {
		return nil, common.Corruption("sstable index", "last key: %v", err)
	}
	return idx, nil
}

// FindBlock returns the position of the only block that may hold key: the
// last block whose first key is <= key. found is false when key sorts before
// the first block or after the table's last key.
func (idx *Index) FindBlock(key []byte) (int, bool) {
	if len(idx.Entries) == 0 {
		return 0, false
	}
	if idx.LastKey != nil && bytes.Compare(key, idx.LastKey) > 0 {
		return 0, false
	}
	i := sort.Search(len(idx.Entries), func(i int) bool {
		return bytes.Compare(idx.Entries[i].Key, key) > 0
	})
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}
