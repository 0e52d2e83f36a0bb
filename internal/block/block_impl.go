package block

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/golang/snappy"

	"shale/internal/common"
)

// blockImpl parses and stores all entries from a data block for fast lookups.
type blockImpl struct {
	entries []*common.Entry // sorted by key
}

var _ Block = (*blockImpl)(nil)

// Decode verifies the trailer of an on-disk block, decompresses it, and
// parses its entries. A checksum mismatch or malformed payload yields a
// corruption error.
func Decode(raw []byte) (Block, error) {
	if len(raw) < TRAILER_SIZE {
		return nil, common.Corruption("block decode", "block of %d bytes is shorter than its trailer", len(raw))
	}
	body := raw[:len(raw)-common.CHECKSUM_SIZE]
	want := binary.LittleEndian.Uint32(raw[len(raw)-common.CHECKSUM_SIZE:])
	if got := common.Checksum(body); got != want {
		return nil, common.Corruption("block decode", "checksum mismatch: got %08x want %08x", got, want)
	}

	payload := body[:len(body)-1]
	switch body[len(body)-1] {
	case NO_COMPRESSION:
	case SNAPPY_COMPRESSION:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, common.Corruption("block decode", "snappy: %v", err)
		}
		payload = decoded
	default:
		return nil, common.Corruption("block decode", "unknown compression %d", body[len(body)-1])
	}
	return NewBlock(payload)
}

// NewBlock parses a raw, uncompressed run of entries into memory.
func NewBlock(data []byte) (Block, error) {
	var entries []*common.Entry
	for len(data) > 0 {
		entry, n, err := common.DecodeEntryFrom(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		data = data[n:]
	}
	return &blockImpl{entries: entries}, nil
}

// Get performs binary search to find the entry for the given key.
func (b *blockImpl) Get(key []byte) (*common.Entry, bool) {
	i := b.seek(key)
	if i < len(b.entries) && bytes.Equal(b.entries[i].Key, key) {
		return b.entries[i], true
	}
	return nil, false
}

// seek returns the index of the first entry with key >= target.
func (b *blockImpl) seek(target []byte) int {
	return sort.Search(len(b.entries), func(i int) bool {
		return bytes.Compare(b.entries[i].Key, target) >= 0
	})
}

func (b *blockImpl) Iterator(from []byte) common.EntryIterator {
	start := 0
	if from != nil {
		start = b.seek(from)
	}
	return common.NewSliceIterator(b.entries[start:])
}

// Len returns the number of entries in this block.
func (b *blockImpl) Len() int {
	return len(b.entries)
}

func (b *blockImpl) FirstKey() []byte {
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[0].Key
}

func (b *blockImpl) LastKey() []byte {
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[len(b.entries)-1].Key
}
