package block

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/snappy"

	"shale/internal/common"
)

// Builder packs sorted entries into one data block.
type Builder struct {
	buf      []byte
	count    int
	firstKey []byte
	lastKey  []byte
	compress bool
}

// NewBuilder returns an empty block builder. With compress set, payloads
// are snappy-compressed when that makes them smaller.
func NewBuilder(compress bool) *Builder {
	return &Builder{compress: compress}
}

// Add appends e. Keys must arrive in strictly increasing order.
func (b *Builder) Add(e *common.Entry) error {
	if b.count > 0 && bytes.Compare(e.Key, b.lastKey) <= 0 {
		return common.InvalidArgument("block add", "key %q not after %q", e.Key, b.lastKey)
	}
	if b.count == 0 {
		b.firstKey = bytes.Clone(e.Key)
	}
	b.lastKey = append(b.lastKey[:0], e.Key...)
	b.buf = common.AppendEntry(b.buf, e)
	b.count++
	return nil
}

// EstimatedSize is the uncompressed payload size so far.
func (b *Builder) EstimatedSize() int {
	return len(b.buf)
}

func (b *Builder) Empty() bool {
	return b.count == 0
}

func (b *Builder) Len() int {
	return b.count
}

// FirstKey returns the first key added since the last Reset.
func (b *Builder) FirstKey() []byte {
	return b.firstKey
}

// Finish returns the encoded block including its trailer. The builder must
// be Reset before reuse.
func (b *Builder) Finish() []byte {
	payload := b.buf
	kind := NO_COMPRESSION
	if b.compress {
		if compressed := snappy.Encode(nil, b.buf); len(compressed) < len(b.buf) {
			payload = compressed
			kind = SNAPPY_COMPRESSION
		}
	}

	out := make([]byte, 0, len(payload)+TRAILER_SIZE)
	out = append(out, payload...)
	out = append(out, kind)
	out = binary.LittleEndian.AppendUint32(out, common.Checksum(out))
	return out
}

func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.count = 0
	b.firstKey = nil
	b.lastKey = b.lastKey[:0]
}
