package filter

import (
	"bytes"
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"

	"shale/internal/common"
)

// Filter Block Layout:
//
// ┌──────────────────┐
// │   bloom filter   │  bloom.BloomFilter binary form (m, k, bitset)
// ├──────────────────┤
// │     checksum     │  uint32 - CRC-32C over the filter bytes
// └──────────────────┘

// BloomFilter wraps bloom.BloomFilter sized for a known key count.
type BloomFilter struct {
	bf *bloom.BloomFilter
}

var _ Filter = (*BloomFilter)(nil)

// OptimalBloomFilterParams returns the number of hash functions k and bits m
// for n keys at false positive rate p.
func OptimalBloomFilterParams(n uint64, p float64) (k uint32, m uint64) {
	if n == 0 {
		n = 1
	}
	bits, hashes := bloom.EstimateParameters(uint(n), p)
	return uint32(hashes), uint64(bits)
}

// NewBloomFilter creates a filter for n expected keys at false positive rate p.
// A non-positive or out-of-range p falls back to DEFAULT_FALSE_POSITIVE_RATE.
func NewBloomFilter(n uint64, p float64) *BloomFilter {
	if p <= 0 || p >= 1 {
		p = DEFAULT_FALSE_POSITIVE_RATE
	}
	if n == 0 {
		n = 1
	}
	return &BloomFilter{bf: bloom.NewWithEstimates(uint(n), p)}
}

// Add inserts a key into the bloom filter.
func (f *BloomFilter) Add(key []byte) {
	f.bf.Add(key)
}

// MayContain returns true if the key might be in the set.
func (f *BloomFilter) MayContain(key []byte) bool {
	return f.bf.Test(key)
}

// K and M report the hash count and bit length.
func (f *BloomFilter) K() uint32 {
	return uint32(f.bf.K())
}

func (f *BloomFilter) M() uint64 {
	return uint64(f.bf.Cap())
}

// Encode serializes the filter followed by its checksum.
func (f *BloomFilter) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.bf.WriteTo(&buf); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	return binary.LittleEndian.AppendUint32(out, common.Checksum(out)), nil
}

// Decode verifies and parses a filter block produced by Encode.
func Decode(raw []byte) (*BloomFilter, error) {
	if len(raw) < common.CHECKSUM_SIZE {
		return nil, common.Corruption("filter decode", "filter block of %d bytes is too short", len(raw))
	}
	body := raw[:len(raw)-common.CHECKSUM_SIZE]
	want := binary.LittleEndian.Uint32(raw[len(raw)-common.CHECKSUM_SIZE:])
	if got := common.Checksum(body); got != want {
		return nil, common.Corruption("filter decode", "checksum mismatch: got %08x want %08x", got, want)
	}

	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(bytes.NewReader(body)); err != nil {
		return nil, common.Corruption("filter decode", "%v", err)
	}
	return &BloomFilter{bf: bf}, nil
}
