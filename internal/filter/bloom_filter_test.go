package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"shale/internal/common"
)

func TestOptimalBloomFilterParams(t *testing.T) {
	tests := []struct {
		n            uint64
		p            float64
		expectedMMin uint64 // m should be at least this
	}{
		{100, 0.01, 900},   // ~958 bits for 100 elements at 1% FP
		{1000, 0.01, 9000}, // ~9585 bits for 1000 elements at 1% FP
		{100, 0.001, 1400}, // ~1438 bits for 100 elements at 0.1% FP
	}

	for _, tt := range tests {
		k, m := OptimalBloomFilterParams(tt.n, tt.p)
		require.GreaterOrEqual(t, k, uint32(6), "k for n=%d p=%f", tt.n, tt.p)
		require.GreaterOrEqual(t, m, tt.expectedMMin, "m for n=%d p=%f should be >= %d", tt.n, tt.p, tt.expectedMMin)
	}
}

func TestBloomFilterFalsePositiveRate(t *testing.T) {
	n := uint64(1000)
	p := 0.01 // 1% target false positive rate

	bf := NewBloomFilter(n, p)
	for i := uint64(0); i < n; i++ {
		bf.Add([]byte(fmt.Sprintf("key-%d", i)))
	}

	testCount := 10000
	falsePositives := 0
	for i := n; i < n+uint64(testCount); i++ {
		if bf.MayContain([]byte(fmt.Sprintf("key-%d", i))) {
			falsePositives++
		}
	}

	observedFP := float64(falsePositives) / float64(testCount)

	// Verify false positive rate is within 3x of target
	maxAcceptableFP := p * 3.0
	require.LessOrEqual(t, observedFP, maxAcceptableFP,
		"False positive rate %.4f exceeds 3x target (%.4f). k=%d, m=%d, n=%d",
		observedFP, maxAcceptableFP, bf.K(), bf.M(), n)

	t.Logf("False positive rate: %.4f (target: %.4f, max: %.4f), k=%d, m=%d",
		observedFP, p, maxAcceptableFP, bf.K(), bf.M())
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)

	keys := make([][]byte, 5000)
	for i := range keys {
		keys[i] = []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		bf.Add(keys[i])
	}

	// Overfilled filters lose precision, never recall.
	for i, key := range keys {
		require.True(t, bf.MayContain(key), "key %d should be found", i)
	}
}

func TestBloomFilterEncodeDecode(t *testing.T) {
	original := NewBloomFilter(3, 0.01)
	keys := [][]byte{
		[]byte("key1"),
		[]byte("key2"),
		[]byte("test"),
	}
	for _, key := range keys {
		original.Add(key)
	}

	raw, err := original.Encode()
	require.NoError(t, err)

	restored, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, original.K(), restored.K())
	require.Equal(t, original.M(), restored.M())

	for _, key := range keys {
		require.True(t, restored.MayContain(key), "key %s should be found in restored filter", key)
	}
}

func TestBloomFilterDecodeCorrupt(t *testing.T) {
	bf := NewBloomFilter(10, 0.01)
	bf.Add([]byte("alpha"))

	raw, err := bf.Encode()
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xFF

	_, err = Decode(raw)
	require.ErrorIs(t, err, common.ErrCorruption)

	_, err = Decode([]byte{1})
	require.ErrorIs(t, err, common.ErrCorruption)
}

func TestBloomFilterFallbackRate(t *testing.T) {
	bf := NewBloomFilter(0, 0)
	bf.Add([]byte("only"))
	require.True(t, bf.MayContain([]byte("only")))
}
