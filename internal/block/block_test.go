package block

import (
	"bytes"
	"fmt"
	"testing"

	"shale/internal/common"

	"github.com/stretchr/testify/require"
)

func makeEntries(n int) []*common.Entry {
	entries := make([]*common.Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = &common.Entry{
			Type:  common.EntryTypePut,
			Seq:   uint64(i + 1),
			Key:   []byte(fmt.Sprintf("key_%03d", i)),
			Value: []byte(fmt.Sprintf("value_%03d", i)),
		}
	}
	return entries
}

func buildBlock(t *testing.T, entries []*common.Entry, compress bool) []byte {
	t.Helper()
	b := NewBuilder(compress)
	for _, e := range entries {
		require.NoError(t, b.Add(e))
	}
	return b.Finish()
}

func TestBlockRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			entries := makeEntries(64)
			entries[10].Type = common.EntryTypeDelete
			entries[10].Value = nil

			blk, err := Decode(buildBlock(t, entries, compress))
			require.NoError(t, err)
			require.Equal(t, len(entries), blk.Len())
			require.Equal(t, entries[0].Key, blk.FirstKey())
			require.Equal(t, entries[63].Key, blk.LastKey())

			for _, e := range entries {
				got, ok := blk.Get(e.Key)
				require.True(t, ok, "key %s should be found", e.Key)
				require.True(t, common.EntriesEqual(e, got))
			}

			for _, missing := range []string{"key_", "key_0005", "key_999", "a", "z"} {
				_, ok := blk.Get([]byte(missing))
				require.False(t, ok, "key %s should not be found", missing)
			}
		})
	}
}

func TestBlockCompressesRepetitiveData(t *testing.T) {
	entries := make([]*common.Entry, 32)
	for i := range entries {
		entries[i] = &common.Entry{
			Type:  common.EntryTypePut,
			Seq:   uint64(i + 1),
			Key:   []byte(fmt.Sprintf("key_%03d", i)),
			Value: bytes.Repeat([]byte("z"), 200),
		}
	}
	raw := buildBlock(t, entries, false)
	compressed := buildBlock(t, entries, true)
	require.Less(t, len(compressed), len(raw))
	require.Equal(t, SNAPPY_COMPRESSION, compressed[len(compressed)-TRAILER_SIZE])
}

func TestBlockIterator(t *testing.T) {
	entries := makeEntries(10)
	blk, err := Decode(buildBlock(t, entries, true))
	require.NoError(t, err)

	common.RequireMatchesIterator(t, blk.Iterator(nil), entries)
	common.RequireMatchesIterator(t, blk.Iterator([]byte("key_004")), entries[4:])
	common.RequireMatchesIterator(t, blk.Iterator([]byte("key_0045")), entries[5:])
	common.RequireMatchesIterator(t, blk.Iterator([]byte("zzz")), nil)
}

func TestBlockChecksumMismatch(t *testing.T) {
	raw := buildBlock(t, makeEntries(8), false)
	raw[3] ^= 0x01

	_, err := Decode(raw)
	require.ErrorIs(t, err, common.ErrCorruption)
}

func TestBlockTooShort(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	require.ErrorIs(t, err, common.ErrCorruption)
}

func TestBuilderRejectsUnsortedKeys(t *testing.T) {
	b := NewBuilder(false)
	require.NoError(t, b.Add(&common.Entry{Key: []byte("b"), Seq: 1}))
	require.ErrorIs(t, b.Add(&common.Entry{Key: []byte("a"), Seq: 2}), common.ErrInvalidArgument)
	require.ErrorIs(t, b.Add(&common.Entry{Key: []byte("b"), Seq: 3}), common.ErrInvalidArgument)
}

func TestBuilderReset(t *testing.T) {
	b := NewBuilder(false)
	require.True(t, b.Empty())
	require.NoError(t, b.Add(&common.Entry{Key: []byte("m"), Seq: 1}))
	require.Equal(t, []byte("m"), b.FirstKey())
	require.Greater(t, b.EstimatedSize(), 0)

	b.Reset()
	require.True(t, b.Empty())
	require.Equal(t, 0, b.EstimatedSize())
	// After a reset, ordering restarts.
	require.NoError(t, b.Add(&common.Entry{Key: []byte("a"), Seq: 2}))
}
