package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"shale/internal/block_cache"
	"shale/internal/common"
)

func makeEntries(n int) []*common.Entry {
	entries := make([]*common.Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = &common.Entry{
			Type:  common.EntryTypePut,
			Seq:   uint64(i + 1),
			Key:   []byte(fmt.Sprintf("key-%05d", i)),
			Value: []byte(fmt.Sprintf("value-%05d", i)),
		}
	}
	return entries
}

func writeTable(t *testing.T, entries []*common.Entry, opts WriterOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "1.sst")
	_, err := WriteFile(path, common.NewSliceIterator(entries), opts)
	require.NoError(t, err)
	return path
}

func openTable(t *testing.T, path string, cache block_cache.BlockCache) *sstableImpl {
	t.Helper()
	table, err := openSSTable(path, 1, cache)
	require.NoError(t, err)
	t.Cleanup(func() { table.Unref() })
	return table
}

func TestWriteSSTable(t *testing.T) {
	entries := []*common.Entry{
		{Type: common.EntryTypePut, Seq: 1, Key: []byte("apple"), Value: []byte("red")},
		{Type: common.EntryTypePut, Seq: 7, Key: []byte("banana"), Value: []byte("yellow")},
		{Type: common.EntryTypeDelete, Seq: 3, Key: []byte("cherry")},
	}

	var buf bytes.Buffer
	res, err := WriteSSTable(&buf, common.NewSliceIterator(entries), DefaultWriterOptions())
	require.NoError(t, err)
	require.Equal(t, uint64(buf.Len()), res.BytesWritten)
	require.Equal(t, []byte("apple"), res.SmallestKey)
	require.Equal(t, []byte("cherry"), res.LargestKey)
	require.Equal(t, uint64(3), res.EntryCount)
	require.Equal(t, uint64(7), res.MaxSeq)

	data := buf.Bytes()
	footer, err := ReadFooter(bytes.NewReader(data[len(data)-FOOTER_SIZE:]))
	require.NoError(t, err)
	require.Equal(t, uint64(3), footer.EntryCount)
	require.Less(t, footer.FilterOffset, footer.IndexOffset)

	index, err := ReadIndex(data[footer.IndexOffset : len(data)-FOOTER_SIZE])
	require.NoError(t, err)
	require.Len(t, index.Entries, 1)
	require.Equal(t, uint64(0), index.Entries[0].BlockOffset)
	require.Equal(t, []byte("apple"), index.Entries[0].Key)
	require.Equal(t, []byte("cherry"), index.LastKey)
}

func TestWriteSSTableRejectsUnsortedInput(t *testing.T) {
	tests := []struct {
		name string
		keys []string
	}{
		{"duplicate", []string{"a", "b", "b"}},
		{"out of order", []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []*common.Entry
			for i, k := range tt.keys {
				entries = append(entries, &common.Entry{Key: []byte(k), Seq: uint64(i + 1)})
			}
			var buf bytes.Buffer
			_, err := WriteSSTable(&buf, common.NewSliceIterator(entries), DefaultWriterOptions())
			require.ErrorIs(t, err, common.ErrInvalidArgument)
		})
	}
}

func TestWriteFileRemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.sst")
	entries := []*common.Entry{{Key: []byte("b"), Seq: 1}, {Key: []byte("a"), Seq: 2}}

	_, err := WriteFile(path, common.NewSliceIterator(entries), DefaultWriterOptions())
	require.ErrorIs(t, err, common.ErrInvalidArgument)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	_, err = WriteFile(path, common.NewSliceIterator(nil), DefaultWriterOptions())
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestSSTableRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			entries := makeEntries(2000)
			entries[100].Type = common.EntryTypeDelete
			entries[100].Value = nil

			opts := DefaultWriterOptions()
			opts.BlockSize = 512
			opts.Compress = compress
			table := openTable(t, writeTable(t, entries, opts), block_cache.NewBlockCache(16))

			require.Greater(t, len(table.GetIndex().Entries), 1, "should have multiple blocks")
			require.Equal(t, 2000, table.Len())
			require.Equal(t, entries[0].Key, table.SmallestKey())
			require.Equal(t, entries[1999].Key, table.LargestKey())

			common.RequireMatchesIterator(t, table.Iterator(nil), entries)

			for _, idx := range []int{0, 1, 100, 999, 1000, 1999} {
				expected := entries[idx]
				entry, found, err := table.Get(expected.Key)
				require.NoError(t, err)
				require.True(t, found, "entry at index %d should be found", idx)
				require.True(t, common.EntriesEqual(expected, entry))
			}
		})
	}
}

func TestSSTableGetMissing(t *testing.T) {
	entries := []*common.Entry{
		{Type: common.EntryTypePut, Seq: 1, Key: []byte("apple"), Value: []byte("red")},
		{Type: common.EntryTypePut, Seq: 2, Key: []byte("banana"), Value: []byte("yellow")},
		{Type: common.EntryTypePut, Seq: 3, Key: []byte("cherry"), Value: []byte("red")},
	}
	table := openTable(t, writeTable(t, entries, DefaultWriterOptions()), nil)

	testCases := []struct {
		name string
		key  string
	}{
		{"Before first", "aaa"},
		{"Between apple and banana", "apricot"},
		{"Between banana and cherry", "blueberry"},
		{"After last", "durian"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entry, found, err := table.Get([]byte(tc.key))
			require.NoError(t, err)
			require.False(t, found, "key %s should not be found", tc.key)
			require.Nil(t, entry)
		})
	}
}

func TestSSTableFilterSkipsDiskReads(t *testing.T) {
	entries := makeEntries(500)
	opts := DefaultWriterOptions()
	opts.BlockSize = 256
	table := openTable(t, writeTable(t, entries, opts), nil)

	// Every present key is found: the filter has no false negatives.
	for _, e := range entries {
		_, found, err := table.Get(e.Key)
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, uint64(len(entries)), table.blockReads.Load())

	// Absent keys inside the table's range mostly stop at the filter.
	before := table.blockReads.Load()
	for i := 0; i < 1000; i++ {
		_, found, err := table.Get([]byte(fmt.Sprintf("key-%05d-x", i%500)))
		require.NoError(t, err)
		require.False(t, found)
	}
	require.Less(t, table.blockReads.Load()-before, uint64(100))
}

func TestSSTableBlockCache(t *testing.T) {
	cache := block_cache.NewBlockCache(64)
	table := openTable(t, writeTable(t, makeEntries(50), DefaultWriterOptions()), cache)

	for i := 0; i < 3; i++ {
		_, found, err := table.Get([]byte("key-00010"))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, uint64(1), table.blockReads.Load())
	require.Equal(t, uint64(2), cache.Stats().Hits)
}

func TestSSTableIteratorFrom(t *testing.T) {
	entries := makeEntries(300)
	opts := DefaultWriterOptions()
	opts.BlockSize = 200
	table := openTable(t, writeTable(t, entries, opts), nil)

	common.RequireMatchesIterator(t, table.Iterator([]byte("key-00150")), entries[150:])
	common.RequireMatchesIterator(t, table.Iterator([]byte("key-00150-a")), entries[151:])
	common.RequireMatchesIterator(t, table.Iterator([]byte("a")), entries)
	common.RequireMatchesIterator(t, table.Iterator([]byte("z")), nil)
}

func TestSSTableTombstone(t *testing.T) {
	entries := []*common.Entry{
		{Type: common.EntryTypePut, Seq: 1, Key: []byte("active"), Value: []byte("value")},
		{Type: common.EntryTypeDelete, Seq: 2, Key: []byte("deleted"), Value: nil},
	}
	table := openTable(t, writeTable(t, entries, DefaultWriterOptions()), nil)

	entry, found, err := table.Get([]byte("deleted"))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, entry.IsTombstone())
	require.Equal(t, uint64(2), entry.Seq)
}

func TestSSTableCorruption(t *testing.T) {
	t.Run("truncated footer", func(t *testing.T) {
		path := writeTable(t, makeEntries(10), DefaultWriterOptions())
		stat, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(path, stat.Size()-4))

		_, err = OpenSSTable(path, 1, nil)
		require.ErrorIs(t, err, common.ErrCorruption)
	})

	t.Run("tiny file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "1.sst")
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
		_, err := OpenSSTable(path, 1, nil)
		require.ErrorIs(t, err, common.ErrCorruption)
	})

	t.Run("data block", func(t *testing.T) {
		opts := DefaultWriterOptions()
		opts.Compress = false
		path := writeTable(t, makeEntries(10), opts)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[2] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0o644))

		table := openTable(t, path, nil)
		_, _, err = table.Get([]byte("key-00000"))
		require.ErrorIs(t, err, common.ErrCorruption)

		iter := table.Iterator(nil)
		_, err = iter.Next()
		require.ErrorIs(t, err, common.ErrCorruption)
		require.NoError(t, iter.Close())
	})
}

func TestSSTableRefCounting(t *testing.T) {
	path := writeTable(t, makeEntries(20), DefaultWriterOptions())
	table, err := OpenSSTable(path, 1, nil)
	require.NoError(t, err)

	// A live iterator keeps the file around after the owner lets go.
	iter := table.Iterator(nil)
	table.MarkObsolete()
	require.NoError(t, table.Unref())
	_, err = os.Stat(path)
	require.NoError(t, err)

	got := common.DrainIterator(t, iter)
	require.Len(t, got, 20)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestSSTableUnrefKeepsLiveFile(t *testing.T) {
	path := writeTable(t, makeEntries(5), DefaultWriterOptions())
	table, err := OpenSSTable(path, 1, nil)
	require.NoError(t, err)
	require.NoError(t, table.Unref())

	_, err = os.Stat(path)
	require.NoError(t, err)
}
