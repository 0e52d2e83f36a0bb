package wal_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"shale/internal/common"
	"shale/internal/wal"

	"github.com/stretchr/testify/require"
)

func TestAppendAndIterate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.log")

	log, err := wal.CreateWAL(path)
	require.NoError(t, err)
	defer log.Close()

	batch := []*common.Entry{
		{Type: common.EntryTypePut, Seq: 1, Key: []byte("a"), Value: []byte("A")},
		{Type: common.EntryTypeDelete, Seq: 2, Key: []byte("b")},
	}
	require.NoError(t, log.Append(context.Background(), batch))

	iter, err := log.Iterator(context.Background())
	require.NoError(t, err)
	common.RequireMatchesIterator(t, iter, batch)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.log")

	log, err := wal.OpenWAL(path)
	require.NoError(t, err)

	batch1 := []*common.Entry{{Type: common.EntryTypePut, Seq: 10, Key: []byte("k1"), Value: []byte("v1")}}
	require.NoError(t, log.Append(context.Background(), batch1))
	require.NoError(t, log.Close())

	log, err = wal.OpenWAL(path)
	require.NoError(t, err)
	defer log.Close()
	require.Greater(t, log.Size(), int64(0))

	batch2 := []*common.Entry{{Type: common.EntryTypePut, Seq: 11, Key: []byte("k2"), Value: []byte("v2")}}
	require.NoError(t, log.Append(context.Background(), batch2))

	iter, err := log.Iterator(context.Background())
	require.NoError(t, err)
	common.RequireMatchesIterator(t, iter, append(batch1, batch2...))
}

func TestBulkAppendBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.log")

	log, err := wal.CreateWAL(path)
	require.NoError(t, err)
	defer log.Close()

	const (
		batches  = 4
		perBatch = 128
	)

	expected := make([]*common.Entry, 0, batches*perBatch)
	seq := uint64(1)
	for batch := 0; batch < batches; batch++ {
		current := make([]*common.Entry, 0, perBatch)
		for i := 0; i < perBatch; i++ {
			entry := &common.Entry{
				Type:  common.EntryTypePut,
				Seq:   seq,
				Key:   []byte(fmt.Sprintf("b%02d-key-%03d", batch, i)),
				Value: []byte(fmt.Sprintf("payload-%02d-%03d", batch, i)),
			}
			seq++
			current = append(current, entry)
			expected = append(expected, entry)
		}
		require.NoError(t, log.Append(context.Background(), current))
	}

	iter, err := log.Iterator(context.Background())
	require.NoError(t, err)
	common.RequireMatchesIterator(t, iter, expected)
}

func TestAppendContextCancellation(t *testing.T) {
	log, err := wal.CreateWAL(filepath.Join(t.TempDir(), "1.log"))
	require.NoError(t, err)
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = log.Append(ctx, []*common.Entry{{Type: common.EntryTypePut, Seq: 1, Key: []byte("k"), Value: []byte("v")}})
	require.Error(t, err)
	require.Equal(t, int64(0), log.Size())
}

func TestAppendAfterClose(t *testing.T) {
	log, err := wal.CreateWAL(filepath.Join(t.TempDir(), "1.log"))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	err = log.Append(context.Background(), []*common.Entry{{Type: common.EntryTypePut, Seq: 1, Key: []byte("k")}})
	require.ErrorIs(t, err, common.ErrClosed)
}

func writeEntries(t *testing.T, path string, n int) []*common.Entry {
	t.Helper()
	log, err := wal.CreateWAL(path)
	require.NoError(t, err)
	defer log.Close()

	var entries []*common.Entry
	for i := 0; i < n; i++ {
		e := &common.Entry{
			Type:  common.EntryTypePut,
			Seq:   uint64(i + 1),
			Key:   []byte(fmt.Sprintf("key-%03d", i)),
			Value: []byte(fmt.Sprintf("value-%03d", i)),
		}
		require.NoError(t, log.Append(context.Background(), []*common.Entry{e}))
		entries = append(entries, e)
	}
	return entries
}

func TestRecoverTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.log")
	entries := writeEntries(t, path, 5)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	fullSize := stat.Size()

	// Simulate a crash partway through the last record.
	require.NoError(t, os.Truncate(path, fullSize-3))

	var got []*common.Entry
	res, err := wal.Recover(context.Background(), path, func(e *common.Entry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Equal(t, 4, res.Entries)
	require.Equal(t, uint64(4), res.MaxSeq)
	for i := range got {
		require.True(t, common.EntriesEqual(entries[i], got[i]))
	}

	stat, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, res.ValidSize, stat.Size())

	// Appending after recovery continues from the clean boundary.
	log, err := wal.OpenWAL(path)
	require.NoError(t, err)
	extra := &common.Entry{Type: common.EntryTypePut, Seq: 5, Key: []byte("again"), Value: []byte("v")}
	require.NoError(t, log.Append(context.Background(), []*common.Entry{extra}))
	require.NoError(t, log.Close())

	iter, err := wal.NewFileIterator(context.Background(), path)
	require.NoError(t, err)
	common.RequireMatchesIterator(t, iter, append(entries[:4:4], extra))
}

func TestRecoverChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.log")
	writeEntries(t, path, 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte in the payload of the last record.
	data[len(data)-2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	res, err := wal.Recover(context.Background(), path, func(*common.Entry) error { return nil })
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Equal(t, 2, res.Entries)
}

func TestRecoverCleanLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.log")
	writeEntries(t, path, 3)

	res, err := wal.Recover(context.Background(), path, func(*common.Entry) error { return nil })
	require.NoError(t, err)
	require.False(t, res.Truncated)
	require.Equal(t, 3, res.Entries)
	require.Equal(t, uint64(3), res.MaxSeq)
}
