package manifest

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"shale/internal/block_cache"
	"shale/internal/common"
	"shale/internal/sstable"
)

func openManifest(t *testing.T, dir string) *Manifest {
	t.Helper()
	m, err := Open(common.NewPathManager(dir), 4, block_cache.NewBlockCache(16))
	require.NoError(t, err)
	return m
}

// writeTable writes a small table for keys [from, to) and returns its metadata.
func writeTable(t *testing.T, m *Manifest, level int, from, to int) FileMetadata {
	t.Helper()
	fileNo := m.NewSSTableNumber()
	var entries []*common.Entry
	for i := from; i < to; i++ {
		entries = append(entries, &common.Entry{
			Type:  common.EntryTypePut,
			Seq:   uint64(i + 1),
			Key:   []byte(fmt.Sprintf("key-%04d", i)),
			Value: []byte("v"),
		})
	}
	res, err := sstable.WriteFile(m.Paths().SSTablePath(level, fileNo), common.NewSliceIterator(entries), sstable.DefaultWriterOptions())
	require.NoError(t, err)
	return FileMetadata{
		FileNo:      fileNo,
		Size:        int64(res.BytesWritten),
		EntryCount:  res.EntryCount,
		SmallestKey: res.SmallestKey,
		LargestKey:  res.LargestKey,
	}
}

func TestOpenFreshManifest(t *testing.T) {
	dir := t.TempDir()
	m := openManifest(t, dir)
	defer m.Close()

	v := m.Current()
	require.NotEmpty(t, v.DBID)
	require.Equal(t, 4, v.NumLevels())

	_, err := os.Stat(m.Paths().ManifestPath())
	require.NoError(t, err)
}

func TestLogAndApplyPersists(t *testing.T) {
	dir := t.TempDir()
	m := openManifest(t, dir)

	fm := writeTable(t, m, 0, 0, 10)
	var edit Edit
	edit.AddTable(0, fm)
	edit.SetLogNumber(2)
	edit.LastSequence = 10
	require.NoError(t, m.LogAndApply(&edit))
	dbID := m.Current().DBID
	require.NoError(t, m.Close())

	m = openManifest(t, dir)
	defer m.Close()
	v := m.Current()
	require.Equal(t, dbID, v.DBID)
	require.Equal(t, []common.FileNo{fm.FileNo}, fileNos(v.Levels[0]))
	require.Equal(t, common.FileNo(2), v.LogNumber)
	require.Equal(t, uint64(10), v.LastSequence)
	require.Greater(t, v.NextSSTableNumber, fm.FileNo)

	snap, err := m.Acquire()
	require.NoError(t, err)
	defer snap.Release()
	entry, found, err := snap.Levels[0][0].Get([]byte("key-0003"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(4), entry.Seq)
}

func TestLogAndApplyFailureLeavesVersion(t *testing.T) {
	m := openManifest(t, t.TempDir())
	defer m.Close()

	before := m.Current()
	var edit Edit
	edit.AddTable(0, FileMetadata{FileNo: 77, SmallestKey: []byte("a"), LargestKey: []byte("b")})
	require.Error(t, m.LogAndApply(&edit))
	require.Same(t, before, m.Current())
}

func TestSnapshotOrdersL0NewestFirst(t *testing.T) {
	m := openManifest(t, t.TempDir())
	defer m.Close()

	var ids []common.FileNo
	for i := 0; i < 3; i++ {
		fm := writeTable(t, m, 0, i*10, i*10+10)
		var edit Edit
		edit.AddTable(0, fm)
		require.NoError(t, m.LogAndApply(&edit))
		ids = append(ids, fm.FileNo)
	}

	snap, err := m.Acquire()
	require.NoError(t, err)
	defer snap.Release()
	require.Len(t, snap.Levels[0], 3)
	require.Equal(t, ids[2], snap.Levels[0][0].FileNo())
	require.Equal(t, ids[0], snap.Levels[0][2].FileNo())
	require.NotNil(t, snap.Table(ids[1]))
}

func TestRemovedTableDeletedAfterRelease(t *testing.T) {
	m := openManifest(t, t.TempDir())
	defer m.Close()

	old := writeTable(t, m, 0, 0, 10)
	var edit Edit
	edit.AddTable(0, old)
	require.NoError(t, m.LogAndApply(&edit))

	snap, err := m.Acquire()
	require.NoError(t, err)

	replacement := writeTable(t, m, 1, 0, 10)
	var swap Edit
	swap.DeleteTable(0, old.FileNo)
	swap.AddTable(1, replacement)
	require.NoError(t, m.LogAndApply(&swap))

	oldPath := m.Paths().SSTablePath(0, old.FileNo)
	_, err = os.Stat(oldPath)
	require.NoError(t, err, "a pinned table must survive until released")

	_, found, err := snap.Levels[0][0].Get([]byte("key-0001"))
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, snap.Release())
	_, err = os.Stat(oldPath)
	require.True(t, os.IsNotExist(err))
}

func TestOpenRemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	m := openManifest(t, dir)
	orphan := writeTable(t, m, 2, 0, 5)
	require.NoError(t, m.Close())

	orphanPath := common.NewPathManager(dir).SSTablePath(2, orphan.FileNo)
	_, err := os.Stat(orphanPath)
	require.NoError(t, err)

	m = openManifest(t, dir)
	defer m.Close()
	_, err = os.Stat(orphanPath)
	require.True(t, os.IsNotExist(err))
}

func TestOpenQuarantinesCorruptTable(t *testing.T) {
	dir := t.TempDir()
	m := openManifest(t, dir)
	good := writeTable(t, m, 1, 0, 10)
	bad := writeTable(t, m, 1, 10, 20)
	var edit Edit
	edit.AddTable(1, good)
	edit.AddTable(1, bad)
	require.NoError(t, m.LogAndApply(&edit))
	require.NoError(t, m.Close())

	badPath := common.NewPathManager(dir).SSTablePath(1, bad.FileNo)
	require.NoError(t, os.Truncate(badPath, 10))

	m = openManifest(t, dir)
	defer m.Close()
	require.Equal(t, []common.FileNo{good.FileNo}, fileNos(m.Current().Levels[1]))
	_, err := os.Stat(badPath + CORRUPT_EXT)
	require.NoError(t, err)
}

func TestQuarantine(t *testing.T) {
	m := openManifest(t, t.TempDir())
	defer m.Close()

	fm := writeTable(t, m, 0, 0, 10)
	var edit Edit
	edit.AddTable(0, fm)
	require.NoError(t, m.LogAndApply(&edit))

	require.NoError(t, m.Quarantine(fm.FileNo))
	require.Empty(t, m.Current().Levels[0])
	_, err := os.Stat(m.Paths().SSTablePath(0, fm.FileNo) + CORRUPT_EXT)
	require.NoError(t, err)

	// Unknown tables are ignored.
	require.NoError(t, m.Quarantine(999))
}

func TestAcquireAfterClose(t *testing.T) {
	m := openManifest(t, t.TempDir())
	require.NoError(t, m.Close())
	_, err := m.Acquire()
	require.ErrorIs(t, err, common.ErrClosed)
	require.ErrorIs(t, m.LogAndApply(&Edit{}), common.ErrClosed)
}
