package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shale/internal/block_cache"
	"shale/internal/common"
	"shale/internal/compaction"
	"shale/internal/manifest"
	"shale/internal/memtable"
	"shale/internal/sstable"
	"shale/internal/wal"
)

var ErrNotFound = errors.New("key not found")

// memtableGen pairs a memtable with the WAL that holds its entries. Each
// generation is flushed to at most one L0 table, after which its WAL is
// deleted.
type memtableGen struct {
	mem   memtable.Memtable
	walNo common.FileNo
}

type DB struct {
	opts  Options
	paths *common.PathManager

	// mu guards mem, imm, flushErr and closing. cond is signalled when imm
	// shrinks, a flush fails, or Close begins.
	mu       sync.RWMutex
	cond     *sync.Cond
	mem      *memtableGen
	imm      []*memtableGen // oldest first
	flushErr error          // last flush failure, cleared by a successful flush
	closing  bool

	// Owned by the group commit loop.
	wal       *wal.WALImpl
	nextSeq   uint64
	walFailed bool

	lastSeq atomic.Uint64

	manifest  *manifest.Manifest
	compactor *compaction.Compactor

	writeChan chan *writeRequest
	writeDone chan struct{}
	flushCh   chan struct{}
	compactCh chan struct{}

	flushMu   sync.Mutex
	compactMu sync.Mutex

	closeMu sync.RWMutex
	closed  atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func Open(optFns ...Option) (*DB, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		common.SetLogger(opts.Logger)
	}

	paths := common.NewPathManager(opts.Dir)
	if err := os.MkdirAll(paths.WALDir(), 0o755); err != nil {
		return nil, common.IoFailure("db open", err)
	}

	cache := block_cache.NewBlockCache(opts.BlockCacheCapacity)
	m, err := manifest.Open(paths, opts.NumLevels, cache)
	if err != nil {
		return nil, err
	}

	d := &DB{
		opts:      opts,
		paths:     paths,
		manifest:  m,
		compactor: compaction.NewCompactor(m, opts.compactionOptions()),
		writeChan: make(chan *writeRequest, 100),
		writeDone: make(chan struct{}),
		flushCh:   make(chan struct{}, 1),
		compactCh: make(chan struct{}, 1),
	}
	d.cond = sync.NewCond(&d.mu)

	if err := d.recover(); err != nil {
		return nil, multierror.Append(err, m.Close()).ErrorOrNil()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.group, ctx = errgroup.WithContext(ctx)
	d.group.Go(func() error { return d.flushLoop(ctx) })
	d.group.Go(func() error { return d.compactionLoop(ctx) })
	go d.groupCommitLoop()

	// Recovery may have left L0 over its trigger.
	d.signal(d.compactCh)
	return d, nil
}

// recover replays every WAL not yet covered by a table, writes the result
// to a single L0 table, and starts a fresh WAL.
func (d *DB) recover() error {
	start := time.Now()
	v := d.manifest.Current()

	walNos, err := common.ListFileNos(d.paths.WALDir(), common.WAL_EXT)
	if err != nil {
		return common.IoFailure("db recover", err)
	}
	sort.Slice(walNos, func(i, j int) bool { return walNos[i] < walNos[j] })

	mem := memtable.NewMemtable()
	var (
		replayed []common.FileNo
		entries  int
		maxSeq   uint64
	)
	for _, n := range walNos {
		d.manifest.ReserveWALNumber(n)
		path := d.paths.WALPath(n)
		if n < v.LogNumber {
			if err := os.Remove(path); err != nil {
				common.Logf("remove stale wal %s: %v", path, err)
			}
			continue
		}
		res, err := wal.Recover(context.Background(), path, func(e *common.Entry) error {
			if e.Type == common.EntryTypeDelete {
				return mem.Delete(e.Key, e.Seq)
			}
			return mem.Put(e.Key, e.Value, e.Seq)
		})
		if err != nil {
			return err
		}
		if res.Truncated {
			common.Logger().Warn("wal tail truncated",
				zap.Uint64("file_no", uint64(n)), zap.Int64("valid_bytes", res.ValidSize))
		}
		entries += res.Entries
		if res.MaxSeq > maxSeq {
			maxSeq = res.MaxSeq
		}
		replayed = append(replayed, n)
	}

	walNo := d.manifest.NewWALNumber()
	log, err := d.createWAL(walNo)
	if err != nil {
		return err
	}

	var edit manifest.Edit
	edit.SetLogNumber(walNo)
	edit.SetCurrentWAL(walNo)
	var tablePath string
	if mem.Len() > 0 {
		mem.Freeze()
		fm, path, err := d.writeLevel0(mem)
		if err != nil {
			return multierror.Append(err, log.Close()).ErrorOrNil()
		}
		tablePath = path
		edit.AddTable(0, fm)
		edit.LastSequence = mem.MaxSeq()
	}
	if err := d.manifest.LogAndApply(&edit); err != nil {
		if tablePath != "" {
			os.Remove(tablePath)
		}
		return multierror.Append(err, log.Close()).ErrorOrNil()
	}
	for _, n := range replayed {
		if err := os.Remove(d.paths.WALPath(n)); err != nil {
			common.Logf("remove replayed wal %d: %v", n, err)
		}
	}

	d.wal = log
	d.mem = &memtableGen{mem: memtable.NewMemtable(), walNo: walNo}
	d.nextSeq = d.manifest.Current().LastSequence
	if maxSeq > d.nextSeq {
		d.nextSeq = maxSeq
	}
	d.lastSeq.Store(d.nextSeq)

	if len(replayed) > 0 {
		common.Logger().Info("recovered from wal",
			zap.Int("wals", len(replayed)),
			zap.Int("entries", entries),
			zap.Uint64("last_seq", d.nextSeq),
			zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}

func (d *DB) createWAL(walNo common.FileNo) (*wal.WALImpl, error) {
	log, err := wal.CreateWAL(d.paths.WALPath(walNo))
	if err != nil {
		return nil, err
	}
	if err := common.SyncDir(d.paths.WALDir()); err != nil {
		log.Close()
		os.Remove(log.Path())
		return nil, common.IoFailure("wal create", err)
	}
	return log, nil
}

// writeLevel0 writes a frozen memtable to a new L0 table file.
func (d *DB) writeLevel0(mem memtable.Memtable) (manifest.FileMetadata, string, error) {
	fileNo := d.manifest.NewSSTableNumber()
	path := d.paths.SSTablePath(0, fileNo)
	res, err := sstable.WriteFile(path, mem.Iterator(), d.opts.writerOptions())
	if err != nil {
		return manifest.FileMetadata{}, "", err
	}
	if err := common.SyncDir(d.paths.LevelDir(0)); err != nil {
		os.Remove(path)
		return manifest.FileMetadata{}, "", common.IoFailure("flush", err)
	}
	return manifest.FileMetadata{
		FileNo:      fileNo,
		Size:        int64(res.BytesWritten),
		EntryCount:  res.EntryCount,
		SmallestKey: res.SmallestKey,
		LargestKey:  res.LargestKey,
	}, path, nil
}

func (d *DB) Put(key, value []byte) error {
	if err := validateWrite(key, value); err != nil {
		return err
	}
	return d.write(&common.Entry{
		Type:  common.EntryTypePut,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
		// Seq assigned by group commit loop
	})
}

func (d *DB) Delete(key []byte) error {
	if err := validateWrite(key, nil); err != nil {
		return err
	}
	return d.write(&common.Entry{
		Type: common.EntryTypeDelete,
		Key:  bytes.Clone(key),
	})
}

func validateWrite(key, value []byte) error {
	if len(key) == 0 {
		return common.InvalidArgument("write", "key must be non-empty")
	}
	if len(key) > common.MAX_KEY_SIZE {
		return common.InvalidArgument("write", "key of %d bytes exceeds limit %d", len(key), common.MAX_KEY_SIZE)
	}
	if len(key)+len(value)+common.ENTRY_HEADER_SIZE+8 > wal.MAX_RECORD_SIZE {
		return common.InvalidArgument("write", "entry of %d bytes exceeds record limit", len(key)+len(value))
	}
	return nil
}

func (d *DB) write(entry *common.Entry) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed.Load() {
		return common.ErrClosed
	}
	return d.submit(&writeRequest{entry: entry})
}

// submit hands a request to the group commit loop and waits for its result.
// The caller holds closeMu for reading.
func (d *DB) submit(req *writeRequest) error {
	req.resultCh = make(chan error, 1)
	d.writeChan <- req
	return <-req.resultCh
}

// Get returns the newest value for key, or ErrNotFound if it is absent or
// deleted.
func (d *DB) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, common.InvalidArgument("get", "key must be non-empty")
	}
	if d.closed.Load() {
		return nil, common.ErrClosed
	}

	d.mu.RLock()
	mem := d.mem.mem
	imm := append([]*memtableGen(nil), d.imm...)
	snap, err := d.manifest.Acquire()
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	if entry, ok := mem.Get(key); ok {
		return resolve(entry)
	}
	for i := len(imm) - 1; i >= 0; i-- {
		if entry, ok := imm[i].mem.Get(key); ok {
			return resolve(entry)
		}
	}

	entry, table, err := searchTables(snap, key)
	if err != nil {
		if errors.Is(err, common.ErrCorruption) && table != nil {
			if qerr := d.manifest.Quarantine(table.FileNo()); qerr != nil {
				common.Logger().Error("quarantine failed",
					zap.Uint64("file_no", uint64(table.FileNo())), zap.Error(qerr))
			}
		}
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return resolve(entry)
}

func resolve(entry *common.Entry) ([]byte, error) {
	if entry.IsTombstone() {
		return nil, ErrNotFound
	}
	return bytes.Clone(entry.Value), nil
}

// searchTables walks L0 newest first, then one candidate table per deeper
// level. On error the failing table is returned alongside it.
func searchTables(snap *manifest.Snapshot, key []byte) (*common.Entry, sstable.SSTable, error) {
	for level, tables := range snap.Levels {
		if level == 0 {
			for _, table := range tables {
				entry, ok, err := table.Get(key)
				if err != nil {
					return nil, table, err
				}
				if ok {
					return entry, table, nil
				}
			}
			continue
		}

		i := sort.Search(len(tables), func(i int) bool {
			return bytes.Compare(tables[i].LargestKey(), key) >= 0
		})
		if i == len(tables) || bytes.Compare(tables[i].SmallestKey(), key) > 0 {
			continue
		}
		entry, ok, err := tables[i].Get(key)
		if err != nil {
			return nil, tables[i], err
		}
		if ok {
			return entry, tables[i], nil
		}
	}
	return nil, nil, nil
}

// Flush freezes the active memtable and waits until every frozen memtable
// is written to L0.
func (d *DB) Flush() error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed.Load() {
		return common.ErrClosed
	}
	if err := d.submit(&writeRequest{flush: true}); err != nil {
		return err
	}
	return d.flushPending()
}

// Compact runs compactions until no level is over its trigger.
func (d *DB) Compact() error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed.Load() {
		return common.ErrClosed
	}
	d.compactMu.Lock()
	defer d.compactMu.Unlock()
	return d.compactor.CompactAll()
}

func (d *DB) Manifest() *manifest.Manifest {
	return d.manifest
}

func (d *DB) Paths() *common.PathManager {
	return d.paths
}

func (d *DB) Options() Options {
	return d.opts
}

func (d *DB) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Close stops the write loop and background workers, then releases the WAL
// and every table. Unflushed memtables are recovered from the WAL on the
// next Open.
func (d *DB) Close() error {
	// Release a write stalled on the flush queue so closeMu can be taken.
	d.mu.Lock()
	d.closing = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.closeMu.Lock()
	if d.closed.Swap(true) {
		d.closeMu.Unlock()
		return nil
	}
	close(d.writeChan)
	d.closeMu.Unlock()
	<-d.writeDone

	d.cancel()
	var result *multierror.Error
	if err := d.group.Wait(); err != nil {
		result = multierror.Append(result, err)
	}

	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	d.compactMu.Lock()
	defer d.compactMu.Unlock()

	if err := d.wal.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.manifest.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
