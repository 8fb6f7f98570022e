// Package atomkv is an embedded, single-process, transactional
// key-value store: a copy-on-write B+tree of nested buckets, persisted
// to a memory-mapped page file with a write-ahead log for durability
// and multi-version snapshot isolation between one writer and any
// number of concurrent readers.
package atomkv

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/atomkv/internal/logger"
	"github.com/nainya/atomkv/internal/metrics"
	"github.com/nainya/atomkv/pkg/bucket"
	"github.com/nainya/atomkv/pkg/freelist"
	"github.com/nainya/atomkv/pkg/page"
	"github.com/nainya/atomkv/pkg/pager"
	"github.com/nainya/atomkv/pkg/txn"
	"github.com/nainya/atomkv/pkg/wal"
)

// DB is an open database file plus its write-ahead log, page cache,
// free list, and transaction registry. The zero value is not usable;
// construct one with Open.
type DB struct {
	opts Options
	path string

	pager *pager.Pager
	free  *freelist.List
	txMgr *txn.Manager
	wal   *wal.WAL

	metaMu sync.Mutex
	meta   page.Meta

	log       *logger.Logger
	metrics   *metrics.Metrics
	sessionID string

	closedMu sync.Mutex
	closed   bool
}

// Open opens or creates the database file at path (and its companion
// write-ahead log at path+"-wal"), replaying any committed
// transactions left behind by an unclean shutdown before returning.
func Open(opts Options, path string) (*DB, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	if opts.FailIfExists {
		if st, statErr := os.Stat(path); statErr == nil && st.Size() > 0 {
			return nil, ErrAlreadyExists
		}
	}

	if opts.ReadOnly {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("atomkv: open: %w", statErr)
		}
	}

	pgr, err := pager.Open(path, opts.PageSize, opts.CachePoolPageCount)
	if err != nil {
		return nil, fmt.Errorf("atomkv: open pager: %w", err)
	}

	meta, free, err := loadMetaAndFreeList(pgr, opts)
	if err != nil {
		pgr.Close()
		return nil, err
	}

	sessionID := uuid.NewString()
	db := &DB{
		opts:      opts,
		path:      path,
		pager:     pgr,
		free:      free,
		txMgr:     txn.NewManager(),
		meta:      meta,
		log:       logger.GetGlobalLogger().WithSession(sessionID),
		metrics:   metrics.NewMetrics(),
		sessionID: sessionID,
	}
	pgr.SetMmapLocker(db.txMgr)

	w := &wal.WAL{Path: path + "-wal"}
	if err := w.Open(); err != nil {
		pgr.Close()
		return nil, fmt.Errorf("atomkv: open wal: %w", err)
	}
	db.wal = w

	if err := db.recover(); err != nil {
		w.Close()
		pgr.Close()
		return nil, err
	}

	db.log.LogOpen(path, uint64(db.meta.TxId))
	return db, nil
}

// loadMetaAndFreeList picks the active meta page (or synthesizes an
// empty one for a brand new file) and deserializes the free list it
// points to.
func loadMetaAndFreeList(pgr *pager.Pager, opts Options) (page.Meta, *freelist.List, error) {
	if pgr.Flushed() == 2 {
		meta := page.Meta{
			PageSize:     uint32(opts.PageSize),
			MinVersion:   1,
			PageCount:    2,
			UserRoot:     page.InvalidId,
			FreeListPgid: page.InvalidId,
			TxId:         0,
		}
		return meta, freelist.New(), nil
	}

	buf0, err0 := pgr.ReadMetaAt(0)
	m0, decErr0 := decodeMetaIfRead(buf0, err0)
	buf1, err1 := pgr.ReadMetaAt(1)
	m1, decErr1 := decodeMetaIfRead(buf1, err1)

	meta, err := page.PickNewest(m0, decErr0, m1, decErr1)
	if err != nil {
		return page.Meta{}, nil, ErrCorruptMeta
	}
	if int(meta.PageSize) != opts.PageSize {
		return page.Meta{}, nil, fmt.Errorf("%w: file page size %d, opened with %d",
			ErrInvalidOptions, meta.PageSize, opts.PageSize)
	}

	free := freelist.New()
	if meta.FreeListPgid != page.InvalidId && meta.FreeListPageCount > 0 {
		var buf []byte
		for i := uint32(0); i < meta.FreeListPageCount; i++ {
			buf = append(buf, pgr.Get(meta.FreeListPgid+page.Id(i))...)
		}
		need := int(meta.FreePairCount) * freelist.PairSize
		if need > len(buf) {
			need = len(buf)
		}
		free.Deserialize(buf[:need])
	}
	return meta, free, nil
}

func decodeMetaIfRead(buf []byte, readErr error) (page.Meta, error) {
	if readErr != nil {
		return page.Meta{}, readErr
	}
	return page.DecodeMeta(buf)
}

// Close waits for no further operation to be possible against db and
// releases the underlying file descriptors. It does not wait for
// in-flight transactions to finish; the caller must ensure none are
// outstanding.
func (db *DB) Close() error {
	db.closedMu.Lock()
	if db.closed {
		db.closedMu.Unlock()
		return nil
	}
	db.closed = true
	db.closedMu.Unlock()

	walErr := db.wal.Close()
	pagerErr := db.pager.Close()
	if walErr != nil {
		return walErr
	}
	return pagerErr
}

func (db *DB) isClosed() bool {
	db.closedMu.Lock()
	defer db.closedMu.Unlock()
	return db.closed
}

// bucketDeps builds the page-level callbacks a bucket.Bucket needs,
// stamping every node it writes with txid and routing allocation
// through the free list before growing the file.
func (db *DB) bucketDeps(txid, minLiveReader page.TxId) bucket.Deps {
	return bucket.Deps{
		PageSize: db.pager.PageSize(),
		Get: func(id page.Id) page.Node {
			return page.Node(db.pager.Get(id))
		},
		New: func(n page.Node) page.Id {
			id := db.allocPage([]byte(n), minLiveReader)
			db.metrics.PagesAllocatedTotal.Inc()
			return id
		},
		Del: func(id page.Id) {
			db.free.Release(txid, id, 1)
			db.metrics.PagesFreedTotal.Inc()
		},
		Cmp:  db.opts.Comparator,
		TxId: func() page.TxId { return txid },
		FreeChain: func(head page.Id) {
			page.FreeChain(head,
				func(id page.Id) []byte { return db.pager.Get(id) },
				func(id page.Id) {
					db.free.Release(txid, id, 1)
					db.metrics.PagesFreedTotal.Inc()
				})
		},
	}
}

// allocPage prefers reusing a free-list run whose releasing
// transaction is invisible to every live reader; only once nothing
// qualifies does it grow the file via the pager.
func (db *DB) allocPage(buf []byte, minLiveReader page.TxId) page.Id {
	if id, ok := db.free.Alloc(1, minLiveReader); ok {
		db.pager.Write(id, buf)
		return id
	}
	return db.pager.Alloc(buf)
}

// writeFreeListPages allocates count fresh pages (bypassing free-list
// reuse, so the list never has to reason about reusing the very pages
// it is being serialized into) and copies data across them.
func (db *DB) writeFreeListPages(data []byte, count uint32) page.Id {
	pageSize := db.pager.PageSize()
	head := page.InvalidId
	for i := uint32(0); i < count; i++ {
		buf := db.pager.NewPage()
		start := int(i) * pageSize
		end := start + pageSize
		if end > len(data) {
			end = len(data)
		}
		if start < len(data) {
			copy(buf, data[start:end])
		}
		id := db.pager.Alloc(buf)
		if i == 0 {
			head = id
		}
	}
	return head
}

// commitMeta durably applies a transaction's new root, following
// spec.md §4.6 step 5 verbatim: flush pages, append and fsync the WAL
// Commit marker, then update and fsync meta, then append the WAL
// Persisted marker. Meta must never become durable before the Commit
// marker exists in the log, or the crash window between the two can
// never produce a transaction recovery has to replay. Shared by
// UpdateTx.Commit and the internal commit that follows WAL recovery.
func (db *DB) commitMeta(txid page.TxId, newRoot page.Id) error {
	if err := db.pager.Flush(); err != nil {
		return fmt.Errorf("atomkv: flush pages: %w", err)
	}
	if err := db.pager.Fsync(); err != nil {
		return fmt.Errorf("atomkv: fsync pages: %w", err)
	}

	// The free list's own previous pages are only reachable through
	// the meta we are about to replace; release them into itself
	// before serializing so a future commit can reclaim them.
	if db.meta.FreeListPgid != page.InvalidId && db.meta.FreeListPageCount > 0 {
		db.free.Release(txid, db.meta.FreeListPgid, db.meta.FreeListPageCount)
	}

	flPgid := page.InvalidId
	flCount := uint32(0)
	if data := db.free.Serialize(); len(data) > 0 {
		flCount = db.free.PagesNeeded(db.pager.PageSize())
		flPgid = db.writeFreeListPages(data, flCount)
		if err := db.pager.Flush(); err != nil {
			return fmt.Errorf("atomkv: flush free list: %w", err)
		}
		if err := db.pager.Fsync(); err != nil {
			return fmt.Errorf("atomkv: fsync free list: %w", err)
		}
	}

	newMeta := page.Meta{
		PageSize:          uint32(db.pager.PageSize()),
		MinVersion:        db.meta.MinVersion,
		PageCount:         db.pager.Flushed(),
		UserRoot:          newRoot,
		FreeListPgid:      flPgid,
		FreePairCount:     db.free.PairCount(),
		FreeListPageCount: flCount,
		TxId:              txid,
	}

	commitLSN := db.wal.NextLSN()
	if err := db.wal.Write(wal.Entry{LSN: commitLSN, TxnID: uint64(txid), OpType: wal.OpCommit, Timestamp: time.Now()}); err != nil {
		return fmt.Errorf("atomkv: write commit marker: %w", err)
	}
	if err := db.wal.Fsync(); err != nil {
		return fmt.Errorf("atomkv: fsync commit marker: %w", err)
	}

	if err := db.pager.WriteMetaAt(page.Slot2(txid), newMeta.Encode()); err != nil {
		return fmt.Errorf("atomkv: write meta: %w", err)
	}
	if err := db.pager.Fsync(); err != nil {
		return fmt.Errorf("atomkv: fsync meta: %w", err)
	}

	persistLSN := db.wal.NextLSN()
	if err := db.wal.Write(wal.Entry{LSN: persistLSN, TxnID: uint64(txid), OpType: wal.OpPersisted, Timestamp: time.Now()}); err != nil {
		return fmt.Errorf("atomkv: write persisted marker: %w", err)
	}
	if err := db.wal.Fsync(); err != nil {
		return fmt.Errorf("atomkv: fsync persisted marker: %w", err)
	}

	db.metaMu.Lock()
	db.meta = newMeta
	db.metaMu.Unlock()
	return nil
}

// rollbackLocked discards a write transaction's staged pages and
// free-list releases, and logs the abandonment. Caller must hold the
// writer lock and release it afterward via txMgr.EndWrite.
func (db *DB) rollbackLocked(txid page.TxId, freeSnapshot []freelist.Pair, reason error) {
	db.pager.Discard()
	db.free.Restore(freeSnapshot)

	lsn := db.wal.NextLSN()
	db.wal.Write(wal.Entry{LSN: lsn, TxnID: uint64(txid), OpType: wal.OpRollback, Timestamp: time.Now()})
	db.wal.Fsync()

	db.metrics.RollbacksTotal.Inc()
	db.log.LogTxRollback(uint64(txid), reason)
}

// Stats mirrors the fields of internal/metrics that are useful to an
// embedding host program without pulling in a Prometheus scrape path.
type Stats struct {
	PageCount     uint64
	FreePageCount uint64
	ActiveReaders int
	TxId          uint64
}

// Stats reports a point-in-time snapshot of the database's size and
// activity.
func (db *DB) Stats() Stats {
	db.metaMu.Lock()
	meta := db.meta
	db.metaMu.Unlock()
	return Stats{
		PageCount:     meta.PageCount,
		FreePageCount: db.free.Count(),
		ActiveReaders: db.txMgr.ActiveReaders(),
		TxId:          uint64(meta.TxId),
	}
}
