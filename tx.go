package atomkv

import (
	"time"

	"github.com/nainya/atomkv/pkg/bucket"
	"github.com/nainya/atomkv/pkg/freelist"
	"github.com/nainya/atomkv/pkg/page"
	"github.com/nainya/atomkv/pkg/txn"
	"github.com/nainya/atomkv/pkg/wal"
)

// Update starts a write transaction. Only one may be open at a time;
// a second call blocks until the first commits or rolls back.
func (db *DB) Update() (*UpdateTx, error) {
	if db.isClosed() {
		return nil, ErrTxClosed
	}
	if db.opts.ReadOnly {
		return nil, ErrTxReadOnly
	}

	db.txMgr.BeginWrite()
	db.metrics.WriterHeld.Set(1)

	db.metaMu.Lock()
	meta := db.meta
	db.metaMu.Unlock()

	txid := meta.TxId + 1
	minLive := db.txMgr.MinLiveReader(txid)
	freeSnapshot := db.free.Snapshot()

	lsn := db.wal.NextLSN()
	if err := db.wal.Write(wal.Entry{LSN: lsn, TxnID: uint64(txid), OpType: wal.OpBegin, Timestamp: time.Now()}); err != nil {
		db.txMgr.EndWrite()
		db.metrics.WriterHeld.Set(0)
		return nil, err
	}

	deps := db.bucketDeps(txid, minLive)
	root := bucket.New(deps, meta.UserRoot)

	return &UpdateTx{
		db:           db,
		txid:         txid,
		root:         root,
		freeSnapshot: freeSnapshot,
		start:        time.Now(),
	}, nil
}

// UpdateTx is a single in-flight write transaction. It must end with
// exactly one call to Commit or RollBack.
type UpdateTx struct {
	db           *DB
	txid         page.TxId
	root         *bucket.Bucket
	freeSnapshot []freelist.Pair
	start        time.Time
	done         bool
}

// UserBucket returns the top-level bucket for this transaction.
func (tx *UpdateTx) UserBucket() *UpdateBucket {
	return &UpdateBucket{tx: tx, b: tx.root}
}

// Commit durably applies every mutation made through this transaction
// and releases the writer lock. On failure the transaction is rolled
// back instead, matching the tainted-transaction rule in spec §7.
func (tx *UpdateTx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true

	newRoot := tx.root.Flush()
	if err := tx.db.commitMeta(tx.txid, newRoot); err != nil {
		tx.db.rollbackLocked(tx.txid, tx.freeSnapshot, err)
		tx.db.txMgr.EndWrite()
		tx.db.metrics.WriterHeld.Set(0)
		return err
	}

	tx.db.txMgr.EndWrite()
	tx.db.metrics.WriterHeld.Set(0)
	tx.db.metrics.CommitsTotal.Inc()
	tx.db.log.LogTxCommit(uint64(tx.txid), time.Since(tx.start))
	return nil
}

// RollBack discards every mutation made through this transaction and
// releases the writer lock.
func (tx *UpdateTx) RollBack() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true

	tx.db.rollbackLocked(tx.txid, tx.freeSnapshot, nil)
	tx.db.txMgr.EndWrite()
	tx.db.metrics.WriterHeld.Set(0)
	return nil
}

// UpdateBucket is a bucket opened within a write transaction. path
// holds the bucket-name segments from the user root down to (but not
// including) this bucket, used to address its mutations in the WAL.
type UpdateBucket struct {
	tx   *UpdateTx
	b    *bucket.Bucket
	path [][]byte
}

// Get returns the value at key, or false if absent or if key names a
// sub-bucket.
func (ub *UpdateBucket) Get(key []byte) ([]byte, bool) {
	return ub.b.Get(key)
}

// LowerBound walks every key >= start in ascending order until
// callback returns false.
func (ub *UpdateBucket) LowerBound(start []byte, callback func(key, val []byte) bool) {
	ub.b.Scan(start, callback)
}

// Put inserts or updates an ordinary value at key.
func (ub *UpdateBucket) Put(key, val []byte) error {
	if tx := ub.tx; tx.done {
		return ErrTxClosed
	}
	if len(key) > 0x7fff {
		return ErrKeyTooLarge
	}
	if uint64(len(val)) > 0xffffffff {
		return ErrValueTooLarge
	}
	if err := ub.b.Put(key, val); err != nil {
		return err
	}
	return ub.log(wal.OpPutNotBucket, key, val)
}

// Delete removes key, reporting whether it was present. Deleting a
// name that turns out to hold a sub-bucket fails with
// bucket.ErrBucketConflict; use DeleteSubBucket instead.
func (ub *UpdateBucket) Delete(key []byte) (bool, error) {
	ok, err := ub.b.Delete(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, ub.log(wal.OpDelete, key, nil)
}

// SubBucket opens (creating if necessary) the nested bucket at key.
func (ub *UpdateBucket) SubBucket(key []byte) (*UpdateBucket, error) {
	child, err := ub.b.SubBucket(key)
	if err != nil {
		return nil, err
	}
	if err := ub.log(wal.OpSubBucket, key, nil); err != nil {
		return nil, err
	}
	childPath := make([][]byte, 0, len(ub.path)+1)
	childPath = append(childPath, ub.path...)
	childPath = append(childPath, append([]byte{}, key...))
	return &UpdateBucket{tx: ub.tx, b: child, path: childPath}, nil
}

// DeleteSubBucket removes the nested bucket at key entirely.
func (ub *UpdateBucket) DeleteSubBucket(key []byte) error {
	if err := ub.b.DeleteSubBucket(key); err != nil {
		return err
	}
	return ub.log(wal.OpDelete, key, nil)
}

// log appends a WAL entry addressing key by this bucket's path, so
// recovery can navigate back to the same bucket on replay.
func (ub *UpdateBucket) log(op wal.OpType, key, val []byte) error {
	entry := wal.Entry{
		LSN:       ub.tx.db.wal.NextLSN(),
		TxnID:     uint64(ub.tx.txid),
		OpType:    op,
		Key:       encodePath(ub.path, key),
		Value:     val,
		Timestamp: time.Now(),
	}
	if err := ub.tx.db.wal.Write(entry); err != nil {
		return err
	}
	ub.tx.db.metrics.WALBytesWrittenTotal.Add(float64(entry.Size()))
	return nil
}

// View starts a read-only transaction over a consistent snapshot of
// the database as of the moment it was called. Concurrent and later
// writers never change what it sees.
func (db *DB) View() (*ViewTx, error) {
	if db.isClosed() {
		return nil, ErrTxClosed
	}

	db.metaMu.Lock()
	meta := db.meta
	db.metaMu.Unlock()

	token := db.txMgr.BeginRead(meta.TxId)
	db.metrics.ActiveReaders.Set(float64(db.txMgr.ActiveReaders()))

	deps := db.bucketDeps(meta.TxId, meta.TxId)
	root := bucket.New(deps, meta.UserRoot)

	return &ViewTx{db: db, token: token, root: root}, nil
}

// ViewTx is a single read-only snapshot. It must end with exactly one
// call to End.
type ViewTx struct {
	db    *DB
	token *txn.ReadToken
	root  *bucket.Bucket
	done  bool
}

// UserBucket returns the top-level bucket as it existed when this
// transaction began.
func (tx *ViewTx) UserBucket() *ViewBucket {
	return &ViewBucket{b: tx.root}
}

// End releases this transaction's snapshot, allowing the free list to
// eventually reclaim pages it alone was still pinning.
func (tx *ViewTx) End() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true
	tx.db.txMgr.EndRead(tx.token)
	tx.db.metrics.ActiveReaders.Set(float64(tx.db.txMgr.ActiveReaders()))
	return nil
}

// ViewBucket is a bucket opened within a read-only transaction.
type ViewBucket struct {
	b *bucket.Bucket
}

// Get returns the value at key, or false if absent or if key names a
// sub-bucket.
func (vb *ViewBucket) Get(key []byte) ([]byte, bool) {
	return vb.b.Get(key)
}

// LowerBound walks every key >= start in ascending order until
// callback returns false.
func (vb *ViewBucket) LowerBound(start []byte, callback func(key, val []byte) bool) {
	vb.b.Scan(start, callback)
}

// SubBucket opens an existing nested bucket, returning
// bucket.ErrNotFound if key is absent and bucket.ErrBucketConflict if
// it holds an ordinary value.
func (vb *ViewBucket) SubBucket(key []byte) (*ViewBucket, error) {
	child, err := vb.b.OpenSubBucket(key)
	if err != nil {
		return nil, err
	}
	return &ViewBucket{b: child}, nil
}
