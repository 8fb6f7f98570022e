package atomkv

import (
	"errors"
	"fmt"

	"github.com/nainya/atomkv/pkg/bucket"
	"github.com/nainya/atomkv/pkg/wal"
)

// recover replays every committed write transaction left in the WAL
// since the last Persisted marker, then performs one internal commit
// so the recovered state is durable and future opens don't replay it
// again. All replayed transactions are folded into a single internal
// transaction id rather than reproducing each original txid, since
// nothing outside this recovery pass can have observed them yet.
func (db *DB) recover() error {
	recTxId := db.meta.TxId + 1
	deps := db.bucketDeps(recTxId, recTxId)
	root := bucket.New(deps, db.meta.UserRoot)

	rec := wal.NewRecovery(db.wal)
	stats, err := rec.RecoverWithStats(func(op wal.OpType, key, value []byte) error {
		return db.replayOp(root, op, key, value)
	})
	if err != nil {
		return fmt.Errorf("atomkv: recovery: %w", err)
	}
	if stats.ReplayedOperations == 0 {
		return nil
	}

	newRoot := root.Flush()
	if err := db.commitMeta(recTxId, newRoot); err != nil {
		return fmt.Errorf("atomkv: commit recovered state: %w", err)
	}

	db.log.LogRecovery(stats.ReplayedOperations, stats.LastPersistedLSN)
	db.metrics.RecoveryReplayedTotal.Add(float64(stats.ReplayedOperations))
	return nil
}

// replayOp applies one logged mutation to the in-memory recovery tree,
// using the entry's path-encoded key to navigate to the bucket the
// mutation originally targeted.
func (db *DB) replayOp(root *bucket.Bucket, op wal.OpType, key, value []byte) error {
	ancestry, leaf := decodePath(key)
	b, err := navigateCreate(root, ancestry)
	if err != nil {
		return err
	}

	switch op {
	case wal.OpSubBucket, wal.OpPutIsBucket:
		_, err := b.SubBucket(leaf)
		return err
	case wal.OpPutNotBucket:
		return b.Put(leaf, value)
	case wal.OpDelete:
		_, err := b.Delete(leaf)
		if errors.Is(err, bucket.ErrBucketConflict) {
			return b.DeleteSubBucket(leaf)
		}
		return err
	default:
		return nil
	}
}

// navigateCreate walks ancestry from root, materializing any
// sub-bucket along the way that a later entry in the log references
// before its own OpSubBucket record (possible once replay folds many
// transactions into one pass).
func navigateCreate(root *bucket.Bucket, ancestry [][]byte) (*bucket.Bucket, error) {
	b := root
	for _, seg := range ancestry {
		child, err := b.SubBucket(seg)
		if err != nil {
			return nil, err
		}
		b = child
	}
	return b, nil
}
