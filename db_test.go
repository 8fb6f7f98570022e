// ABOUTME: End-to-end tests against a real on-disk database file
// ABOUTME: Exercises Open/Update/View/Commit/RollBack and the testable properties from the design

package atomkv

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nainya/atomkv/pkg/wal"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestPutGetReopen(t *testing.T) {
	path := tempDBPath(t)

	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tx, err := db.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	ub := tx.UserBucket()
	if err := ub.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := ub.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	view, err := db2.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	defer view.End()

	va, ok := view.UserBucket().Get([]byte("a"))
	if !ok || string(va) != "1" {
		t.Fatalf("Get(a) = %q, %v; want 1, true", va, ok)
	}
	vb, ok := view.UserBucket().Get([]byte("b"))
	if !ok || string(vb) != "2" {
		t.Fatalf("Get(b) = %q, %v; want 2, true", vb, ok)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, _ := db.Update()
	tx.UserBucket().Put([]byte("a"), []byte("1"))
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader1, err := db.View()
	if err != nil {
		t.Fatalf("View 1: %v", err)
	}
	defer reader1.End()

	writer, err := db.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := writer.UserBucket().Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit delete: %v", err)
	}

	// The reader that started before the delete must still see "a".
	val, ok := reader1.UserBucket().Get([]byte("a"))
	if !ok || string(val) != "1" {
		t.Fatalf("reader1.Get(a) = %q, %v; want 1, true (snapshot isolation)", val, ok)
	}

	// A new reader must not see it.
	reader2, err := db.View()
	if err != nil {
		t.Fatalf("View 2: %v", err)
	}
	defer reader2.End()
	if _, ok := reader2.UserBucket().Get([]byte("a")); ok {
		t.Fatalf("reader2.Get(a) found a value, want absent after delete")
	}
}

func TestBulkInsertOrderedIteration(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	const n = 500
	tx, err := db.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	ub := tx.UserBucket()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := make([]byte, 1024)
		copy(val, fmt.Sprintf("val-%05d", i))
		if err := ub.Put(key, val); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	view, err := db.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	defer view.End()

	count := 0
	var last string
	view.UserBucket().LowerBound(nil, func(key, val []byte) bool {
		if count > 0 && string(key) <= last {
			t.Fatalf("keys out of order: %q after %q", key, last)
		}
		last = string(key)
		count++
		return true
	})
	if count != n {
		t.Fatalf("iterated %d keys, want %d", count, n)
	}
}

func TestRollbackDiscardsMutations(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, _ := db.Update()
	tx.UserBucket().Put([]byte("a"), []byte("1"))
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := db.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	tx2.UserBucket().Put([]byte("b"), []byte("2"))
	if err := tx2.RollBack(); err != nil {
		t.Fatalf("RollBack: %v", err)
	}

	view, err := db.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	defer view.End()
	if _, ok := view.UserBucket().Get([]byte("b")); ok {
		t.Fatalf("rolled-back key is visible")
	}
	if val, ok := view.UserBucket().Get([]byte("a")); !ok || string(val) != "1" {
		t.Fatalf("committed key lost after sibling rollback: %q, %v", val, ok)
	}
}

func TestSubBucketPersistsAcrossReopen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tx, err := db.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	sub, err := tx.UserBucket().SubBucket([]byte("s"))
	if err != nil {
		t.Fatalf("SubBucket: %v", err)
	}
	if err := sub.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put in sub-bucket: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	view, err := db2.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	defer view.End()

	reopened, err := view.UserBucket().SubBucket([]byte("s"))
	if err != nil {
		t.Fatalf("SubBucket after reopen: %v", err)
	}
	val, ok := reopened.Get([]byte("k"))
	if !ok || string(val) != "v" {
		t.Fatalf("Get(k) = %q, %v; want v, true", val, ok)
	}

	tx2, err := db2.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := tx2.UserBucket().DeleteSubBucket([]byte("s")); err != nil {
		t.Fatalf("DeleteSubBucket: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	view2, err := db2.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	defer view2.End()
	if _, err := view2.UserBucket().SubBucket([]byte("s")); err == nil {
		t.Fatalf("sub-bucket still present after DeleteSubBucket")
	}
}

// TestRecoveryReplaysCommittedTransaction simulates a crash between the
// WAL Commit marker's fsync and the subsequent Persisted marker: the
// page file's meta page was never advanced, so the next Open must
// replay the logged mutation from the WAL to recover it.
func TestRecoveryReplaysCommittedTransaction(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	startTxId := db.meta.TxId

	txid := startTxId + 1
	begin := db.wal.NextLSN()
	if err := db.wal.Write(wal.Entry{LSN: begin, TxnID: uint64(txid), OpType: wal.OpBegin, Timestamp: time.Now()}); err != nil {
		t.Fatalf("write begin: %v", err)
	}
	put := db.wal.NextLSN()
	entry := wal.Entry{
		LSN:       put,
		TxnID:     uint64(txid),
		OpType:    wal.OpPutNotBucket,
		Key:       encodePath(nil, []byte("a")),
		Value:     []byte("1"),
		Timestamp: time.Now(),
	}
	if err := db.wal.Write(entry); err != nil {
		t.Fatalf("write put: %v", err)
	}
	commit := db.wal.NextLSN()
	if err := db.wal.Write(wal.Entry{LSN: commit, TxnID: uint64(txid), OpType: wal.OpCommit, Timestamp: time.Now()}); err != nil {
		t.Fatalf("write commit: %v", err)
	}
	if err := db.wal.Fsync(); err != nil {
		t.Fatalf("fsync wal: %v", err)
	}

	// No Persisted marker was ever written and the meta page was never
	// advanced past startTxId: this is exactly what a crash right after
	// the commit fsync but before the meta fsync looks like on reopen.
	if err := db.pager.Close(); err != nil {
		t.Fatalf("close pager: %v", err)
	}
	if err := db.wal.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	db2, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer db2.Close()

	if db2.meta.TxId <= startTxId {
		t.Fatalf("meta.TxId = %d after recovery, want > %d", db2.meta.TxId, startTxId)
	}

	view, err := db2.View()
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	defer view.End()
	val, ok := view.UserBucket().Get([]byte("a"))
	if !ok || string(val) != "1" {
		t.Fatalf("Get(a) after recovery = %q, %v; want 1, true", val, ok)
	}
}

// TestFreeListPersistsAcrossReopen drives enough overwrites and
// deletes to grow the free list past a single pair, forcing a
// multi-page free-list serialization, then verifies it survives a
// Close/Open round trip by checking the reclaimed count matches.
func TestFreeListPersistsAcrossReopen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 50; i++ {
		tx, err := db.Update()
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := tx.UserBucket().Put(key, make([]byte, 512)); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}

		tx2, err := db.Update()
		if err != nil {
			t.Fatalf("Update delete %d: %v", i, err)
		}
		if _, err := tx2.UserBucket().Delete(key); err != nil {
			t.Fatalf("Delete %d: %v", i, err)
		}
		if err := tx2.Commit(); err != nil {
			t.Fatalf("Commit delete %d: %v", i, err)
		}
	}

	before := db.Stats().FreePageCount
	if before == 0 {
		t.Fatalf("expected some free pages accumulated before reopen")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	after := db2.Stats().FreePageCount
	if after != before {
		t.Fatalf("FreePageCount after reopen = %d, want %d", after, before)
	}
}

func TestKeyTooLarge(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.Update()
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	defer tx.RollBack()

	big := make([]byte, 0x8000)
	if err := tx.UserBucket().Put(big, []byte("v")); err != ErrKeyTooLarge {
		t.Fatalf("Put with oversized key = %v, want ErrKeyTooLarge", err)
	}
}

func TestReadOnlyRejectsUpdate(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(Options{PageSize: 1024}, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	ro, err := Open(Options{PageSize: 1024, ReadOnly: true}, path)
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.Update(); err != ErrTxReadOnly {
		t.Fatalf("Update on read-only DB = %v, want ErrTxReadOnly", err)
	}
}
