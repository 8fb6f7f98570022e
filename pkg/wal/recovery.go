package wal

import (
	"fmt"
	"os"
)

// ReplayFunc is called for each mutation that needs to be replayed.
type ReplayFunc func(op OpType, key, value []byte) error

// Recovery manages crash recovery from WAL.
type Recovery struct {
	wal *WAL
}

// NewRecovery creates a recovery manager.
func NewRecovery(wal *WAL) *Recovery {
	return &Recovery{wal: wal}
}

// Recover replays the WAL and calls the replay function for each
// mutation belonging to a transaction that reached OpCommit.
func (r *Recovery) Recover(replay ReplayFunc) error {
	files, err := r.wal.findLogFiles()
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No WAL files = fresh start
		}
		return err
	}

	entries, err := ReadAll(files)
	if err != nil {
		return fmt.Errorf("failed to read WAL entries: %w", err)
	}

	transactions := r.groupByTransaction(entries)
	lastPersisted := r.findLastPersisted(entries)

	for _, txn := range transactions {
		if lastPersisted != nil && txn.StartLSN < lastPersisted.LSN {
			continue
		}
		if !txn.Committed {
			continue
		}

		for _, entry := range txn.Entries {
			if !isMutation(entry.OpType) {
				continue
			}
			if err := replay(entry.OpType, entry.Key, entry.Value); err != nil {
				return fmt.Errorf("replay failed at LSN %d: %w", entry.LSN, err)
			}
		}
	}

	return nil
}

func isMutation(op OpType) bool {
	switch op {
	case OpSubBucket, OpPutIsBucket, OpPutNotBucket, OpDelete:
		return true
	default:
		return false
	}
}

// Transaction represents a group of WAL entries bounded by an
// OpBegin marker and either an OpCommit or an OpRollback marker.
type Transaction struct {
	TxnID     uint64
	StartLSN  uint64
	Entries   []*Entry
	Committed bool
	RolledBack bool
}

// groupByTransaction groups WAL entries by transaction ID. A
// transaction is only marked Committed when its OpCommit marker is
// observed; one that only reaches OpRollback, or neither (a crash
// mid-transaction), stays uncommitted and is skipped during replay.
func (r *Recovery) groupByTransaction(entries []*Entry) []*Transaction {
	txnMap := make(map[uint64]*Transaction)
	var txnList []*Transaction

	for _, entry := range entries {
		if entry.OpType == OpPersisted {
			continue
		}

		txn, exists := txnMap[entry.TxnID]
		if !exists {
			txn = &Transaction{
				TxnID:    entry.TxnID,
				StartLSN: entry.LSN,
				Entries:  make([]*Entry, 0),
			}
			txnMap[entry.TxnID] = txn
			txnList = append(txnList, txn)
		}

		switch entry.OpType {
		case OpBegin:
			// marker only; StartLSN already captured above
		case OpCommit:
			txn.Committed = true
		case OpRollback:
			txn.RolledBack = true
		default:
			txn.Entries = append(txn.Entries, entry)
		}
	}

	return txnList
}

// findLastPersisted finds the most recent OpPersisted marker: every
// transaction that started before it is already durable in the page
// store and need not be replayed.
func (r *Recovery) findLastPersisted(entries []*Entry) *Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OpType == OpPersisted {
			return entries[i]
		}
	}
	return nil
}

// RecoveryStats summarizes a recovery pass.
type RecoveryStats struct {
	TotalEntries       int
	CommittedTxns      int
	UncommittedTxns    int
	ReplayedOperations int
	LastPersistedLSN   uint64
}

// RecoverWithStats performs recovery and returns statistics.
func (r *Recovery) RecoverWithStats(replay ReplayFunc) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	files, err := r.wal.findLogFiles()
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}

	entries, err := ReadAll(files)
	if err != nil {
		return nil, err
	}

	stats.TotalEntries = len(entries)

	transactions := r.groupByTransaction(entries)

	lastPersisted := r.findLastPersisted(entries)
	if lastPersisted != nil {
		stats.LastPersistedLSN = lastPersisted.LSN
	}

	for _, txn := range transactions {
		if lastPersisted != nil && txn.StartLSN < lastPersisted.LSN {
			continue
		}

		if txn.Committed {
			stats.CommittedTxns++
			for _, entry := range txn.Entries {
				if !isMutation(entry.OpType) {
					continue
				}
				if err := replay(entry.OpType, entry.Key, entry.Value); err != nil {
					return stats, err
				}
				stats.ReplayedOperations++
			}
		} else {
			stats.UncommittedTxns++
		}
	}

	return stats, nil
}
