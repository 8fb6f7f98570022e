// ABOUTME: Single-writer, many-reader transaction registry
// ABOUTME: Tracks live reader snapshots to compute free-list GC eligibility

package txn

import (
	"sync"

	"github.com/nainya/atomkv/pkg/page"
)

// Manager serializes write transactions and tracks every live reader's
// snapshot txid, so the free list never hands out a page a reader
// might still observe.
//
// Three locks cooperate, mirroring the reference implementation's
// writer_mutex / mmap_rwlock / tx_registry_mutex split:
//   - writerMu excludes concurrent writers.
//   - mmapMu is held shared by readers for the lifetime of their
//     snapshot and exclusively by the writer while it remaps growth.
//   - registryMu guards the live-reader set below.
type Manager struct {
	writerMu sync.Mutex
	mmapMu   sync.RWMutex

	registryMu sync.Mutex
	readers    map[*ReadToken]struct{}
}

// NewManager creates an empty transaction registry.
func NewManager() *Manager {
	return &Manager{readers: make(map[*ReadToken]struct{})}
}

// ReadToken represents one open read transaction's snapshot.
type ReadToken struct {
	TxId page.TxId
}

// BeginWrite acquires exclusive write access. Callers must call
// EndWrite when the transaction commits or rolls back.
func (m *Manager) BeginWrite() {
	m.writerMu.Lock()
}

// EndWrite releases exclusive write access.
func (m *Manager) EndWrite() {
	m.writerMu.Unlock()
}

// LockMmapExclusive is held by the writer only while remapping the
// data file after growth, never for the whole transaction.
func (m *Manager) LockMmapExclusive()   { m.mmapMu.Lock() }
func (m *Manager) UnlockMmapExclusive() { m.mmapMu.Unlock() }

// BeginRead registers a new reader snapshot at txid and returns a
// token to pass to EndRead.
func (m *Manager) BeginRead(txid page.TxId) *ReadToken {
	m.mmapMu.RLock()
	tok := &ReadToken{TxId: txid}

	m.registryMu.Lock()
	m.readers[tok] = struct{}{}
	m.registryMu.Unlock()

	return tok
}

// EndRead unregisters a reader snapshot.
func (m *Manager) EndRead(tok *ReadToken) {
	m.registryMu.Lock()
	delete(m.readers, tok)
	m.registryMu.Unlock()

	m.mmapMu.RUnlock()
}

// MinLiveReader returns the lowest txid among currently open readers,
// or fallback if there are none. A free-list run released at or after
// this txid might still be visible to a live snapshot and must not be
// reused yet.
func (m *Manager) MinLiveReader(fallback page.TxId) page.TxId {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	min := fallback
	first := true
	for tok := range m.readers {
		if first || tok.TxId < min {
			min = tok.TxId
			first = false
		}
	}
	return min
}

// ActiveReaders returns the current count of open read transactions,
// for metrics.
func (m *Manager) ActiveReaders() int {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	return len(m.readers)
}
