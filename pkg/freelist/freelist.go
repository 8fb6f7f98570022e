// ABOUTME: Transaction-aware free list tracking reusable page runs
// ABOUTME: Adapted from the teacher's unrolled free list, keyed by releasing txid for GC eligibility

package freelist

import (
	"encoding/binary"

	"github.com/nainya/atomkv/pkg/page"
)

// pairSize is the encoded size of one (txid, pageid, run) entry.
const pairSize = 8 + 4 + 4

// PairSize is pairSize, exported so callers that read raw free-list
// pages off disk know how many trailing bytes of the last page are
// zero padding rather than an encoded pair.
const PairSize = pairSize

// Pair is one run of contiguous pages freed by a transaction.
type Pair struct {
	TxId page.TxId
	Head page.Id
	Run  uint32
}

// List tracks pages released by completed write transactions. A run
// becomes eligible for reuse only once no live reader's snapshot could
// still observe it, i.e. once its releasing txid is below every active
// reader's txid.
type List struct {
	pairs []Pair
}

// New creates an empty free list.
func New() *List {
	return &List{}
}

// Release records that run contiguous pages starting at head were
// freed by txid. Runs are merged with an existing entry for the same
// txid and adjoining head when possible, to keep the list compact.
func (l *List) Release(txid page.TxId, head page.Id, run uint32) {
	for i := range l.pairs {
		p := &l.pairs[i]
		if p.TxId == txid && p.Head+page.Id(p.Run) == head {
			p.Run += run
			return
		}
	}
	l.pairs = append(l.pairs, Pair{TxId: txid, Head: head, Run: run})
}

// Alloc removes and returns n contiguous pages whose releasing txid is
// strictly below minLiveReader, or (InvalidId, false) if none qualify.
// Runs larger than n are split, leaving the remainder behind.
func (l *List) Alloc(n uint32, minLiveReader page.TxId) (page.Id, bool) {
	for i := range l.pairs {
		p := &l.pairs[i]
		if p.TxId >= minLiveReader {
			continue
		}
		if p.Run < n {
			continue
		}
		head := p.Head
		if p.Run == n {
			l.pairs = append(l.pairs[:i], l.pairs[i+1:]...)
		} else {
			p.Head += page.Id(n)
			p.Run -= n
		}
		return head, true
	}
	return page.InvalidId, false
}

// Count returns the total number of free pages tracked across all runs.
func (l *List) Count() uint64 {
	var total uint64
	for _, p := range l.pairs {
		total += uint64(p.Run)
	}
	return total
}

// PairCount returns the number of distinct (txid, run) entries, used
// to size the meta page's free_pair_count field.
func (l *List) PairCount() uint64 {
	return uint64(len(l.pairs))
}

// Serialize encodes the free list for storage in the free-list pages
// rooted at meta.FreeListPgid: a flat array of fixed-width pairs, one
// page's worth at a time, chosen by the caller based on page size.
func (l *List) Serialize() []byte {
	buf := make([]byte, len(l.pairs)*pairSize)
	for i, p := range l.pairs {
		off := i * pairSize
		binary.LittleEndian.PutUint64(buf[off:], uint64(p.TxId))
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(p.Head))
		binary.LittleEndian.PutUint32(buf[off+12:], p.Run)
	}
	return buf
}

// Deserialize replaces the list's contents from a buffer produced by
// Serialize (or a concatenation of several free-list pages).
func (l *List) Deserialize(buf []byte) {
	count := len(buf) / pairSize
	l.pairs = make([]Pair, 0, count)
	for i := 0; i < count; i++ {
		off := i * pairSize
		l.pairs = append(l.pairs, Pair{
			TxId: page.TxId(binary.LittleEndian.Uint64(buf[off:])),
			Head: page.Id(binary.LittleEndian.Uint32(buf[off+8:])),
			Run:  binary.LittleEndian.Uint32(buf[off+12:]),
		})
	}
}

// Snapshot returns a copy of the list's current pairs, for a writer to
// restore if its transaction rolls back after already releasing pages
// into the list.
func (l *List) Snapshot() []Pair {
	out := make([]Pair, len(l.pairs))
	copy(out, l.pairs)
	return out
}

// Restore replaces the list's contents with a previously captured
// snapshot.
func (l *List) Restore(pairs []Pair) {
	l.pairs = pairs
}

// PagesNeeded returns how many whole pages are required to persist the
// list given a page size, matching how the meta page's
// free_list_page_count field is computed on commit.
func (l *List) PagesNeeded(pageSize int) uint32 {
	total := len(l.pairs) * pairSize
	if total == 0 {
		return 0
	}
	return uint32((total + pageSize - 1) / pageSize)
}
