// ABOUTME: Unit tests for the transaction-aware free list
// ABOUTME: Covers run merging, GC-eligible allocation, and serialize/snapshot round trips

package freelist

import (
	"testing"

	"github.com/nainya/atomkv/pkg/page"
)

func TestReleaseMergesAdjoiningRun(t *testing.T) {
	l := New()
	l.Release(1, 10, 2)
	l.Release(1, 12, 3)
	if got := l.PairCount(); got != 1 {
		t.Fatalf("PairCount = %d, want 1 (runs should merge)", got)
	}
	if got := l.Count(); got != 5 {
		t.Fatalf("Count = %d, want 5", got)
	}
}

func TestAllocRespectsMinLiveReader(t *testing.T) {
	l := New()
	l.Release(5, 10, 2)

	if _, ok := l.Alloc(1, 5); ok {
		t.Fatalf("Alloc succeeded with minLiveReader == releasing txid, want ineligible")
	}
	id, ok := l.Alloc(1, 6)
	if !ok || id != 10 {
		t.Fatalf("Alloc = %d, %v; want 10, true", id, ok)
	}
	// One page of the run remains.
	if got := l.Count(); got != 1 {
		t.Fatalf("Count after partial alloc = %d, want 1", got)
	}
}

func TestAllocRemovesExhaustedPair(t *testing.T) {
	l := New()
	l.Release(1, 100, 4)
	if _, ok := l.Alloc(4, 2); !ok {
		t.Fatalf("Alloc did not find the eligible run")
	}
	if got := l.PairCount(); got != 0 {
		t.Fatalf("PairCount after exhausting the run = %d, want 0", got)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	l := New()
	l.Release(1, 10, 2)
	l.Release(2, 20, 5)

	data := l.Serialize()
	if len(data) != 2*PairSize {
		t.Fatalf("Serialize() length = %d, want %d", len(data), 2*PairSize)
	}

	l2 := New()
	l2.Deserialize(data)
	if l2.Count() != l.Count() || l2.PairCount() != l.PairCount() {
		t.Fatalf("round trip mismatch: got count=%d pairs=%d, want count=%d pairs=%d",
			l2.Count(), l2.PairCount(), l.Count(), l.PairCount())
	}
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	l.Release(1, 10, 2)
	snap := l.Snapshot()

	l.Release(1, 12, 1)
	l.Alloc(2, 2)
	if l.Count() == 2 {
		t.Fatalf("test setup didn't mutate the list")
	}

	l.Restore(snap)
	if got := l.Count(); got != 2 {
		t.Fatalf("Count after Restore = %d, want 2", got)
	}
}

func TestPagesNeeded(t *testing.T) {
	l := New()
	if got := l.PagesNeeded(256); got != 0 {
		t.Fatalf("PagesNeeded on empty list = %d, want 0", got)
	}
	for i := 0; i < 20; i++ {
		l.Release(page.TxId(i), page.Id(i*10), 1)
	}
	want := uint32((20*PairSize + 255) / 256)
	if got := l.PagesNeeded(256); got != want {
		t.Fatalf("PagesNeeded = %d, want %d", got, want)
	}
}
