// ABOUTME: Bucket tests over an in-memory page simulation
// ABOUTME: Exercises Put/Get/Delete, sub-bucket nesting, and overflow-chain freeing

package bucket

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nainya/atomkv/pkg/page"
)

const testPageSize = 256

type harness struct {
	pages map[page.Id]page.Node
	freed map[page.Id]bool
	next  page.Id
	txid  page.TxId
}

func newHarness() *harness {
	return &harness{
		pages: map[page.Id]page.Node{},
		freed: map[page.Id]bool{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		PageSize: testPageSize,
		Get: func(id page.Id) page.Node {
			n, ok := h.pages[id]
			if !ok {
				panic(fmt.Sprintf("page %d not found", id))
			}
			return n
		},
		New: func(n page.Node) page.Id {
			id := h.next
			h.next++
			h.pages[id] = n
			return id
		},
		Del: func(id page.Id) {
			delete(h.pages, id)
			h.freed[id] = true
		},
		TxId: func() page.TxId { return h.txid },
		FreeChain: func(head page.Id) {
			page.FreeChain(head, func(id page.Id) []byte {
				return h.pages[id]
			}, func(id page.Id) {
				delete(h.pages, id)
				h.freed[id] = true
			})
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	h := newHarness()
	b := New(h.deps(), page.InvalidId)

	if err := b.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, ok := b.Get([]byte("a"))
	if !ok || string(val) != "1" {
		t.Fatalf("Get(a) = %q, %v; want 1, true", val, ok)
	}
}

func TestDeleteIdempotence(t *testing.T) {
	h := newHarness()
	b := New(h.deps(), page.InvalidId)
	b.Put([]byte("a"), []byte("1"))

	ok, err := b.Delete([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("first delete: ok=%v err=%v", ok, err)
	}
	ok, err = b.Delete([]byte("a"))
	if err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v, want false, nil", ok, err)
	}
}

func TestSubBucketRoundTrip(t *testing.T) {
	h := newHarness()
	root := New(h.deps(), page.InvalidId)

	sub, err := root.SubBucket([]byte("s"))
	if err != nil {
		t.Fatalf("SubBucket: %v", err)
	}
	if err := sub.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put in sub-bucket: %v", err)
	}

	root.Flush()

	again, err := root.OpenSubBucket([]byte("s"))
	if err != nil {
		t.Fatalf("OpenSubBucket: %v", err)
	}
	val, ok := again.Get([]byte("k"))
	if !ok || string(val) != "v" {
		t.Fatalf("Get(k) in reopened sub-bucket = %q, %v", val, ok)
	}
}

func TestBucketConflict(t *testing.T) {
	h := newHarness()
	root := New(h.deps(), page.InvalidId)
	root.Put([]byte("x"), []byte("1"))

	if _, err := root.SubBucket([]byte("x")); err != ErrBucketConflict {
		t.Fatalf("SubBucket over a value key = %v, want ErrBucketConflict", err)
	}

	root2 := New(h.deps(), page.InvalidId)
	root2.SubBucket([]byte("y"))
	if err := root2.Put([]byte("y"), []byte("1")); err != ErrBucketConflict {
		t.Fatalf("Put over a sub-bucket key = %v, want ErrBucketConflict", err)
	}
}

func TestDeleteSubBucketNotFound(t *testing.T) {
	h := newHarness()
	root := New(h.deps(), page.InvalidId)
	if err := root.DeleteSubBucket([]byte("missing")); err != ErrNotFound {
		t.Fatalf("DeleteSubBucket(missing) = %v, want ErrNotFound", err)
	}
}

func TestOverflowFreedOnOverwrite(t *testing.T) {
	h := newHarness()
	b := New(h.deps(), page.InvalidId)

	big := strings.Repeat("x", testPageSize*3)
	if err := b.Put([]byte("k"), []byte(big)); err != nil {
		t.Fatalf("Put overflow value: %v", err)
	}
	if len(h.freed) != 0 {
		t.Fatalf("unexpected pages freed after first insert: %d", len(h.freed))
	}

	// Overwriting with a small inline value must free the old chain.
	if err := b.Put([]byte("k"), []byte("small")); err != nil {
		t.Fatalf("Put small value: %v", err)
	}
	if len(h.freed) == 0 {
		t.Fatalf("overflow chain was not freed on overwrite")
	}

	val, ok := b.Get([]byte("k"))
	if !ok || string(val) != "small" {
		t.Fatalf("Get(k) = %q, %v; want small, true", val, ok)
	}
}

func TestOverflowFreedOnDelete(t *testing.T) {
	h := newHarness()
	b := New(h.deps(), page.InvalidId)

	big := strings.Repeat("y", testPageSize*3)
	b.Put([]byte("k"), []byte(big))

	ok, err := b.Delete([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if len(h.freed) == 0 {
		t.Fatalf("overflow chain was not freed on delete")
	}
}

func TestScanOrdering(t *testing.T) {
	h := newHarness()
	b := New(h.deps(), page.InvalidId)

	keys := []string{"d", "b", "a", "c"}
	for _, k := range keys {
		b.Put([]byte(k), []byte(k))
	}

	var seen []string
	b.Scan(nil, func(key, val []byte) bool {
		seen = append(seen, string(key))
		return true
	})

	want := []string{"a", "b", "c", "d"}
	if len(seen) != len(want) {
		t.Fatalf("Scan returned %d keys, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Scan()[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestScanSkipsSubBuckets(t *testing.T) {
	h := newHarness()
	b := New(h.deps(), page.InvalidId)
	b.Put([]byte("a"), []byte("1"))
	b.SubBucket([]byte("s"))
	b.Put([]byte("z"), []byte("2"))

	var seen []string
	b.Scan(nil, func(key, val []byte) bool {
		seen = append(seen, string(key))
		return true
	})
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "z" {
		t.Fatalf("Scan() = %v, want [a z]", seen)
	}
}
