package page

import "testing"

func TestNodeAppendLeafAndRead(t *testing.T) {
	n := Node(make([]byte, DefaultSize))
	n.Reset(Leaf)

	n.AppendLeaf([]byte("alpha"), []byte("1"))
	n.AppendLeaf([]byte("beta"), []byte("22"))

	if n.Count() != 2 {
		t.Fatalf("count = %d, want 2", n.Count())
	}
	if string(n.Key(0)) != "alpha" || string(n.Value(0)) != "1" {
		t.Fatalf("slot 0 = %q/%q", n.Key(0), n.Value(0))
	}
	if string(n.Key(1)) != "beta" || string(n.Value(1)) != "22" {
		t.Fatalf("slot 1 = %q/%q", n.Key(1), n.Value(1))
	}
}

func TestNodeAppendBranch(t *testing.T) {
	n := Node(make([]byte, DefaultSize))
	n.Reset(Branch)
	n.AppendBranch([]byte(""), Id(1))
	n.AppendBranch([]byte("m"), Id(2))

	if n.Type() != Branch {
		t.Fatalf("type = %v, want Branch", n.Type())
	}
	if n.Slot(1).LeftChild() != Id(2) {
		t.Fatalf("child 1 = %d, want 2", n.Slot(1).LeftChild())
	}
}

func TestNodeAppendBucketMarksSlot(t *testing.T) {
	n := Node(make([]byte, DefaultSize))
	n.Reset(Leaf)
	n.AppendBucket([]byte("sub"), Id(55))

	s := n.Slot(0)
	if !s.IsBucket() {
		t.Fatal("expected is_bucket slot")
	}
	if s.LeftChild() != Id(55) {
		t.Fatalf("bucket root = %d, want 55", s.LeftChild())
	}
}

func TestNodeAppendLeafOverflowMarksSlot(t *testing.T) {
	n := Node(make([]byte, DefaultSize))
	n.Reset(Leaf)
	n.AppendLeafOverflow([]byte("huge"), Id(10))

	s := n.Slot(0)
	if !s.IsOverflow() {
		t.Fatal("expected overflow slot")
	}
	if n.OverflowHead(0) != Id(10) {
		t.Fatalf("overflow head = %d, want 10", n.OverflowHead(0))
	}
}

func TestLookupLEFindsFloor(t *testing.T) {
	n := Node(make([]byte, DefaultSize))
	n.Reset(Leaf)
	n.AppendLeaf([]byte("b"), []byte("1"))
	n.AppendLeaf([]byte("d"), []byte("2"))
	n.AppendLeaf([]byte("f"), []byte("3"))

	cmp := func(a, b []byte) int {
		switch {
		case string(a) < string(b):
			return -1
		case string(a) > string(b):
			return 1
		default:
			return 0
		}
	}

	if idx := LookupLE(n, []byte("e"), cmp); idx != 1 {
		t.Fatalf("LookupLE(e) = %d, want 1", idx)
	}
	if idx := LookupLE(n, []byte("a"), cmp); idx != 0 {
		t.Fatalf("LookupLE(a) = %d, want 0", idx)
	}
	if idx := LookupLE(n, []byte("z"), cmp); idx != 2 {
		t.Fatalf("LookupLE(z) = %d, want 2", idx)
	}
}

func TestCopyRangePreservesRecordKinds(t *testing.T) {
	src := Node(make([]byte, DefaultSize))
	src.Reset(Leaf)
	src.AppendLeaf([]byte("a"), []byte("1"))
	src.AppendBucket([]byte("b"), Id(9))
	src.AppendLeafOverflow([]byte("c"), Id(3))

	dst := Node(make([]byte, DefaultSize))
	dst.Reset(Leaf)
	CopyRange(dst, src, 0, 0, src.Count())

	if dst.Count() != 3 {
		t.Fatalf("count = %d, want 3", dst.Count())
	}
	if string(dst.Value(0)) != "1" {
		t.Fatalf("slot 0 value = %q", dst.Value(0))
	}
	if !dst.Slot(1).IsBucket() || dst.Slot(1).LeftChild() != Id(9) {
		t.Fatalf("slot 1 bucket metadata lost")
	}
	if !dst.Slot(2).IsOverflow() || dst.OverflowHead(2) != Id(3) {
		t.Fatalf("slot 2 overflow metadata lost")
	}
}
