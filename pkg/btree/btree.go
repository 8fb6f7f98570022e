// ABOUTME: Copy-on-write B+tree over the packed slotted page format
// ABOUTME: Ported from the teacher's treeInsert/treeDelete/nodeSplit3 shape onto page.Node records

package btree

import (
	"bytes"

	"github.com/nainya/atomkv/pkg/page"
)

// Record describes what Get found at a key: either an ordinary value,
// a sub-bucket root, or nothing.
type Record struct {
	Found      bool
	IsBucket   bool
	BucketRoot page.Id
	Value      []byte

	// IsOverflow and OverflowHead describe a value stored in an
	// overflow chain rather than inline; callers that overwrite or
	// delete such a record are responsible for freeing the chain.
	IsOverflow   bool
	OverflowHead page.Id
}

// BTree is a handle onto a tree rooted at Root. All page access is
// indirected through the callbacks so the same type serves both the
// user's top-level tree and every nested bucket's tree, sharing one
// Pager underneath.
type BTree struct {
	Root     page.Id
	PageSize int

	Get func(page.Id) page.Node      // dereference a page, read-only
	New func(page.Node) page.Id      // allocate and persist a page, returns its id
	Del func(page.Id)                // release a page back to the free list
	Cmp func(a, b []byte) int        // key comparator; bytes.Compare if nil

	// TxId stamps the last-modified txid on every node this tree
	// writes, for diagnostics; it may be nil.
	TxId func() page.TxId
}

func (t *BTree) cmp(a, b []byte) int {
	if t.Cmp != nil {
		return t.Cmp(a, b)
	}
	return bytes.Compare(a, b)
}

func (t *BTree) newPage() page.Node {
	n := page.Node(make([]byte, t.PageSize))
	return n
}

func (t *BTree) workingPage() page.Node {
	// Allowed to temporarily exceed one page while a split is pending.
	return page.Node(make([]byte, 2*t.PageSize))
}

func (t *BTree) stamp(n page.Node) {
	if t.TxId != nil {
		n.SetLastModifiedTxId(t.TxId())
	}
}

// Get looks up key, resolving overflow value chains and distinguishing
// sub-bucket markers from ordinary values.
func (t *BTree) Get(key []byte) Record {
	if t.Root == page.InvalidId {
		return Record{}
	}
	return t.treeGet(t.Get(t.Root), key)
}

func (t *BTree) treeGet(n page.Node, key []byte) Record {
	idx := page.LookupLE(n, key, t.cmp)

	if n.Type() == page.Leaf {
		if n.Count() == 0 || t.cmp(n.Key(idx), key) != 0 {
			return Record{}
		}
		s := n.Slot(idx)
		if s.IsBucket() {
			return Record{Found: true, IsBucket: true, BucketRoot: s.LeftChild()}
		}
		if s.IsOverflow() {
			head := n.OverflowHead(idx)
			val := page.ReadChain(head, t.Get)
			return Record{Found: true, Value: val, IsOverflow: true, OverflowHead: head}
		}
		return Record{Found: true, Value: n.Value(idx)}
	}

	child := t.Get(n.Slot(idx).LeftChild())
	return t.treeGet(child, key)
}

// maxInlineValue is the largest leaf value stored inline in a node
// rather than spilled to an overflow chain.
func (t *BTree) maxInlineValue() int {
	return t.PageSize / 4
}

// Insert inserts or updates an ordinary value at key.
func (t *BTree) Insert(key, val []byte) {
	if len(val) > t.maxInlineValue() {
		head := page.WriteChain(val, t.PageSize, func(buf []byte) page.Id {
			return t.New(page.Node(buf))
		})
		t.insertRecord(key, nil, true, false, head)
		return
	}
	t.insertRecord(key, val, false, false, page.InvalidId)
}

// InsertBucket records that key names a nested bucket rooted at root.
func (t *BTree) InsertBucket(key []byte, root page.Id) {
	t.insertRecord(key, nil, false, true, root)
}

func (t *BTree) insertRecord(key, val []byte, overflow, isBucket bool, union page.Id) {
	if t.Root == page.InvalidId {
		root := t.newPage()
		root.Reset(page.Leaf)
		t.stamp(root)
		appendOne(root, key, val, overflow, isBucket, union)
		t.Root = t.New(root)
		return
	}

	result := t.treeInsert(t.Get(t.Root), key, val, overflow, isBucket, union)
	n, split := splitNode(result, t.PageSize)
	t.Del(t.Root)

	if n > 1 {
		root := t.newPage()
		root.Reset(page.Branch)
		t.stamp(root)
		for _, kid := range split[:n] {
			id := t.New(kid)
			root.AppendBranch(firstKey(kid), id)
		}
		t.Root = t.New(root)
	} else {
		t.Root = t.New(split[0])
	}
}

func firstKey(n page.Node) []byte {
	if n.Count() == 0 {
		return nil
	}
	return n.Key(0)
}

// treeInsert inserts into node, possibly returning an oversized
// (>PageSize) working node awaiting a split.
func (t *BTree) treeInsert(n page.Node, key, val []byte, overflow, isBucket bool, union page.Id) page.Node {
	working := t.workingPage()
	idx := page.LookupLE(n, key, t.cmp)

	switch n.Type() {
	case page.Leaf:
		if n.Count() > 0 && t.cmp(n.Key(idx), key) == 0 {
			leafReplace(working, n, idx, key, val, overflow, isBucket, union)
		} else {
			insertAt := idx
			if n.Count() == 0 || t.cmp(n.Key(idx), key) < 0 {
				insertAt = idx + 1
			}
			leafInsertAt(working, n, insertAt, key, val, overflow, isBucket, union)
		}
	case page.Branch:
		t.branchInsert(working, n, idx, key, val, overflow, isBucket, union)
	default:
		panic("btree: bad node type")
	}
	t.stamp(working)
	return working
}

func leafInsertAt(dst, src page.Node, at uint16, key, val []byte, overflow, isBucket bool, union page.Id) {
	dst.Reset(page.Leaf)
	page.CopyRange(dst, src, 0, 0, at)
	appendOne(dst, key, val, overflow, isBucket, union)
	page.CopyRange(dst, src, at+1, at, src.Count()-at)
}

func leafReplace(dst, src page.Node, idx uint16, key, val []byte, overflow, isBucket bool, union page.Id) {
	dst.Reset(page.Leaf)
	page.CopyRange(dst, src, 0, 0, idx)
	appendOne(dst, key, val, overflow, isBucket, union)
	page.CopyRange(dst, src, idx+1, idx+1, src.Count()-(idx+1))
}

func appendOne(n page.Node, key, val []byte, overflow, isBucket bool, union page.Id) {
	switch {
	case isBucket:
		n.AppendBucket(key, union)
	case overflow:
		n.AppendLeafOverflow(key, union)
	default:
		n.AppendLeaf(key, val)
	}
}

func (t *BTree) branchInsert(dst, src page.Node, idx uint16, key, val []byte, overflow, isBucket bool, union page.Id) {
	childId := src.Slot(idx).LeftChild()
	childResult := t.treeInsert(t.Get(childId), key, val, overflow, isBucket, union)
	n, split := splitNode(childResult, t.PageSize)
	t.Del(childId)
	t.replaceKidsN(dst, src, idx, split[:n]...)
}

// replaceKidsN swaps the single child link at idx for one or more new
// links, persisting each replacement kid and growing the node's key
// count accordingly (mirrors the teacher's nodeReplaceKidN).
func (t *BTree) replaceKidsN(dst, src page.Node, idx uint16, kids ...page.Node) {
	dst.Reset(page.Branch)
	page.CopyRange(dst, src, 0, 0, idx)
	for _, kid := range kids {
		id := t.New(kid)
		dst.AppendBranch(firstKey(kid), id)
	}
	page.CopyRange(dst, src, idx+uint16(len(kids)), idx+1, src.Count()-(idx+1))
}

// repack re-lays a node's records into a freshly sized buffer,
// recomputing every record offset; a plain byte copy would carry
// stale offsets measured against the old buffer's length.
func repack(n page.Node, pageSize int) page.Node {
	out := page.Node(make([]byte, pageSize))
	out.Reset(n.Type())
	page.CopyRange(out, n, 0, 0, n.Count())
	return out
}

// splitNode divides an oversized working node into up to three pages
// no larger than PageSize, matching the teacher's nodeSplit3 cascade.
func splitNode(n page.Node, pageSize int) (int, [3]page.Node) {
	if int(n.SpaceUsed())+page.HeaderSize <= pageSize {
		return 1, [3]page.Node{repack(n, pageSize)}
	}

	left, right := splitInTwo(n, pageSize)
	if int(left.SpaceUsed())+page.HeaderSize <= pageSize {
		return 2, [3]page.Node{left, right}
	}

	leftleft, middle := splitInTwo(left, pageSize)
	return 3, [3]page.Node{leftleft, middle, right}
}

func splitInTwo(n page.Node, pageSize int) (page.Node, page.Node) {
	count := n.Count()
	target := (pageSize * 3) / 4

	nleft := uint16(1)
	for i := uint16(1); i < count; i++ {
		nleft = i + 1
		probe := page.Node(make([]byte, pageSize))
		probe.Reset(n.Type())
		page.CopyRange(probe, n, 0, 0, nleft)
		if int(probe.SpaceUsed())+page.HeaderSize >= target {
			break
		}
	}

	left := page.Node(make([]byte, pageSize))
	left.Reset(n.Type())
	page.CopyRange(left, n, 0, 0, nleft)

	right := page.Node(make([]byte, pageSize))
	right.Reset(n.Type())
	page.CopyRange(right, n, 0, nleft, count-nleft)

	return left, right
}

// Delete removes key, reporting whether it was present.
func (t *BTree) Delete(key []byte) bool {
	if t.Root == page.InvalidId {
		return false
	}

	updated, ok := t.treeDelete(t.Get(t.Root), key)
	if !ok {
		return false
	}
	t.Del(t.Root)

	if updated.Type() == page.Branch && updated.Count() == 1 {
		t.Root = updated.Slot(0).LeftChild()
	} else {
		t.Root = t.New(repack(updated, t.PageSize))
	}
	return true
}

func (t *BTree) treeDelete(n page.Node, key []byte) (page.Node, bool) {
	idx := page.LookupLE(n, key, t.cmp)

	if n.Type() == page.Leaf {
		if n.Count() == 0 || t.cmp(n.Key(idx), key) != 0 {
			return nil, false
		}
		out := t.newPage()
		out.Reset(page.Leaf)
		page.CopyRange(out, n, 0, 0, idx)
		page.CopyRange(out, n, idx, idx+1, n.Count()-(idx+1))
		t.stamp(out)
		return out, true
	}

	childId := n.Slot(idx).LeftChild()
	updated, ok := t.treeDelete(t.Get(childId), key)
	if !ok {
		return nil, false
	}
	t.Del(childId)

	out := t.newPage()
	dir, sibling := t.shouldMerge(n, idx, updated)
	switch {
	case dir < 0:
		merged := t.mergeNodes(sibling, updated)
		t.Del(n.Slot(idx - 1).LeftChild())
		t.replace2Kids(out, n, idx-1, merged)
	case dir > 0:
		merged := t.mergeNodes(updated, sibling)
		t.Del(n.Slot(idx + 1).LeftChild())
		t.replace2Kids(out, n, idx, merged)
	case updated.Count() == 0:
		out.Reset(page.Branch)
	default:
		out.Reset(page.Branch)
		page.CopyRange(out, n, 0, 0, idx)
		id := t.New(trimTo(updated, t.PageSize))
		out.AppendBranch(firstKey(updated), id)
		page.CopyRange(out, n, idx+1, idx+1, n.Count()-(idx+1))
	}
	t.stamp(out)
	return out, true
}

func trimTo(n page.Node, pageSize int) page.Node {
	if len(n) == pageSize {
		return n
	}
	return repack(n, pageSize)
}

func (t *BTree) shouldMerge(n page.Node, idx uint16, updated page.Node) (int, page.Node) {
	if int(updated.SpaceUsed())+page.HeaderSize > t.PageSize/4 {
		return 0, nil
	}
	if idx > 0 {
		sibling := t.Get(n.Slot(idx - 1).LeftChild())
		if int(sibling.SpaceUsed())+int(updated.SpaceUsed())+page.HeaderSize <= t.PageSize {
			return -1, sibling
		}
	}
	if idx+1 < n.Count() {
		sibling := t.Get(n.Slot(idx + 1).LeftChild())
		if int(sibling.SpaceUsed())+int(updated.SpaceUsed())+page.HeaderSize <= t.PageSize {
			return 1, sibling
		}
	}
	return 0, nil
}

func (t *BTree) mergeNodes(left, right page.Node) page.Node {
	out := t.newPage()
	out.Reset(left.Type())
	page.CopyRange(out, left, 0, 0, left.Count())
	page.CopyRange(out, right, left.Count(), 0, right.Count())
	t.stamp(out)
	return out
}

func (t *BTree) replace2Kids(dst, src page.Node, idx uint16, merged page.Node) {
	dst.Reset(page.Branch)
	page.CopyRange(dst, src, 0, 0, idx)
	id := t.New(merged)
	dst.AppendBranch(firstKey(merged), id)
	page.CopyRange(dst, src, idx+1, idx+2, src.Count()-(idx+2))
}

// Scan walks every key >= start in ascending order until callback
// returns false.
func (t *BTree) Scan(start []byte, callback func(key []byte, rec Record) bool) {
	it := t.NewIterator()
	if !it.SeekLE(start) {
		return
	}
	if it.Valid() && t.cmp(it.Key(), start) < 0 {
		if !it.Next() {
			return
		}
	}
	for it.Valid() {
		if !callback(it.Key(), it.Record()) {
			return
		}
		if !it.Next() {
			return
		}
	}
}
