// ABOUTME: Root-to-leaf path stack iterator for ascending range scans
// ABOUTME: Ported from the teacher's BIter onto page.Node slotted pages

package btree

import "github.com/nainya/atomkv/pkg/page"

// Iterator walks a BTree's leaves in ascending key order, keeping a
// stack of (node, position) frames from root to the current leaf so
// Next can backtrack without re-descending from the root.
type Iterator struct {
	tree *BTree
	path []page.Node
	pos  []uint16
}

// NewIterator creates an iterator bound to the tree's current root.
// A subsequent write-transaction mutation invalidates it, same as the
// teacher's iterator.
func (t *BTree) NewIterator() *Iterator {
	return &Iterator{
		tree: t,
		path: make([]page.Node, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

// SeekLE positions the iterator at the last key <= key, or at the
// first key when every key is greater. It returns false only if the
// tree is empty.
func (it *Iterator) SeekLE(key []byte) bool {
	it.path = it.path[:0]
	it.pos = it.pos[:0]

	if it.tree.Root == page.InvalidId {
		return false
	}

	n := it.tree.Get(it.tree.Root)
	for {
		it.path = append(it.path, n)
		idx := page.LookupLE(n, key, it.tree.cmp)
		it.pos = append(it.pos, idx)

		if n.Type() == page.Leaf {
			break
		}
		n = it.tree.Get(n.Slot(idx).LeftChild())
	}
	return true
}

// Valid reports whether the iterator currently refers to a real key.
func (it *Iterator) Valid() bool {
	if len(it.path) == 0 {
		return false
	}
	leaf := it.path[len(it.path)-1]
	pos := it.pos[len(it.pos)-1]
	return pos < leaf.Count()
}

// Key returns the current key, or nil if !Valid.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	leaf := it.path[len(it.path)-1]
	pos := it.pos[len(it.pos)-1]
	return leaf.Key(pos)
}

// Record returns the current record, resolving overflow chains.
func (it *Iterator) Record() Record {
	if !it.Valid() {
		return Record{}
	}
	leaf := it.path[len(it.path)-1]
	pos := it.pos[len(it.pos)-1]
	s := leaf.Slot(pos)
	if s.IsBucket() {
		return Record{Found: true, IsBucket: true, BucketRoot: s.LeftChild()}
	}
	if s.IsOverflow() {
		return Record{Found: true, Value: page.ReadChain(leaf.OverflowHead(pos), it.tree.Get)}
	}
	return Record{Found: true, Value: leaf.Value(pos)}
}

// Next advances to the next key in ascending order, returning false
// once the end of the tree is reached.
func (it *Iterator) Next() bool {
	if len(it.path) == 0 {
		return false
	}

	leafIdx := len(it.pos) - 1
	it.pos[leafIdx]++
	if it.pos[leafIdx] < it.path[leafIdx].Count() {
		return true
	}

	it.path = it.path[:leafIdx]
	it.pos = it.pos[:leafIdx]

	for len(it.pos) > 0 {
		parentIdx := len(it.pos) - 1
		it.pos[parentIdx]++

		parent := it.path[parentIdx]
		if it.pos[parentIdx] < parent.Count() {
			return it.descendToLeftmost()
		}

		it.path = it.path[:parentIdx]
		it.pos = it.pos[:parentIdx]
	}

	return false
}

func (it *Iterator) descendToLeftmost() bool {
	for {
		parentIdx := len(it.path) - 1
		parent := it.path[parentIdx]
		pos := it.pos[parentIdx]

		child := it.tree.Get(parent.Slot(pos).LeftChild())
		it.path = append(it.path, child)

		if child.Type() == page.Leaf {
			it.pos = append(it.pos, 0)
			return true
		}
		it.pos = append(it.pos, 0)
	}
}
