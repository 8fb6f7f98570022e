// ABOUTME: Nested bucket namespace over a shared page store
// ABOUTME: Adapted from the teacher's IndexManager/IndexedTx, generalized from secondary indexes to sub-buckets

package bucket

import (
	"errors"

	"github.com/nainya/atomkv/pkg/btree"
	"github.com/nainya/atomkv/pkg/page"
)

// ErrBucketConflict is returned when a Put or SubBucket call would
// overwrite an existing key of the other kind (an ordinary value
// where a bucket is expected, or vice versa).
var ErrBucketConflict = errors.New("bucket: key holds the wrong kind of value")

// ErrNotFound is returned when a sub-bucket lookup misses.
var ErrNotFound = errors.New("bucket: sub-bucket not found")

// Deps are the page-level primitives a Bucket needs, shared with every
// bucket opened within the same transaction.
type Deps struct {
	PageSize int
	Get      func(page.Id) page.Node
	New      func(page.Node) page.Id
	Del      func(page.Id)
	Cmp      func(a, b []byte) int
	TxId     func() page.TxId

	// FreeChain releases every page of an overflow chain back to the
	// free list. Called whenever Put or Delete replaces a record that
	// held one, per the overflow-freeing invariant.
	FreeChain func(head page.Id)
}

// freeOldOverflow releases rec's overflow chain, if it has one.
func (b *Bucket) freeOldOverflow(rec btree.Record) {
	if rec.Found && rec.IsOverflow && b.deps.FreeChain != nil {
		b.deps.FreeChain(rec.OverflowHead)
	}
}

// Bucket is a single B+tree addressed by its root page id, plus a
// lazily-populated cache of sub-buckets opened beneath it. The cache
// is only created on first use: a bucket that has never opened a
// child has a nil map, distinct from one known to have zero children.
type Bucket struct {
	deps Deps
	tree *btree.BTree

	subs map[string]*Bucket
}

// New wraps root as a bucket's tree. root may be page.InvalidId for an
// empty, not-yet-materialized bucket.
func New(deps Deps, root page.Id) *Bucket {
	return &Bucket{
		deps: deps,
		tree: &btree.BTree{
			Root:     root,
			PageSize: deps.PageSize,
			Get:      deps.Get,
			New:      deps.New,
			Del:      deps.Del,
			Cmp:      deps.Cmp,
			TxId:     deps.TxId,
		},
	}
}

// Root returns the bucket's current root page id, for persisting into
// its parent slot or the transaction's meta page.
func (b *Bucket) Root() page.Id { return b.tree.Root }

// Get returns the value at key, or nil, false if absent or if key
// names a sub-bucket instead.
func (b *Bucket) Get(key []byte) ([]byte, bool) {
	rec := b.tree.Get(key)
	if !rec.Found || rec.IsBucket {
		return nil, false
	}
	return rec.Value, true
}

// Put inserts or updates an ordinary value at key.
func (b *Bucket) Put(key, val []byte) error {
	rec := b.tree.Get(key)
	if rec.Found && rec.IsBucket {
		return ErrBucketConflict
	}
	b.freeOldOverflow(rec)
	b.tree.Insert(key, val)
	return nil
}

// Delete removes key, reporting whether it was present as an ordinary
// value (deleting a sub-bucket must go through DeleteSubBucket).
func (b *Bucket) Delete(key []byte) (bool, error) {
	rec := b.tree.Get(key)
	if rec.Found && rec.IsBucket {
		return false, ErrBucketConflict
	}
	b.freeOldOverflow(rec)
	return b.tree.Delete(key), nil
}

// SubBucket opens (creating if necessary) the nested bucket at key.
func (b *Bucket) SubBucket(key []byte) (*Bucket, error) {
	if b.subs == nil {
		b.subs = make(map[string]*Bucket)
	}
	if cached, ok := b.subs[string(key)]; ok {
		return cached, nil
	}

	rec := b.tree.Get(key)
	switch {
	case rec.Found && !rec.IsBucket:
		return nil, ErrBucketConflict
	case rec.Found && rec.IsBucket:
		child := New(b.deps, rec.BucketRoot)
		b.subs[string(key)] = child
		return child, nil
	default:
		child := New(b.deps, page.InvalidId)
		b.subs[string(key)] = child
		b.tree.InsertBucket(key, page.InvalidId)
		return child, nil
	}
}

// OpenSubBucket opens an existing nested bucket, returning ErrNotFound
// if key is absent and ErrBucketConflict if it holds an ordinary value.
func (b *Bucket) OpenSubBucket(key []byte) (*Bucket, error) {
	if b.subs != nil {
		if cached, ok := b.subs[string(key)]; ok {
			return cached, nil
		}
	}
	rec := b.tree.Get(key)
	if !rec.Found {
		return nil, ErrNotFound
	}
	if !rec.IsBucket {
		return nil, ErrBucketConflict
	}
	if b.subs == nil {
		b.subs = make(map[string]*Bucket)
	}
	child := New(b.deps, rec.BucketRoot)
	b.subs[string(key)] = child
	return child, nil
}

// DeleteSubBucket removes the nested bucket at key entirely. It does
// not recursively free the sub-tree's pages; callers that need that
// should walk the tree before deleting, a limitation shared with the
// reference implementation this is ported from.
func (b *Bucket) DeleteSubBucket(key []byte) error {
	rec := b.tree.Get(key)
	if !rec.Found {
		return ErrNotFound
	}
	if !rec.IsBucket {
		return ErrBucketConflict
	}
	b.tree.Delete(key)
	if b.subs != nil {
		delete(b.subs, string(key))
	}
	return nil
}

// Flush writes back every opened sub-bucket's (possibly changed) root
// page id into this bucket's own tree, then returns this bucket's
// root. Call bottom-up is unnecessary: sub-buckets flush themselves
// recursively.
func (b *Bucket) Flush() page.Id {
	for key, child := range b.subs {
		child.Flush()
		b.tree.InsertBucket([]byte(key), child.Root())
	}
	return b.tree.Root
}

// Scan walks every key >= start in ascending order, skipping
// sub-bucket marker slots.
func (b *Bucket) Scan(start []byte, callback func(key, val []byte) bool) {
	b.tree.Scan(start, func(key []byte, rec btree.Record) bool {
		if rec.IsBucket {
			return true
		}
		return callback(key, rec.Value)
	})
}

// Cursor returns a fresh iterator over the bucket's current tree. Seek
// it to the first key with SeekLE(nil) for a begin-style traversal;
// Valid reports false once it runs past the last key (end).
func (b *Bucket) Cursor() *btree.Iterator {
	return b.tree.NewIterator()
}
