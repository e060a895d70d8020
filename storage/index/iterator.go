package index

import (
	"coredb/storage/page"
	"coredb/types"
)

// Iterator walks the leaf chain in key order, holding a read latch on
// exactly one leaf page at a time. On leaving a leaf it releases that
// leaf's latch and pin first and only then fetches and latches the
// next leaf, so no latch is handed from one leaf to the next.
type Iterator struct {
	tree *BPlusTree
	leaf leafNode
	pos  int
	done bool
}

// Begin opens an iterator at the first entry of the tree.
func (t *BPlusTree) Begin() (*Iterator, error) {
	return t.BeginAt(nil)
}

// BeginAt opens an iterator positioned at the first entry whose key is
// >= key (or at the very first entry when key is nil).
func (t *BPlusTree) BeginAt(key []byte) (*Iterator, error) {
	t.rootIDLatch.RLock()
	if t.rootID == page.NoPage {
		t.rootIDLatch.RUnlock()
		return &Iterator{tree: t, done: true}, nil
	}

	cur, err := t.fetchNode(t.rootID)
	if err != nil {
		t.rootIDLatch.RUnlock()
		return nil, err
	}
	cur.pg.Latch().RLock()
	t.rootIDLatch.RUnlock()

	for cur.IsInternal() {
		in := asInternal(cur)
		var childID page.ID
		if key == nil {
			childID = in.ChildAt(0)
		} else {
			childID = in.ChildPageForKey(key, t.cmp)
		}
		child, err := t.fetchNode(childID)
		if err != nil {
			cur.pg.Latch().RUnlock()
			t.bp.UnpinPage(cur.pg.ID(), false)
			return nil, err
		}
		child.pg.Latch().RLock()
		cur.pg.Latch().RUnlock()
		t.bp.UnpinPage(cur.pg.ID(), false)
		cur = child
	}

	l := asLeaf(cur)
	pos := 0
	if key != nil {
		pos = l.InsertPosition(key, t.cmp)
	}
	it := &Iterator{tree: t, leaf: l, pos: pos}
	it.skipToValid()
	return it, nil
}

// skipToValid advances across empty/exhausted leaves until pos points
// at a real entry or the chain is exhausted.
func (it *Iterator) skipToValid() {
	for !it.done && it.pos >= it.leaf.Size() {
		next := it.leaf.NextLeafID()
		it.tree.bp.UnpinPage(it.leaf.pg.ID(), false)
		it.leaf.pg.Latch().RUnlock()
		if next == NoLeaf {
			it.done = true
			return
		}
		n, err := it.tree.fetchNode(next)
		if err != nil {
			it.done = true
			return
		}
		n.pg.Latch().RLock()
		it.leaf = asLeaf(n)
		it.pos = 0
	}
}

// Valid reports whether Key/Value refer to a live entry.
func (it *Iterator) Valid() bool { return !it.done }

// Next advances to the following entry. Never itself fails — the
// error return exists to satisfy types.IndexIterator, whose other
// implementations (e.g. a disk-backed variant) may need to surface
// fetch failures.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.pos++
	it.skipToValid()
	return nil
}

// Key returns the current entry's key. Only valid while Valid().
func (it *Iterator) Key() []byte { return it.leaf.KeyAt(it.pos) }

// Value returns the current entry's RID. Only valid while Valid().
func (it *Iterator) Value() types.RID { return it.leaf.ValueAt(it.pos) }

// Close releases the iterator's held leaf latch, if any. Safe to call
// multiple times and on an exhausted iterator.
func (it *Iterator) Close() {
	if it.done {
		return
	}
	it.tree.bp.UnpinPage(it.leaf.pg.ID(), false)
	it.leaf.pg.Latch().RUnlock()
	it.done = true
}
