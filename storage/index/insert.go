package index

import (
	"coredb/storage/page"
	"coredb/types"
)

// Insert adds (key, value) to the tree. Returns false without error if
// key is already present — spec.md §1 scopes this tree to unique keys.
func (t *BPlusTree) Insert(key []byte, value types.RID) (bool, error) {
	leaf, stack, err := t.descend(key, OpInsert)
	if err != nil {
		return false, err
	}
	l := asLeaf(leaf)

	if idx := l.KeyIndex(key, t.cmp); idx >= 0 {
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), false)
		t.releaseAncestors(stack, true)
		return false, nil
	}

	pos := l.InsertPosition(key, t.cmp)
	l.InsertAt(pos, key, value)
	l.MarkDirty()

	if l.Size() <= l.MaxSize()-1 {
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), true)
		t.releaseAncestors(stack, true)
		return true, nil
	}

	newLeaf, splitKey, err := t.splitLeaf(l)
	if err != nil {
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), true)
		t.releaseAncestors(stack, true)
		return false, err
	}
	leftID, rightID := l.pg.ID(), newLeaf.pg.ID()
	l.pg.Latch().Unlock()
	t.bp.UnpinPage(leftID, true)
	t.bp.UnpinPage(rightID, true)

	return true, t.insertIntoParent(stack, leftID, splitKey, rightID)
}

// splitLeaf moves the upper half of l's entries into a freshly
// allocated sibling, splicing it into the leaf chain. The new leaf is
// fully written — and its id only reachable through l's next-leaf
// pointer, set last — before any latch on it is needed, so it is
// never itself latched here.
func (t *BPlusTree) splitLeaf(l leafNode) (leafNode, []byte, error) {
	n, err := t.newPageNode()
	if err != nil {
		return leafNode{}, nil, err
	}
	newLeaf := initLeaf(n, l.MaxSize(), l.ParentID(), n.pg.ID())

	total := l.Size()
	splitAt := ceilDiv(total, 2)
	for i := splitAt; i < total; i++ {
		newLeaf.InsertAt(newLeaf.Size(), l.KeyAt(i), l.ValueAt(i))
	}
	l.setSize(splitAt)
	newLeaf.SetNextLeafID(l.NextLeafID())
	newLeaf.MarkDirty()
	l.SetNextLeafID(newLeaf.pg.ID())
	l.MarkDirty()

	return newLeaf, newLeaf.KeyAt(0), nil
}

// splitInternal is splitLeaf's counterpart for an internal page: the
// middle key is promoted to the parent rather than duplicated, per
// spec.md §3's "the zeroth key is invalid" convention.
func (t *BPlusTree) splitInternal(in internalNode) (internalNode, []byte, error) {
	n, err := t.newPageNode()
	if err != nil {
		return internalNode{}, nil, err
	}
	newIn := initInternal(n, in.MaxSize(), in.ParentID(), n.pg.ID())

	total := in.Size()
	splitAt := ceilDiv(total, 2)
	upKey := in.KeyAt(splitAt)

	newIn.setSize(1)
	newIn.SetFirstChild(in.ChildAt(splitAt))
	for i := splitAt + 1; i < total; i++ {
		newIn.InsertAt(newIn.Size(), in.KeyAt(i), in.ChildAt(i))
	}
	in.setSize(splitAt)
	in.MarkDirty()
	newIn.MarkDirty()

	for i := 0; i < newIn.Size(); i++ {
		if err := t.reparentChild(newIn.ChildAt(i), newIn.pg.ID()); err != nil {
			return internalNode{}, nil, err
		}
	}
	return newIn, upKey, nil
}

// insertIntoParent attaches (splitKey, right) next to left in left's
// parent — the nearest latched ancestor in stack — propagating splits
// upward as far as necessary and creating a new root if left had none.
func (t *BPlusTree) insertIntoParent(stack []ancestor, left page.ID, splitKey []byte, right page.ID) error {
	top := stack[len(stack)-1]
	rest := stack[:len(stack)-1]

	if top.isNil {
		defer t.rootIDLatch.Unlock()
		return t.createNewRoot(left, splitKey, right)
	}

	parent := asInternal(top.pg)
	pos := parent.IndexOfChild(left) + 1
	parent.InsertAt(pos, splitKey, right)
	parent.MarkDirty()
	if err := t.reparentChild(right, parent.pg.ID()); err != nil {
		return err
	}

	if parent.Size() <= parent.MaxSize() {
		parent.pg.Latch().Unlock()
		t.bp.UnpinPage(parent.pg.ID(), true)
		t.releaseAncestors(rest, true)
		return nil
	}

	newInternal, upKey, err := t.splitInternal(parent)
	if err != nil {
		parent.pg.Latch().Unlock()
		t.bp.UnpinPage(parent.pg.ID(), true)
		t.releaseAncestors(rest, true)
		return err
	}
	parentID, newID := parent.pg.ID(), newInternal.pg.ID()
	parent.pg.Latch().Unlock()
	t.bp.UnpinPage(parentID, true)
	t.bp.UnpinPage(newID, true)

	return t.insertIntoParent(rest, parentID, upKey, newID)
}

// createNewRoot builds a fresh internal root over the two halves of a
// split that reached the top of the tree.
func (t *BPlusTree) createNewRoot(left page.ID, splitKey []byte, right page.ID) error {
	n, err := t.newPageNode()
	if err != nil {
		return err
	}
	root := initInternal(n, t.internalMax, page.NoPage, n.pg.ID())
	root.setSize(1)
	root.SetFirstChild(left)
	root.InsertAt(1, splitKey, right)
	root.MarkDirty()
	t.bp.UnpinPage(root.pg.ID(), true)

	if err := t.reparentChild(left, root.pg.ID()); err != nil {
		return err
	}
	if err := t.reparentChild(right, root.pg.ID()); err != nil {
		return err
	}

	t.rootID = root.pg.ID()
	return t.persistRoot(t.rootID)
}

// reparentChild rewrites a child page's parent pointer under its own
// write latch.
func (t *BPlusTree) reparentChild(id, parent page.ID) error {
	n, err := t.fetchNode(id)
	if err != nil {
		return err
	}
	n.pg.Latch().Lock()
	n.SetParentID(parent)
	n.MarkDirty()
	n.pg.Latch().Unlock()
	t.bp.UnpinPage(id, true)
	return nil
}
