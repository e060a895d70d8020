package index

import (
	"github.com/pkg/errors"

	"coredb/storage/page"
)

// Remove deletes key if present, rebalancing the tree via
// redistribution or coalescing with a sibling when a node underflows
// (spec.md §4.5/§3's minimum occupancy rule), collapsing the root when
// it is left with a single child.
//
// A coalesce unlinks a sibling (or, at the root, the emptied root
// itself) from the tree before the cascading rebalance above it has
// run, so its page id is staged in a deleted-page set rather than
// deallocated on the spot; the whole set is only actually freed once
// Remove has completed successfully (original_source/bustub's
// AddIntoDeletedPageSet / post-completion DeletePage sweep), so a
// failure partway through a multi-level rebalance can never have
// already deleted the pages the failed operation unlinked.
func (t *BPlusTree) Remove(key []byte) (bool, error) {
	leaf, stack, err := t.descend(key, OpDelete)
	if err != nil {
		if errors.Is(err, errEmptyTree) {
			return false, nil
		}
		return false, err
	}
	l := asLeaf(leaf)

	idx := l.KeyIndex(key, t.cmp)
	if idx < 0 {
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), false)
		t.releaseAncestors(stack, true)
		return false, nil
	}
	l.RemoveAt(idx)
	l.MarkDirty()

	if l.IsRoot() {
		if l.Size() == 0 {
			l.pg.Latch().Unlock()
			t.bp.UnpinPage(l.pg.ID(), false)
			deleted := []page.ID{l.pg.ID()}
			t.rootID = page.NoPage
			t.releaseAncestors(stack, true)
			if err := t.persistRoot(page.NoPage); err != nil {
				return true, err
			}
			t.commitDeletedPages(deleted)
			return true, nil
		}
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), true)
		t.releaseAncestors(stack, true)
		return true, nil
	}

	if l.Size() >= l.MinSize() {
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), true)
		t.releaseAncestors(stack, true)
		return true, nil
	}

	var deleted []page.ID
	if err := t.rebalanceLeaf(l, stack, &deleted); err != nil {
		return true, err
	}
	t.commitDeletedPages(deleted)
	return true, nil
}

// commitDeletedPages deallocates pages staged by a coalesce, called
// only once the Remove that staged them has returned successfully.
func (t *BPlusTree) commitDeletedPages(ids []page.ID) {
	for _, id := range ids {
		t.bp.DeletePage(id)
	}
}

// rebalanceLeaf restores l's minimum occupancy by borrowing an entry
// from a sibling or, failing that, merging with one. The nearest
// latched ancestor in stack is l's parent; a grandparent chain above
// it, if still held, propagates further as needed.
func (t *BPlusTree) rebalanceLeaf(l leafNode, stack []ancestor, deleted *[]page.ID) error {
	top := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	parent := asInternal(top.pg)
	myIdx := parent.IndexOfChild(l.pg.ID())

	if myIdx > 0 {
		leftID := parent.ChildAt(myIdx - 1)
		leftPg, err := t.fetchNode(leftID)
		if err != nil {
			return err
		}
		leftPg.pg.Latch().Lock()
		ll := asLeaf(leftPg)

		if ll.Size() > ll.MinSize() {
			k, v := ll.KeyAt(ll.Size()-1), ll.ValueAt(ll.Size()-1)
			ll.RemoveAt(ll.Size() - 1)
			l.InsertAt(0, k, v)
			ll.MarkDirty()
			l.MarkDirty()
			parent.setEntry(myIdx, l.KeyAt(0), parent.ChildAt(myIdx))
			parent.MarkDirty()

			leftPg.pg.Latch().Unlock()
			t.bp.UnpinPage(leftID, true)
			l.pg.Latch().Unlock()
			t.bp.UnpinPage(l.pg.ID(), true)
			parent.pg.Latch().Unlock()
			t.bp.UnpinPage(parent.pg.ID(), true)
			t.releaseAncestors(rest, true)
			return nil
		}

		for i := 0; i < l.Size(); i++ {
			ll.InsertAt(ll.Size(), l.KeyAt(i), l.ValueAt(i))
		}
		ll.SetNextLeafID(l.NextLeafID())
		ll.MarkDirty()

		leftPg.pg.Latch().Unlock()
		t.bp.UnpinPage(leftID, true)
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), false)
		*deleted = append(*deleted, l.pg.ID())

		parent.RemoveAt(myIdx)
		parent.MarkDirty()
		return t.finishParentAfterChildRemoval(parent, rest, deleted)
	}

	rightID := parent.ChildAt(myIdx + 1)
	rightPg, err := t.fetchNode(rightID)
	if err != nil {
		return err
	}
	rightPg.pg.Latch().Lock()
	rl := asLeaf(rightPg)

	if rl.Size() > rl.MinSize() {
		k, v := rl.KeyAt(0), rl.ValueAt(0)
		rl.RemoveAt(0)
		l.InsertAt(l.Size(), k, v)
		rl.MarkDirty()
		l.MarkDirty()
		parent.setEntry(myIdx+1, rl.KeyAt(0), parent.ChildAt(myIdx+1))
		parent.MarkDirty()

		rightPg.pg.Latch().Unlock()
		t.bp.UnpinPage(rightID, true)
		l.pg.Latch().Unlock()
		t.bp.UnpinPage(l.pg.ID(), true)
		parent.pg.Latch().Unlock()
		t.bp.UnpinPage(parent.pg.ID(), true)
		t.releaseAncestors(rest, true)
		return nil
	}

	for i := 0; i < rl.Size(); i++ {
		l.InsertAt(l.Size(), rl.KeyAt(i), rl.ValueAt(i))
	}
	l.SetNextLeafID(rl.NextLeafID())
	l.MarkDirty()

	rightPg.pg.Latch().Unlock()
	t.bp.UnpinPage(rightID, false)
	*deleted = append(*deleted, rightID)
	l.pg.Latch().Unlock()
	t.bp.UnpinPage(l.pg.ID(), true)

	parent.RemoveAt(myIdx + 1)
	parent.MarkDirty()
	return t.finishParentAfterChildRemoval(parent, rest, deleted)
}

// finishParentAfterChildRemoval releases parent if it is still within
// bounds (or is the root, which tolerates any occupancy down to a
// single child before collapsing), else rebalances it in turn.
func (t *BPlusTree) finishParentAfterChildRemoval(parent internalNode, rest []ancestor, deleted *[]page.ID) error {
	if parent.IsRoot() {
		if parent.Size() == 1 {
			onlyChild := parent.ChildAt(0)
			parent.pg.Latch().Unlock()
			t.bp.UnpinPage(parent.pg.ID(), false)
			*deleted = append(*deleted, parent.pg.ID())

			if err := t.reparentChild(onlyChild, page.NoPage); err != nil {
				t.releaseAncestors(rest, true)
				return err
			}
			t.rootID = onlyChild
			t.releaseAncestors(rest, true)
			return t.persistRoot(onlyChild)
		}
		parent.pg.Latch().Unlock()
		t.bp.UnpinPage(parent.pg.ID(), true)
		t.releaseAncestors(rest, true)
		return nil
	}

	if parent.Size() >= parent.MinSize() {
		parent.pg.Latch().Unlock()
		t.bp.UnpinPage(parent.pg.ID(), true)
		t.releaseAncestors(rest, true)
		return nil
	}

	return t.rebalanceInternal(parent, rest, deleted)
}

// rebalanceInternal is rebalanceLeaf's counterpart for an internal
// node: the "first child carries no key" convention means a borrowed
// or absorbed entry's key comes from (or becomes) the separating key
// held by the grandparent, not from the sibling itself.
func (t *BPlusTree) rebalanceInternal(in internalNode, stack []ancestor, deleted *[]page.ID) error {
	top := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	parent := asInternal(top.pg)
	myIdx := parent.IndexOfChild(in.pg.ID())

	if myIdx > 0 {
		leftID := parent.ChildAt(myIdx - 1)
		leftPg, err := t.fetchNode(leftID)
		if err != nil {
			return err
		}
		leftPg.pg.Latch().Lock()
		lin := asInternal(leftPg)

		if lin.Size() > lin.MinSize() {
			movedChild := lin.ChildAt(lin.Size() - 1)
			newSeparator := lin.KeyAt(lin.Size() - 1)
			lin.RemoveAt(lin.Size() - 1)

			oldFirst := in.ChildAt(0)
			in.InsertAt(1, parent.KeyAt(myIdx), oldFirst)
			in.SetFirstChild(movedChild)
			lin.MarkDirty()
			in.MarkDirty()
			parent.setEntry(myIdx, newSeparator, parent.ChildAt(myIdx))
			parent.MarkDirty()

			if err := t.reparentChild(movedChild, in.pg.ID()); err != nil {
				return err
			}

			leftPg.pg.Latch().Unlock()
			t.bp.UnpinPage(leftID, true)
			in.pg.Latch().Unlock()
			t.bp.UnpinPage(in.pg.ID(), true)
			parent.pg.Latch().Unlock()
			t.bp.UnpinPage(parent.pg.ID(), true)
			t.releaseAncestors(rest, true)
			return nil
		}

		sep := parent.KeyAt(myIdx)
		lin.InsertAt(lin.Size(), sep, in.ChildAt(0))
		for i := 1; i < in.Size(); i++ {
			lin.InsertAt(lin.Size(), in.KeyAt(i), in.ChildAt(i))
		}
		lin.MarkDirty()
		for i := 0; i < in.Size(); i++ {
			if err := t.reparentChild(in.ChildAt(i), leftID); err != nil {
				return err
			}
		}

		leftPg.pg.Latch().Unlock()
		t.bp.UnpinPage(leftID, true)
		in.pg.Latch().Unlock()
		t.bp.UnpinPage(in.pg.ID(), false)
		*deleted = append(*deleted, in.pg.ID())

		parent.RemoveAt(myIdx)
		parent.MarkDirty()
		return t.finishParentAfterChildRemoval(parent, rest, deleted)
	}

	rightID := parent.ChildAt(myIdx + 1)
	rightPg, err := t.fetchNode(rightID)
	if err != nil {
		return err
	}
	rightPg.pg.Latch().Lock()
	rin := asInternal(rightPg)

	if rin.Size() > rin.MinSize() {
		movedChild := rin.ChildAt(0)
		newSeparator := parent.KeyAt(myIdx + 1)
		nextSeparator := rin.KeyAt(1)
		rin.SetFirstChild(rin.ChildAt(1))
		for i := 1; i < rin.Size()-1; i++ {
			rin.setEntry(i, rin.KeyAt(i+1), rin.ChildAt(i+1))
		}
		rin.setSize(rin.Size() - 1)
		rin.MarkDirty()

		in.InsertAt(in.Size(), newSeparator, movedChild)
		in.MarkDirty()
		parent.setEntry(myIdx+1, nextSeparator, parent.ChildAt(myIdx+1))
		parent.MarkDirty()

		if err := t.reparentChild(movedChild, in.pg.ID()); err != nil {
			return err
		}

		rightPg.pg.Latch().Unlock()
		t.bp.UnpinPage(rightID, true)
		in.pg.Latch().Unlock()
		t.bp.UnpinPage(in.pg.ID(), true)
		parent.pg.Latch().Unlock()
		t.bp.UnpinPage(parent.pg.ID(), true)
		t.releaseAncestors(rest, true)
		return nil
	}

	sep := parent.KeyAt(myIdx + 1)
	in.InsertAt(in.Size(), sep, rin.ChildAt(0))
	for i := 1; i < rin.Size(); i++ {
		in.InsertAt(in.Size(), rin.KeyAt(i), rin.ChildAt(i))
	}
	in.MarkDirty()
	for i := 0; i < rin.Size(); i++ {
		if err := t.reparentChild(rin.ChildAt(i), in.pg.ID()); err != nil {
			return err
		}
	}

	rightPg.pg.Latch().Unlock()
	t.bp.UnpinPage(rightID, false)
	*deleted = append(*deleted, rightID)
	in.pg.Latch().Unlock()
	t.bp.UnpinPage(in.pg.ID(), true)

	parent.RemoveAt(myIdx + 1)
	parent.MarkDirty()
	return t.finishParentAfterChildRemoval(parent, rest, deleted)
}
