package index

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"coredb/storage/buffer"
	"coredb/storage/page"
	"coredb/types"
)

// Operation distinguishes the safety rule applied while crabbing down
// the tree (spec.md §4.5).
type Operation int

const (
	OpSearch Operation = iota
	OpInsert
	OpDelete
)

// ErrOutOfMemory mirrors spec.md §7's OutOfMemory abort reason: the
// buffer pool could not supply a page for a split/new node.
var ErrOutOfMemory = errors.New("index: buffer pool out of memory")

// BPlusTree is a concurrent, crab-latched B+ tree over the buffer
// pool, keyed by a caller-supplied comparator over opaque byte keys.
// Supports only unique keys (spec.md §1 Non-goals).
//
// Grounded on the teacher's storage_engine/access/indexfile_manager/bplustree
// (single-mutex version) generalized to latch crabbing per
// original_source/bustub's b_plus_tree.cpp FindLeafPageCon/Context
// pattern: a root-id reader-writer latch plus per-page latches, an
// ancestor stack released in one sweep once a node is "safe".
type BPlusTree struct {
	name string
	bp   *buffer.BufferPool
	cmp  types.Comparator

	leafMax     int
	internalMax int

	rootIDLatch sync.RWMutex
	rootID      page.ID // page.NoPage when the tree is empty

	log logrus.FieldLogger
}

// Open loads (or creates) the named index's root pointer from the
// header page at page.HeaderPageID.
func Open(name string, bp *buffer.BufferPool, cmp types.Comparator, leafMax, internalMax int, log logrus.FieldLogger) (*BPlusTree, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if leafMax > MaxLeafCapacity || leafMax < 3 {
		return nil, errors.Errorf("index: leaf max size %d out of range [3,%d]", leafMax, MaxLeafCapacity)
	}
	if internalMax > MaxInternalCapacity || internalMax < 3 {
		return nil, errors.Errorf("index: internal max size %d out of range [3,%d]", internalMax, MaxInternalCapacity)
	}

	// Stored keys come back from their slots zero-padded to KeySize, so
	// both sides are padded the same way before cmp sees them; a stored
	// key then compares equal to the key it was inserted under.
	padded := func(k []byte) []byte {
		p := make([]byte, KeySize)
		copy(p, k)
		return p
	}
	t := &BPlusTree{
		name:        name,
		bp:          bp,
		cmp:         func(a, b []byte) int { return cmp(padded(a), padded(b)) },
		leafMax:     leafMax,
		internalMax: internalMax,
		rootID:      page.NoPage,
		log:         log.WithFields(logrus.Fields{"component": "bplustree", "index": name}),
	}

	hp, ok, err := bp.FetchPage(page.HeaderPageID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch header page")
	}
	if !ok {
		return nil, errors.Wrap(ErrOutOfMemory, "open index")
	}
	defer bp.UnpinPage(page.HeaderPageID, false)
	if root, found := newHeaderPage(hp).RootOf(name); found {
		t.rootID = root
	}
	return t, nil
}

// IsEmpty reports whether the tree currently has no keys.
func (t *BPlusTree) IsEmpty() bool {
	t.rootIDLatch.RLock()
	defer t.rootIDLatch.RUnlock()
	return t.rootID == page.NoPage
}

func (t *BPlusTree) persistRoot(root page.ID) error {
	hp, ok, err := t.bp.FetchPage(page.HeaderPageID)
	if err != nil {
		return errors.Wrap(err, "fetch header page")
	}
	if !ok {
		return errors.Wrap(ErrOutOfMemory, "persist root")
	}
	defer t.bp.UnpinPage(page.HeaderPageID, true)
	newHeaderPage(hp).SetRoot(t.name, root)
	return nil
}

func (n node) MarkDirty() { n.pg.SetDirty(true) }

func (t *BPlusTree) fetchNode(id page.ID) (node, error) {
	pg, ok, err := t.bp.FetchPage(id)
	if err != nil {
		return node{}, errors.Wrapf(err, "fetch page %d", id)
	}
	if !ok {
		return node{}, errors.Wrap(ErrOutOfMemory, "fetch node")
	}
	return newNode(pg), nil
}

func (t *BPlusTree) newPageNode() (node, error) {
	pg, ok, err := t.bp.NewPage()
	if err != nil {
		return node{}, errors.Wrap(err, "allocate page")
	}
	if !ok {
		return node{}, errors.Wrap(ErrOutOfMemory, "allocate node")
	}
	return newNode(pg), nil
}

func (t *BPlusTree) unpin(n node, dirty bool) {
	if dirty {
		n.MarkDirty()
	}
	t.bp.UnpinPage(n.pg.ID(), dirty)
}

// ancestor is one entry in the crabbing page-set: either a latched
// page, or the sentinel (pg == nil) standing for the root-id latch
// itself (spec.md §4.5: "Ancestors in the page-set carry a sentinel").
type ancestor struct {
	pg    node
	isNil bool
}

func sentinelAncestor() ancestor { return ancestor{isNil: true} }

// releaseAncestors unwinds the page-set in the inverse of its
// acquisition order — a single sweep, per spec.md §4.5/§5.
func (t *BPlusTree) releaseAncestors(stack []ancestor, write bool) {
	for i := len(stack) - 1; i >= 0; i-- {
		a := stack[i]
		if a.isNil {
			if write {
				t.rootIDLatch.Unlock()
			} else {
				t.rootIDLatch.RUnlock()
			}
			continue
		}
		if write {
			a.pg.pg.Latch().Unlock()
		} else {
			a.pg.pg.Latch().RUnlock()
		}
		t.bp.UnpinPage(a.pg.pg.ID(), false)
	}
}

func isSafe(n node, op Operation) bool {
	switch op {
	case OpInsert:
		if n.IsLeaf() {
			return n.Size() < n.MaxSize()-1
		}
		return n.Size() < n.MaxSize()
	case OpDelete:
		if n.IsRoot() {
			// The root has no externally imposed minimum, but losing
			// entries can still force a rootID change (leaf root
			// emptying out, or internal root collapsing to its sole
			// child) — that mutates the root-id cell, so the
			// root-id latch must stay held unless a single removal
			// provably cannot trigger it.
			if n.IsLeaf() {
				return n.Size() > 1
			}
			return n.Size() > 2
		}
		min := asLeaf(n).MinSize()
		if n.IsInternal() {
			min = asInternal(n).MinSize()
		}
		return n.Size() > min
	default:
		return true
	}
}

// descend crabs from the root-id latch down to the leaf that would
// hold key, applying op's safety rule to decide how much of the
// ancestor chain to keep latched. Returns the leaf (still pinned and
// latched) and whatever ancestors remain held.
func (t *BPlusTree) descend(key []byte, op Operation) (leaf node, stack []ancestor, err error) {
	write := op != OpSearch
	if write {
		t.rootIDLatch.Lock()
	} else {
		t.rootIDLatch.RLock()
	}
	stack = append(stack, sentinelAncestor())

	if t.rootID == page.NoPage {
		if op != OpInsert {
			t.releaseAncestors(stack, write)
			return node{}, nil, errEmptyTree
		}
		root, err := t.newPageNode()
		if err != nil {
			t.releaseAncestors(stack, write)
			return node{}, nil, err
		}
		initLeaf(root, t.leafMax, page.NoPage, root.pg.ID())
		root.MarkDirty()
		t.rootID = root.pg.ID()
		if perr := t.persistRoot(t.rootID); perr != nil {
			t.releaseAncestors(stack, write)
			return node{}, nil, perr
		}
		root.pg.Latch().Lock()
		if isSafe(root, op) {
			// A brand-new leaf root is always safe for the insert that
			// just created it: release the sentinel now instead of
			// holding it for the rest of the operation.
			t.releaseAncestors(stack, write)
			stack = stack[:0]
		}
		return root, stack, nil
	}

	cur, err := t.fetchNode(t.rootID)
	if err != nil {
		t.releaseAncestors(stack, write)
		return node{}, nil, err
	}
	if write {
		cur.pg.Latch().Lock()
	} else {
		cur.pg.Latch().RLock()
	}
	if !write && cur.IsLeaf() {
		// A single-level tree: the root is already the target leaf, so
		// the sentinel is never needed beyond this fetch — release it
		// now rather than holding it for the whole read, mirroring the
		// release already done for deeper levels below.
		t.releaseAncestors(stack, false)
		stack = stack[:0]
	}

	for {
		if write && isSafe(cur, op) {
			t.releaseAncestors(stack, write)
			stack = stack[:0]
		}
		if cur.IsLeaf() {
			return cur, stack, nil
		}
		in := asInternal(cur)
		childID := in.ChildPageForKey(key, t.cmp)
		child, err := t.fetchNode(childID)
		if err != nil {
			stack = append(stack, ancestor{pg: cur})
			t.releaseAncestors(stack, write)
			return node{}, nil, err
		}
		if write {
			child.pg.Latch().Lock()
		} else {
			child.pg.Latch().RLock()
		}
		stack = append(stack, ancestor{pg: cur})
		if !write {
			// Read descent never needs more than the immediate
			// parent latched (spec.md §4.5 "Search: ... latch child
			// read before releasing parent"): release it right away.
			t.releaseAncestors(stack, false)
			stack = stack[:0]
		}
		cur = child
	}
}

var errEmptyTree = errors.New("index: tree is empty")

// Get performs a point lookup, returning the value and true if key is
// present.
func (t *BPlusTree) Get(key []byte) (types.RID, bool, error) {
	leaf, stack, err := t.descend(key, OpSearch)
	if err != nil {
		if errors.Is(err, errEmptyTree) {
			return types.RID{}, false, nil
		}
		return types.RID{}, false, err
	}
	defer func() {
		leaf.pg.Latch().RUnlock()
		t.bp.UnpinPage(leaf.pg.ID(), false)
		t.releaseAncestors(stack, false)
	}()

	l := asLeaf(leaf)
	idx := l.KeyIndex(key, t.cmp)
	if idx < 0 {
		return types.RID{}, false, nil
	}
	return l.ValueAt(idx), true, nil
}
