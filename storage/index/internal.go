package index

import (
	"coredb/storage/page"
	"coredb/types"
)

// internalNode is a node known to be an internal page: pairs
// (key, child-page-id) where the zeroth key is invalid and the
// zeroth child covers everything below key[1] (spec.md §3).
type internalNode struct{ node }

func asInternal(n node) internalNode { return internalNode{n} }

func initInternal(n node, maxSize int, parent, own page.ID) internalNode {
	n.setType(NodeInternal)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.SetParentID(parent)
	n.setOwnID(own)
	return internalNode{n}
}

func (in internalNode) entryOffset(i int) int { return headerSize + i*internalEntrySize }

func (in internalNode) KeyAt(i int) []byte {
	off := in.entryOffset(i)
	return decodeKey(in.data()[off : off+KeySize])
}

func (in internalNode) ChildAt(i int) page.ID {
	off := in.entryOffset(i)
	return decodeChildID(in.data()[off+KeySize : off+internalEntrySize])
}

func (in internalNode) setEntry(i int, key []byte, child page.ID) {
	off := in.entryOffset(i)
	encodeKey(in.data()[off:off+KeySize], key)
	encodeChildID(in.data()[off+KeySize:off+internalEntrySize], child)
}

// SetFirstChild sets the zeroth slot's child, leaving its key unused.
func (in internalNode) SetFirstChild(child page.ID) {
	in.setEntry(0, nil, child)
}

// ChildIndex returns the index of the child subtree that would
// contain key: the last i such that key[i] <= key, or 0.
func (in internalNode) ChildIndex(key []byte, cmp types.Comparator) int {
	// keys at indices [1, size) are strictly increasing; find the
	// largest i with KeyAt(i) <= key.
	lo, hi := 1, in.Size()-1
	res := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if cmp(in.KeyAt(mid), key) <= 0 {
			res = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return res
}

// ChildPageForKey resolves the child page id that key descends into.
func (in internalNode) ChildPageForKey(key []byte, cmp types.Comparator) page.ID {
	return in.ChildAt(in.ChildIndex(key, cmp))
}

// IndexOfChild returns i such that ChildAt(i) == childID, or -1.
func (in internalNode) IndexOfChild(childID page.ID) int {
	for i := 0; i < in.Size(); i++ {
		if in.ChildAt(i) == childID {
			return i
		}
	}
	return -1
}

// InsertAt shifts entries right and inserts (key, child) at pos >= 1.
func (in internalNode) InsertAt(pos int, key []byte, child page.ID) {
	n := in.Size()
	for i := n; i > pos; i-- {
		in.setEntry(i, in.KeyAt(i-1), in.ChildAt(i-1))
	}
	in.setEntry(pos, key, child)
	in.setSize(n + 1)
}

// RemoveAt deletes the entry at pos, shifting later entries left.
func (in internalNode) RemoveAt(pos int) {
	n := in.Size()
	for i := pos; i < n-1; i++ {
		in.setEntry(i, in.KeyAt(i+1), in.ChildAt(i+1))
	}
	in.setSize(n - 1)
}

// MinSize is spec.md §3's non-root internal lower bound:
// ceil(max/2) children.
func (in internalNode) MinSize() int {
	return ceilDiv(in.MaxSize(), 2)
}
