package index

import (
	"coredb/storage/page"
	"coredb/types"
)

// leafNode is a node known to be a leaf page: an ordered (key, RID)
// array plus a next-leaf pointer forming the right-going linked list
// of spec.md §3.
type leafNode struct{ node }

func asLeaf(n node) leafNode { return leafNode{n} }

func initLeaf(n node, maxSize int, parent, own page.ID) leafNode {
	n.setType(NodeLeaf)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.SetParentID(parent)
	n.setOwnID(own)
	l := leafNode{n}
	l.SetNextLeafID(NoLeaf)
	return l
}

const NoLeaf = page.NoPage

func (l leafNode) NextLeafID() page.ID {
	return decodeChildID(l.data()[headerSize : headerSize+4])
}

func (l leafNode) SetNextLeafID(id page.ID) {
	encodeChildID(l.data()[headerSize:headerSize+4], id)
}

func (l leafNode) entryOffset(i int) int { return leafHeaderSize + i*leafEntrySize }

func (l leafNode) KeyAt(i int) []byte {
	off := l.entryOffset(i)
	return decodeKey(l.data()[off : off+KeySize])
}

func (l leafNode) ValueAt(i int) types.RID {
	off := l.entryOffset(i)
	return decodeRID(l.data()[off+KeySize : off+leafEntrySize])
}

func (l leafNode) setEntry(i int, key []byte, rid types.RID) {
	off := l.entryOffset(i)
	encodeKey(l.data()[off:off+KeySize], key)
	encodeRID(l.data()[off+KeySize:off+leafEntrySize], rid)
}

// KeyIndex returns the index of key via binary search, or -1.
func (l leafNode) KeyIndex(key []byte, cmp types.Comparator) int {
	lo, hi := 0, l.Size()-1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := cmp(l.KeyAt(mid), key)
		switch {
		case c == 0:
			return mid
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}

// InsertPosition returns the index where key belongs to keep the
// array sorted (lower bound).
func (l leafNode) InsertPosition(key []byte, cmp types.Comparator) int {
	lo, hi := 0, l.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(l.KeyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// InsertAt shifts entries right and inserts (key, rid) at pos.
func (l leafNode) InsertAt(pos int, key []byte, rid types.RID) {
	n := l.Size()
	for i := n; i > pos; i-- {
		l.setEntry(i, l.KeyAt(i-1), l.ValueAt(i-1))
	}
	l.setEntry(pos, key, rid)
	l.setSize(n + 1)
}

// RemoveAt deletes the entry at pos, shifting later entries left.
func (l leafNode) RemoveAt(pos int) {
	n := l.Size()
	for i := pos; i < n-1; i++ {
		l.setEntry(i, l.KeyAt(i+1), l.ValueAt(i+1))
	}
	l.setSize(n - 1)
}

// MinSize is the spec.md §3 lower bound for a non-root leaf:
// ceil((max-1)/2).
func (l leafNode) MinSize() int {
	return ceilDiv(l.MaxSize()-1, 2)
}
