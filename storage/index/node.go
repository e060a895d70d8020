// Package index implements the on-disk, concurrent B+ tree of spec.md
// §4.5 layered on the buffer pool. Node layout follows spec.md §6's
// page header exactly (type tag, LSN, size, max size, parent id, own
// id, leaf-only next-leaf id, then the ordered pair array) and
// spec.md §9's "raw page reinterpretation": pages are read through
// typed accessors over the byte buffer, never through in-place struct
// construction.
//
// Grounded on the teacher's storage_engine/access/indexfile_manager/bplustree
// package (struct.go's NodeType/MaxKeys split, node_to_index_page.go's
// on-page encoding) and on original_source/bustub's b_plus_tree_page
// family for the exact header field order.
package index

import (
	"encoding/binary"

	"coredb/storage/page"
	"coredb/types"
)

// NodeType tags a B+ tree page as spec.md §6 prescribes.
type NodeType uint32

const (
	NodeInvalid  NodeType = 0
	NodeLeaf     NodeType = 1
	NodeInternal NodeType = 2
)

const (
	// KeySize is the fixed on-page width of an encoded key. Variable-
	// length application keys are the comparator's problem (they
	// decide ordering); this module fixes a slot width the way
	// bustub's GenericKey<N> does, sized generously for integer and
	// short composite keys.
	KeySize = 16

	ridSize   = 12 // RID: int64 page id + uint32 slot
	childSize = 4  // child page id, 32-bit per spec.md §3

	// Shared header: type tag, LSN, size, max size, parent id, own id.
	headerSize = 4 + 4 + 4 + 4 + 4 + 4

	// Leaf header adds the next-leaf page id.
	leafHeaderSize = headerSize + 4

	leafEntrySize     = KeySize + ridSize
	internalEntrySize = KeySize + childSize
)

// MaxLeafCapacity and MaxInternalCapacity are the most entries a page
// of this layout can physically hold — an upper bound on any
// constructor-supplied max size.
const (
	MaxLeafCapacity     = (page.Size - leafHeaderSize) / leafEntrySize
	MaxInternalCapacity = (page.Size - headerSize) / internalEntrySize
)

// node is a read/write view over a pinned page's raw bytes, lazily
// decoded field-by-field (spec.md §9: "do not rely on in-place object
// construction"). It never owns the page's pin or latch — callers
// (tree.go) hold those.
type node struct {
	pg *page.Page
}

func newNode(pg *page.Page) node { return node{pg: pg} }

func (n node) data() []byte { return n.pg.Data() }

func (n node) Type() NodeType      { return NodeType(binary.LittleEndian.Uint32(n.data()[0:4])) }
func (n node) setType(t NodeType)  { binary.LittleEndian.PutUint32(n.data()[0:4], uint32(t)) }
func (n node) IsLeaf() bool        { return n.Type() == NodeLeaf }
func (n node) IsInternal() bool    { return n.Type() == NodeInternal }

func (n node) LSN() uint32     { return binary.LittleEndian.Uint32(n.data()[4:8]) }
func (n node) SetLSN(v uint32) { binary.LittleEndian.PutUint32(n.data()[4:8], v) }

func (n node) Size() int        { return int(int32(binary.LittleEndian.Uint32(n.data()[8:12]))) }
func (n node) setSize(v int)    { binary.LittleEndian.PutUint32(n.data()[8:12], uint32(int32(v))) }

func (n node) MaxSize() int     { return int(int32(binary.LittleEndian.Uint32(n.data()[12:16]))) }
func (n node) setMaxSize(v int) { binary.LittleEndian.PutUint32(n.data()[12:16], uint32(int32(v))) }

func (n node) ParentID() page.ID  { return page.ID(int32(binary.LittleEndian.Uint32(n.data()[16:20]))) }
func (n node) SetParentID(id page.ID) {
	binary.LittleEndian.PutUint32(n.data()[16:20], uint32(int32(id)))
}

func (n node) OwnID() page.ID { return page.ID(int32(binary.LittleEndian.Uint32(n.data()[20:24]))) }
func (n node) setOwnID(id page.ID) {
	binary.LittleEndian.PutUint32(n.data()[20:24], uint32(int32(id)))
}

func (n node) IsRoot() bool { return n.ParentID() == page.NoPage }

// encodeKey/decodeKey copy an application key into/out of a fixed
// KeySize slot. Keys longer than KeySize are a caller error — the
// comparator and the key encoding are both the caller's choice.
func encodeKey(dst []byte, key []byte) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, key)
}

func decodeKey(src []byte) []byte {
	// Trim trailing zero padding is NOT safe for keys that legitimately
	// end in zero bytes, so we hand back the full fixed-width slot.
	// Open wraps the caller's comparator so that both of its arguments
	// are zero-padded to KeySize first, which lets a stored key compare
	// equal to the unpadded key it was inserted under.
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

func encodeRID(dst []byte, rid types.RID) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(rid.PageID))
	binary.LittleEndian.PutUint32(dst[8:12], rid.Slot)
}

func decodeRID(src []byte) types.RID {
	return types.RID{
		PageID: int64(binary.LittleEndian.Uint64(src[0:8])),
		Slot:   binary.LittleEndian.Uint32(src[8:12]),
	}
}

func encodeChildID(dst []byte, id page.ID) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(int32(id)))
}

func decodeChildID(src []byte) page.ID {
	return page.ID(int32(binary.LittleEndian.Uint32(src[0:4])))
}
