package index

import (
	"encoding/binary"

	"coredb/storage/page"
)

// headerPage is page 0: a table of (index-name, root-page-id) records
// (spec.md §3, §6). One coredb data file can host several named B+
// trees, each resolving its own root through this page — the
// original_source/bustub index header page this is grounded on does
// the same (index.cpp keys multiple indexes by name off one page).
//
// Layout: uint32 record count, then for each record a uint16 name
// length, the name bytes, and an int32 root page id. Rewritten whole
// on every update — the record set is tiny and this page is never on
// a hot path.
type headerPage struct {
	pg *page.Page
}

func newHeaderPage(pg *page.Page) *headerPage { return &headerPage{pg: pg} }

func (h *headerPage) records() map[string]page.ID {
	data := h.pg.Data()
	out := make(map[string]page.ID)
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		name := string(data[off : off+nameLen])
		off += nameLen
		root := page.ID(int32(binary.LittleEndian.Uint32(data[off : off+4])))
		off += 4
		out[name] = root
	}
	return out
}

func (h *headerPage) RootOf(name string) (page.ID, bool) {
	root, ok := h.records()[name]
	return root, ok
}

func (h *headerPage) SetRoot(name string, root page.ID) {
	recs := h.records()
	recs[name] = root
	h.write(recs)
}

func (h *headerPage) write(recs map[string]page.ID) {
	data := h.pg.Data()
	for i := range data {
		data[i] = 0
	}
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(recs)))
	off := 4
	for name, root := range recs {
		binary.LittleEndian.PutUint16(data[off:off+2], uint16(len(name)))
		off += 2
		copy(data[off:off+len(name)], name)
		off += len(name)
		binary.LittleEndian.PutUint32(data[off:off+4], uint32(int32(root)))
		off += 4
	}
	h.pg.SetDirty(true)
}
