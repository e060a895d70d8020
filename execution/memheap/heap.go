// Package memheap is a minimal in-memory TableHeap/Catalog, just
// enough to drive execution/exec's tests and the demo command. It is
// not a reimplementation of the teacher's disk-backed heap file or
// catalog subsystems (storage_engine/catalog, heapfile_manager) —
// those persist rows to pages on disk; this package trades that away
// for a slice-backed store so executor tests don't need a running
// buffer pool.
package memheap

import (
	"sync"

	"github.com/pkg/errors"

	"coredb/types"
)

var ErrTupleNotFound = errors.New("memheap: tuple not found")

// slot holds one tuple plus its tombstone state, at a stable RID.
type slot struct {
	tuple   types.Tuple
	deleted bool
}

// Heap is a slice-backed types.TableHeap: inserts append, deletes
// tombstone in place, and the iterator skips tombstoned slots — the
// same contract storage_engine's slotted pages give callers, minus
// the page boundary.
type Heap struct {
	mu      sync.Mutex
	pageID  int64
	slots   []slot
}

func NewHeap(pageID int64) *Heap {
	return &Heap{pageID: pageID}
}

func (h *Heap) InsertTuple(t types.Tuple) (types.RID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rid := types.RID{PageID: h.pageID, Slot: uint32(len(h.slots))}
	h.slots = append(h.slots, slot{tuple: t.Clone()})
	return rid, nil
}

func (h *Heap) MarkDelete(rid types.RID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rid.PageID != h.pageID || int(rid.Slot) >= len(h.slots) {
		return ErrTupleNotFound
	}
	h.slots[rid.Slot].deleted = true
	return nil
}

func (h *Heap) GetTuple(rid types.RID) (types.Tuple, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rid.PageID != h.pageID || int(rid.Slot) >= len(h.slots) || h.slots[rid.Slot].deleted {
		return types.Tuple{}, ErrTupleNotFound
	}
	return h.slots[rid.Slot].tuple.Clone(), nil
}

func (h *Heap) Iterator() types.HeapIterator {
	h.mu.Lock()
	snapshot := make([]slot, len(h.slots))
	copy(snapshot, h.slots)
	h.mu.Unlock()
	return &heapIterator{pageID: h.pageID, slots: snapshot}
}

type heapIterator struct {
	pageID int64
	slots  []slot
	pos    int
}

func (it *heapIterator) Next() (types.Tuple, types.RID, bool) {
	for it.pos < len(it.slots) {
		s := it.slots[it.pos]
		rid := types.RID{PageID: it.pageID, Slot: uint32(it.pos)}
		it.pos++
		if s.deleted {
			continue
		}
		return s.tuple.Clone(), rid, true
	}
	return types.Tuple{}, types.RID{}, false
}

func (it *heapIterator) Close() {}
