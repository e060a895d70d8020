package buffer

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"coredb/storage/diskmgr"
	"coredb/storage/page"
)

// BufferPool serves page-id requests out of a fixed pool of frames,
// delegating page I/O to the disk manager and eviction choices to an
// LRU-K replacer (spec.md §4.3). One mutex guards the entire pool —
// per-page content is protected separately by each page's own latch,
// which the pool never touches.
//
// Grounded on the teacher's storage_engine/bufferpool/bufferpool.go
// (fetch/new/unpin/flush/delete shape, free-frame-then-evict
// allocation), reworked to hold true fixed-size frames plus a real
// page-table/free-list pair and an LRU-K replacer instead of the
// teacher's map-of-pages-plus-access-order-slice.
type BufferPool struct {
	mu sync.Mutex

	frames    []*page.Page
	pageTable map[page.ID]FrameID
	freeList  []FrameID
	replacer  *LRUKReplacer
	disk      *diskmgr.DiskManager
	log       logrus.FieldLogger
}

// NewBufferPool allocates poolSize frames backed by disk, evicting via
// LRU-K with history depth k.
func NewBufferPool(poolSize, k int, disk *diskmgr.DiskManager, log logrus.FieldLogger) *BufferPool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	bp := &BufferPool{
		frames:    make([]*page.Page, poolSize),
		pageTable: make(map[page.ID]FrameID, poolSize),
		freeList:  make([]FrameID, poolSize),
		replacer:  NewLRUKReplacer(poolSize, k),
		disk:      disk,
		log:       log.WithField("component", "bufferpool"),
	}
	for i := 0; i < poolSize; i++ {
		bp.frames[i] = page.New(page.NoPage)
		bp.freeList[i] = FrameID(poolSize - 1 - i) // order doesn't matter, just exhaust it
	}
	return bp
}

// NewPage allocates a fresh page id and pins a frame for it, writing
// back any evicted dirty victim first. Returns ok=false if every
// frame is pinned.
func (bp *BufferPool) NewPage() (*page.Page, bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok, err := bp.pickVictimFrame()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	id := bp.disk.AllocatePage()
	pg := bp.frames[frameID]
	pg.Reset(id)
	pg.Pin()

	bp.pageTable[id] = frameID
	bp.replacer.RecordAccess(frameID)
	bp.replacer.SetEvictable(frameID, false)

	bp.log.WithField("page_id", int64(id)).Debug("new page")
	return pg, true, nil
}

// FetchPage returns the page for id, loading it from disk if it is
// not already resident. Returns ok=false if every frame is pinned.
func (bp *BufferPool) FetchPage(id page.ID) (*page.Page, bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameID, resident := bp.pageTable[id]; resident {
		pg := bp.frames[frameID]
		pg.Pin()
		bp.replacer.RecordAccess(frameID)
		bp.replacer.SetEvictable(frameID, false)
		return pg, true, nil
	}

	frameID, ok, err := bp.pickVictimFrame()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	pg := bp.frames[frameID]
	pg.Reset(id)
	if err := bp.disk.ReadPage(id, pg.Data()); err != nil {
		return nil, false, errors.Wrapf(err, "fetch page %d", id)
	}
	pg.Pin()

	bp.pageTable[id] = frameID
	bp.replacer.RecordAccess(frameID)
	bp.replacer.SetEvictable(frameID, false)

	return pg, true, nil
}

// UnpinPage decrements the pin count for id and ORs in isDirty. Once
// the pin count reaches zero the frame becomes evictable. Returns
// false if the page is not resident or was already fully unpinned.
func (bp *BufferPool) UnpinPage(id page.ID, isDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, resident := bp.pageTable[id]
	if !resident {
		return false
	}
	pg := bp.frames[frameID]
	if pg.PinCount() == 0 {
		return false
	}
	pg.Unpin()
	pg.SetDirty(isDirty)
	if pg.PinCount() == 0 {
		bp.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes id to disk unconditionally (independent of pin
// count), clearing the dirty flag. False only if id is not resident.
func (bp *BufferPool) FlushPage(id page.ID) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, resident := bp.pageTable[id]
	if !resident {
		return false, nil
	}
	pg := bp.frames[frameID]
	if err := bp.disk.WritePage(id, pg.Data()); err != nil {
		return false, errors.Wrapf(err, "flush page %d", id)
	}
	pg.ClearDirty()
	return true, nil
}

// FlushAll writes every dirty resident page to disk.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for id, frameID := range bp.pageTable {
		pg := bp.frames[frameID]
		if !pg.IsDirty() {
			continue
		}
		if err := bp.disk.WritePage(id, pg.Data()); err != nil {
			return errors.Wrapf(err, "flush page %d", id)
		}
		pg.ClearDirty()
	}
	return nil
}

// DeletePage removes id from the pool and tells the disk manager to
// deallocate it. True if id was not resident, or if it was resident
// with zero pin count and was freed. False if it is still pinned.
func (bp *BufferPool) DeletePage(id page.ID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, resident := bp.pageTable[id]
	if !resident {
		bp.disk.DeallocatePage(id)
		return true
	}
	pg := bp.frames[frameID]
	if pg.PinCount() > 0 {
		return false
	}

	// Discard without flushing — the page id is about to be recycled
	// (spec.md §9: "the safer policy is to discard without flushing").
	bp.replacer.Remove(frameID)
	pg.Reset(page.NoPage)
	delete(bp.pageTable, id)
	bp.freeList = append(bp.freeList, frameID)
	bp.disk.DeallocatePage(id)
	return true
}

// pickVictimFrame returns a frame to (re)use: the free list first,
// else an LRU-K eviction. If the victim frame holds a dirty page it
// is flushed before reuse. ok=false means the pool is fully pinned.
func (bp *BufferPool) pickVictimFrame() (FrameID, bool, error) {
	if n := len(bp.freeList); n > 0 {
		frameID := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return frameID, true, nil
	}

	frameID, ok := bp.replacer.Evict()
	if !ok {
		return 0, false, nil
	}
	victim := bp.frames[frameID]
	if victim.IsDirty() {
		if err := bp.disk.WritePage(victim.ID(), victim.Data()); err != nil {
			return 0, false, errors.Wrapf(err, "writeback victim page %d", victim.ID())
		}
	}
	delete(bp.pageTable, victim.ID())
	return frameID, true, nil
}
