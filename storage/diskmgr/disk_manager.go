// Package diskmgr translates (page id, direction) into byte-range file
// I/O against a single data file, mirroring spec.md §4.1. Grounded on
// the teacher's storage_engine/disk_manager/main.go (ReadAt/WriteAt
// against an *os.File, a monotonic page-id counter) but simplified to
// the single-file layout spec.md §6 describes — no per-table file
// multiplexing, since that lives in the out-of-scope catalog.
package diskmgr

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"coredb/storage/page"
)

// DiskManager owns one OS file handle and the page-id allocator.
// Calls are serialized internally (spec.md §4.1 "Concurrency").
type DiskManager struct {
	mu         sync.Mutex
	file       *os.File
	nextPageID page.ID
	log        logrus.FieldLogger
}

// Open opens or creates the backing file at path. Page 0, the header
// page, is implicitly allocated: the allocator starts handing out ids
// from 1 so callers never have to special-case it.
func Open(path string, log logrus.FieldLogger) (*DiskManager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open data file %q", path)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat data file")
	}
	pages := stat.Size() / page.Size
	next := page.ID(pages)
	if next < 1 {
		next = 1
	}
	return &DiskManager{
		file:       f,
		nextPageID: next,
		log:        log.WithField("component", "diskmgr"),
	}, nil
}

// ReadPage fills buf (must be page.Size bytes) with the page's
// contents. Undefined (zero) data for never-written pages.
func (dm *DiskManager) ReadPage(id page.ID, buf []byte) error {
	if len(buf) != page.Size {
		return errors.New("diskmgr: buffer must be exactly one page")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	off := int64(id) * page.Size
	n, err := dm.file.ReadAt(buf, off)
	if err != nil && n == 0 {
		// Never-written page: leave buf zeroed, as if freshly allocated.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage persists buf at the page's offset.
func (dm *DiskManager) WritePage(id page.ID, buf []byte) error {
	if len(buf) != page.Size {
		return errors.New("diskmgr: buffer must be exactly one page")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	off := int64(id) * page.Size
	if _, err := dm.file.WriteAt(buf, off); err != nil {
		return errors.Wrapf(err, "write page %d", id)
	}
	return nil
}

// AllocatePage returns a previously unused page id. A simple
// monotonic counter, as spec.md §4.1 allows.
func (dm *DiskManager) AllocatePage() page.ID {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	id := dm.nextPageID
	dm.nextPageID++
	dm.log.WithField("page_id", int64(id)).Debug("allocated page")
	return id
}

// DeallocatePage marks the id free. This implementation has no free
// list to return it to — it is a documented no-op, as spec.md §4.1
// permits ("may be a no-op").
func (dm *DiskManager) DeallocatePage(id page.ID) {
	dm.log.WithField("page_id", int64(id)).Debug("deallocated page (no-op)")
}

// Shutdown flushes and closes the file handle.
func (dm *DiskManager) Shutdown() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		return errors.Wrap(err, "sync data file")
	}
	return errors.Wrap(dm.file.Close(), "close data file")
}
