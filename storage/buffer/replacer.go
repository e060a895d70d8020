// Package buffer implements the LRU-K replacer and the buffer pool
// that sits on top of it (spec.md §4.2, §4.3). The replacer is
// grounded on bustub's LRUKReplacer (original_source/bustub at
// project4/src/include/buffer/lru_k_replacer.h): backward k-distance,
// +inf for frames with fewer than k recorded accesses, ties broken by
// earliest overall access. Reworked into idiomatic Go — no shared_ptr
// frame objects, a plain map keyed by frame id, a single mutex.
package buffer

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

// FrameID indexes a slot in the buffer pool, [0, pool_size).
type FrameID int

const infDistance = math.MaxInt64

type frameRecord struct {
	history     []uint64 // bounded to the last K access timestamps
	firstAccess uint64   // earliest timestamp ever recorded for this frame
	evictable   bool
}

// LRUKReplacer selects which resident, evictable frame to reclaim.
// All operations acquire a single mutex (spec.md §4.2 "Internal state
// is guarded by a single mutex").
type LRUKReplacer struct {
	mu               sync.Mutex
	k                int
	replacerSize     int
	currentTimestamp uint64
	frames           map[FrameID]*frameRecord
	size             int // count of evictable entries
}

// NewLRUKReplacer returns a replacer sized for numFrames frames using
// k historical accesses per frame.
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		k:            k,
		replacerSize: numFrames,
		frames:       make(map[FrameID]*frameRecord),
	}
}

// RecordAccess appends the current timestamp to the frame's history.
// Creates a record if the frame is unseen. Aborts (returns an error)
// if frameID is out of the replacer's declared range.
func (r *LRUKReplacer) RecordAccess(frameID FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(frameID) >= r.replacerSize || frameID < 0 {
		return errors.Errorf("buffer: frame id %d out of replacer range [0,%d)", frameID, r.replacerSize)
	}
	r.currentTimestamp++
	rec, ok := r.frames[frameID]
	if !ok {
		rec = &frameRecord{firstAccess: r.currentTimestamp}
		r.frames[frameID] = rec
	}
	rec.history = append(rec.history, r.currentTimestamp)
	if len(rec.history) > r.k {
		rec.history = rec.history[len(rec.history)-r.k:]
	}
	return nil
}

// SetEvictable toggles evictability. No-op if state unchanged or the
// frame is unknown. The replacer's Size() tracks only evictable
// entries, so this increments/decrements it.
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.frames[frameID]
	if !ok {
		return
	}
	if evictable && !rec.evictable {
		rec.evictable = true
		r.size++
	} else if !evictable && rec.evictable {
		rec.evictable = false
		r.size--
	}
}

// Evict returns the victim frame with the largest backward k-distance
// among evictable frames, removing its record. Ties broken by
// earliest overall access. Returns ok=false if nothing is evictable.
func (r *LRUKReplacer) Evict() (frameID FrameID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return 0, false
	}

	var (
		victim       FrameID
		victimDist   int64 = -1
		victimOldest uint64
		found        bool
	)
	for id, rec := range r.frames {
		if !rec.evictable {
			continue
		}
		dist := backwardKDistance(rec, r.currentTimestamp, r.k)
		if !found || dist > victimDist || (dist == victimDist && rec.firstAccess < victimOldest) {
			found = true
			victim = id
			victimDist = dist
			victimOldest = rec.firstAccess
		}
	}
	if !found {
		return 0, false
	}
	delete(r.frames, victim)
	r.size--
	return victim, true
}

// Remove forcibly removes an evictable frame's record (e.g. on page
// deletion). Aborts if the frame is non-evictable; silent if unknown.
func (r *LRUKReplacer) Remove(frameID FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.frames[frameID]
	if !ok {
		return nil
	}
	if !rec.evictable {
		return errors.Errorf("buffer: cannot remove non-evictable frame %d", frameID)
	}
	delete(r.frames, frameID)
	r.size--
	return nil
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func backwardKDistance(rec *frameRecord, now uint64, k int) int64 {
	if len(rec.history) < k {
		return infDistance
	}
	kth := rec.history[len(rec.history)-k]
	return int64(now - kth)
}
