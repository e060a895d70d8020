package lockmgr

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"coredb/types"
)

type rowKey struct {
	table types.TableOID
	rid   types.RID
}

// LockManager coordinates concurrent access to tables and rows via
// two-phase locking with an intention hierarchy (spec.md §4.6).
// Grounded on original_source/bustub's LockManager: separate
// table/row queue maps, each behind its own short-held map mutex
// (spec.md §5's "map-level locks are taken only long enough to look
// up or create a queue entry").
type LockManager struct {
	tableMapMu  sync.Mutex
	tableQueues map[types.TableOID]*lockQueue

	rowMapMu  sync.Mutex
	rowQueues map[rowKey]*lockQueue

	nextTxnID atomic.Int64
	log       logrus.FieldLogger

	stopDetector chan struct{}
	detectorDone chan struct{}
}

// New creates a lock manager with no background deadlock detector
// running — call StartDeadlockDetector to enable one.
func New(log logrus.FieldLogger) *LockManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LockManager{
		tableQueues: make(map[types.TableOID]*lockQueue),
		rowQueues:   make(map[rowKey]*lockQueue),
		log:         log.WithField("component", "lockmgr"),
	}
}

// Begin mints a new transaction with a monotonically increasing id —
// higher ids are younger, per spec.md §3.
func (lm *LockManager) Begin(isolation IsolationLevel) *Transaction {
	id := TxnID(lm.nextTxnID.Add(1))
	return NewTransaction(id, isolation)
}

func (lm *LockManager) tableQueueFor(oid types.TableOID) *lockQueue {
	lm.tableMapMu.Lock()
	q, ok := lm.tableQueues[oid]
	if !ok {
		q = newLockQueue()
		lm.tableQueues[oid] = q
	}
	lm.tableMapMu.Unlock()
	return q
}

func (lm *LockManager) rowQueueFor(oid types.TableOID, rid types.RID) *lockQueue {
	key := rowKey{oid, rid}
	lm.rowMapMu.Lock()
	q, ok := lm.rowQueues[key]
	if !ok {
		q = newLockQueue()
		lm.rowQueues[key] = q
	}
	lm.rowMapMu.Unlock()
	return q
}

// LockTable acquires mode on oid for txn, blocking until granted,
// denied by an isolation/lifecycle rule, or the transaction becomes a
// deadlock victim while waiting.
func (lm *LockManager) LockTable(txn *Transaction, mode LockMode, oid types.TableOID) error {
	if err := lm.checkLockPreconditions(txn, mode); err != nil {
		return err
	}

	q := lm.tableQueueFor(oid)
	q.mu.Lock()

	if existing := findRequest(q, txn); existing != nil && existing.granted {
		if existing.mode == mode {
			q.mu.Unlock()
			return nil
		}
		return lm.upgrade(txn, q, existing, mode, func() { lm.recordTableGrant(txn, mode, oid) }, func() { txn.removeTableLock(existing.mode, oid) })
	}

	req := &lockRequest{txn: txn, mode: mode}
	q.requests = append(q.requests, req)
	return lm.waitAndGrant(txn, q, req, func() { lm.recordTableGrant(txn, mode, oid) })
}

// UnlockTable releases txn's lock on oid. The transaction must hold no
// row locks under oid (spec.md §4.6.5).
func (lm *LockManager) UnlockTable(txn *Transaction, oid types.TableOID) error {
	if txn.hasAnyRowLocksUnder(oid) {
		txn.SetState(Aborted)
		return ErrTableUnlockedBeforeUnlockingRows
	}

	q := lm.tableQueueFor(oid)
	q.mu.Lock()
	req := findRequest(q, txn)
	if req == nil || !req.granted {
		q.mu.Unlock()
		txn.SetState(Aborted)
		return ErrAttemptedUnlockButNoLockHeld
	}
	removeRequest(q, req)
	q.cond.Broadcast()
	q.mu.Unlock()

	txn.removeTableLock(req.mode, oid)
	lm.maybeShrink(txn, req.mode)
	return nil
}

// LockRow acquires mode on (oid, rid) for txn. Intention modes are
// forbidden on rows; X requires the table already be held in
// X/IX/SIX, S requires any table mode (spec.md §4.6.5).
func (lm *LockManager) LockRow(txn *Transaction, mode LockMode, oid types.TableOID, rid types.RID) error {
	if mode == IntentionShared || mode == IntentionExclusive || mode == SharedIntentionExclusive {
		txn.SetState(Aborted)
		return ErrAttemptedIntentionLockOnRow
	}
	if err := lm.checkLockPreconditions(txn, mode); err != nil {
		return err
	}

	tableMode, holdsTable := txn.holdsAnyTableLock(oid)
	if mode == Exclusive {
		if !holdsTable || (tableMode != Exclusive && tableMode != IntentionExclusive && tableMode != SharedIntentionExclusive) {
			txn.SetState(Aborted)
			return ErrTableLockNotPresent
		}
	} else if !holdsTable {
		txn.SetState(Aborted)
		return ErrTableLockNotPresent
	}

	q := lm.rowQueueFor(oid, rid)
	q.mu.Lock()

	if existing := findRequest(q, txn); existing != nil && existing.granted {
		if existing.mode == mode {
			q.mu.Unlock()
			return nil
		}
		return lm.upgrade(txn, q, existing, mode, func() { lm.recordRowGrant(txn, mode, oid, rid) }, func() { txn.removeRowLock(existing.mode, oid, rid) })
	}

	req := &lockRequest{txn: txn, mode: mode}
	q.requests = append(q.requests, req)
	return lm.waitAndGrant(txn, q, req, func() { lm.recordRowGrant(txn, mode, oid, rid) })
}

// UnlockRow releases txn's lock on (oid, rid).
func (lm *LockManager) UnlockRow(txn *Transaction, oid types.TableOID, rid types.RID) error {
	q := lm.rowQueueFor(oid, rid)
	q.mu.Lock()
	req := findRequest(q, txn)
	if req == nil || !req.granted {
		q.mu.Unlock()
		txn.SetState(Aborted)
		return ErrAttemptedUnlockButNoLockHeld
	}
	removeRequest(q, req)
	q.cond.Broadcast()
	q.mu.Unlock()

	txn.removeRowLock(req.mode, oid, rid)
	lm.maybeShrink(txn, req.mode)
	return nil
}

// recordTableGrant and recordRowGrant run while the queue is still
// locked, inside waitAndGrant/upgrade's onGrant callback.
func (lm *LockManager) recordTableGrant(txn *Transaction, mode LockMode, oid types.TableOID) {
	txn.addTableLock(mode, oid)
}

func (lm *LockManager) recordRowGrant(txn *Transaction, mode LockMode, oid types.TableOID, rid types.RID) {
	txn.addRowLock(mode, oid, rid)
}

// waitAndGrant enqueues no further state but drives the grant loop:
// it assumes req is already in q.requests and q.mu is held. It
// releases q.mu before returning in every path.
func (lm *LockManager) waitAndGrant(txn *Transaction, q *lockQueue, req *lockRequest, onGrant func()) error {
	for {
		if txn.State() == Aborted {
			removeRequest(q, req)
			q.cond.Broadcast()
			q.mu.Unlock()
			return ErrDeadlockVictim
		}
		if canGrant(q, req) {
			req.granted = true
			onGrant()
			q.cond.Broadcast()
			q.mu.Unlock()
			return nil
		}
		q.cond.Wait()
	}
}

// upgrade implements spec.md §4.6.2/§4.6.3's single-upgrade-in-flight
// protocol: validate the lattice, release the old grant, splice a new
// request in right after the last currently-granted request — wherever
// in the queue that is — mark the resource as upgrading, then wait as
// usual. canGrant gives the upgrading request priority over the other
// waiters, including any that sit ahead of it in the queue. q.mu is
// held on entry and released on every return path.
func (lm *LockManager) upgrade(txn *Transaction, q *lockQueue, old *lockRequest, newMode LockMode, onGrant func(), onRelease func()) error {
	if q.upgrading != noUpgrade && q.upgrading != txn.id {
		q.mu.Unlock()
		txn.SetState(Aborted)
		return ErrUpgradeConflict
	}
	if !upgradePaths[old.mode][newMode] {
		q.mu.Unlock()
		txn.SetState(Aborted)
		return ErrIncompatibleUpgrade
	}

	removeRequest(q, old)
	onRelease()
	q.upgrading = txn.id

	// Granted requests are not necessarily a contiguous prefix — a
	// later arrival can jump an earlier, still-waiting, incompatible
	// one whenever it happens to be compatible with everything ahead
	// of it (queue.go's canGrant, spec.md §4.6.4 rule 3). The upgraded
	// request lands after every granted request, not just the leading
	// run of them; canGrant checks it against every granted request
	// wherever it sits and lets it skip the waiters ahead of it.
	insertAt := 0
	for i, r := range q.requests {
		if r.granted {
			insertAt = i + 1
		}
	}
	req := &lockRequest{txn: txn, mode: newMode}
	q.requests = append(q.requests, nil)
	copy(q.requests[insertAt+1:], q.requests[insertAt:])
	q.requests[insertAt] = req

	return lm.waitAndGrant(txn, q, req, func() {
		q.upgrading = noUpgrade
		onGrant()
	})
}

// checkLockPreconditions applies spec.md §4.6.5's isolation-level and
// lifecycle rules, common to both table and row acquisition.
func (lm *LockManager) checkLockPreconditions(txn *Transaction, mode LockMode) error {
	switch txn.State() {
	case Committed, Aborted:
		return ErrTransactionTerminated
	}

	sharedFamily := mode == Shared || mode == IntentionShared || mode == SharedIntentionExclusive
	exclusiveFamily := mode == Exclusive || mode == IntentionExclusive

	switch txn.IsolationLevel() {
	case ReadUncommitted:
		if sharedFamily {
			txn.SetState(Aborted)
			return ErrLockSharedOnReadUncommitted
		}
		if txn.State() == Shrinking && exclusiveFamily {
			txn.SetState(Aborted)
			return ErrLockOnShrinking
		}
	case ReadCommitted:
		if txn.State() == Shrinking && mode != IntentionShared && mode != Shared {
			txn.SetState(Aborted)
			return ErrLockOnShrinking
		}
	case RepeatableRead:
		if txn.State() == Shrinking {
			txn.SetState(Aborted)
			return ErrLockOnShrinking
		}
	}
	return nil
}

// maybeShrink applies spec.md §4.6.5's unlock rule: unlocking moves
// GROWING to SHRINKING when the unlocked mode "matters" for the
// isolation level (REPEATABLE_READ: S or X; otherwise: X only).
func (lm *LockManager) maybeShrink(txn *Transaction, unlockedMode LockMode) {
	if txn.State() != Growing {
		return
	}
	matters := unlockedMode == Exclusive
	if txn.IsolationLevel() == RepeatableRead {
		matters = matters || unlockedMode == Shared
	}
	if matters {
		txn.SetState(Shrinking)
	}
}
