package lockmgr

import "sync"

// lockRequest is one entry in a resource's FIFO (spec.md §3).
type lockRequest struct {
	txn     *Transaction
	mode    LockMode
	granted bool
}

// lockQueue is the per-resource state of spec.md §4.6.3: a FIFO of
// requests, a mutex, a condition variable, and an upgrade slot. The
// zero value of upgrading (noUpgrade) means no transaction is
// upgrading on this resource.
type lockQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading TxnID
}

const noUpgrade TxnID = 0

func newLockQueue() *lockQueue {
	q := &lockQueue{upgrading: noUpgrade}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// compatible reports whether held and requested can coexist, per
// spec.md §4.6.1's matrix.
func compatible(held, requested LockMode) bool {
	return compatibilityMatrix[held][requested]
}

var compatibilityMatrix = map[LockMode]map[LockMode]bool{
	IntentionShared: {
		IntentionShared: true, IntentionExclusive: true, Shared: true, SharedIntentionExclusive: true, Exclusive: false,
	},
	IntentionExclusive: {
		IntentionShared: true, IntentionExclusive: true, Shared: false, SharedIntentionExclusive: false, Exclusive: false,
	},
	Shared: {
		IntentionShared: true, IntentionExclusive: false, Shared: true, SharedIntentionExclusive: false, Exclusive: false,
	},
	SharedIntentionExclusive: {
		IntentionShared: true, IntentionExclusive: false, Shared: false, SharedIntentionExclusive: false, Exclusive: false,
	},
	Exclusive: {
		IntentionShared: false, IntentionExclusive: false, Shared: false, SharedIntentionExclusive: false, Exclusive: false,
	},
}

// upgradePaths is spec.md §4.6.2's permitted-upgrade lattice.
var upgradePaths = map[LockMode]map[LockMode]bool{
	IntentionShared:          {Shared: true, Exclusive: true, IntentionExclusive: true, SharedIntentionExclusive: true},
	Shared:                   {Exclusive: true, SharedIntentionExclusive: true},
	IntentionExclusive:       {Exclusive: true, SharedIntentionExclusive: true},
	SharedIntentionExclusive: {Exclusive: true},
}

// canGrant implements spec.md §4.6.4: req (already enqueued) may be
// granted iff no not-ours upgrade is in flight on this resource, every
// granted request anywhere in the FIFO is compatible with req's mode,
// and — unless req is the in-flight upgrade, which has priority over
// the other waiters — every request strictly before it in the FIFO,
// granted or still waiting, is compatible too. Caller holds q.mu.
func canGrant(q *lockQueue, req *lockRequest) bool {
	if q.upgrading != noUpgrade && q.upgrading != req.txn.id {
		return false
	}
	for _, other := range q.requests {
		if other != req && other.granted && !compatible(other.mode, req.mode) {
			return false
		}
	}
	if q.upgrading == req.txn.id {
		return true
	}
	for _, other := range q.requests {
		if other == req {
			return true
		}
		if !compatible(other.mode, req.mode) {
			return false
		}
	}
	return true
}

// removeRequest deletes req from q's FIFO. Caller holds q.mu.
func removeRequest(q *lockQueue, req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// findRequest returns txn's current request on q, if any. Caller
// holds q.mu.
func findRequest(q *lockQueue, txn *Transaction) *lockRequest {
	for _, r := range q.requests {
		if r.txn == txn {
			return r
		}
	}
	return nil
}
