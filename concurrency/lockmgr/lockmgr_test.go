package lockmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coredb/types"
)

func TestLockManager_SharedCompatibleAcrossTransactions(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(1)
	t1 := lm.Begin(ReadCommitted)
	t2 := lm.Begin(ReadCommitted)

	require.NoError(t, lm.LockTable(t1, Shared, oid))
	require.NoError(t, lm.LockTable(t2, Shared, oid))
	require.True(t, t1.holdsTableLock(Shared, oid))
	require.True(t, t2.holdsTableLock(Shared, oid))
}

func TestLockManager_ExclusiveBlocksUntilReleased(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(1)
	t1 := lm.Begin(ReadCommitted)
	t2 := lm.Begin(ReadCommitted)

	require.NoError(t, lm.LockTable(t1, Exclusive, oid))

	granted := make(chan error, 1)
	go func() { granted <- lm.LockTable(t2, Exclusive, oid) }()

	select {
	case <-granted:
		t.Fatal("t2 should not have been granted while t1 holds X")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.UnlockTable(t1, oid))
	select {
	case err := <-granted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("t2 was never granted after t1 released")
	}
}

// TestLockManager_UpgradeSingleWriter replays spec.md's concrete
// scenario 3: one transaction acquires S, upgrades to X, then
// commits — afterward every lock-set is empty and the resource's FIFO
// is drained.
func TestLockManager_UpgradeSingleWriter(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(7)
	txn := lm.Begin(RepeatableRead)

	require.NoError(t, lm.LockTable(txn, Shared, oid))
	require.True(t, txn.holdsTableLock(Shared, oid))

	require.NoError(t, lm.LockTable(txn, Exclusive, oid))
	require.True(t, txn.holdsTableLock(Exclusive, oid))
	require.False(t, txn.holdsTableLock(Shared, oid))

	require.NoError(t, lm.UnlockTable(txn, oid))
	txn.SetState(Committed)

	for mode := IntentionShared; mode <= Exclusive; mode++ {
		require.False(t, txn.holdsTableLock(mode, oid))
	}

	q := lm.tableQueueFor(oid)
	q.mu.Lock()
	require.Empty(t, q.requests)
	q.mu.Unlock()
}

// TestLockManager_UpgradeWaitsOnNonAdjacentGrantedRequest builds a
// queue where granted requests are not a contiguous prefix: A holds
// IX, B is waiting on S (blocked by A's IX), and C's later IS request
// jumps ahead of B in grant order — IS is compatible with both A's IX
// and B's still-waiting S — landing granted after B in the queue.
// When A upgrades IX to X, the spliced-in request must still be
// blocked by C's held IS even though C sits behind B. Once C releases,
// the upgrade takes priority over B's earlier S request, and B is
// granted only after A releases X.
func TestLockManager_UpgradeWaitsOnNonAdjacentGrantedRequest(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(42)
	tA := lm.Begin(ReadCommitted)
	tB := lm.Begin(ReadCommitted)
	tC := lm.Begin(ReadCommitted)

	require.NoError(t, lm.LockTable(tA, IntentionExclusive, oid))

	bBlocked := make(chan error, 1)
	go func() { bBlocked <- lm.LockTable(tB, Shared, oid) }()

	q := lm.tableQueueFor(oid)
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.requests) == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, lm.LockTable(tC, IntentionShared, oid))
	require.True(t, tC.holdsTableLock(IntentionShared, oid))

	q.mu.Lock()
	require.Len(t, q.requests, 3)
	require.False(t, q.requests[1].granted, "B should still be waiting behind A's IX")
	require.True(t, q.requests[2].granted, "C should have jumped ahead of B")
	q.mu.Unlock()

	upgraded := make(chan error, 1)
	go func() { upgraded <- lm.LockTable(tA, Exclusive, oid) }()

	select {
	case err := <-upgraded:
		t.Fatalf("upgrade to X granted while C still holds IS (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	require.True(t, tC.holdsTableLock(IntentionShared, oid))

	require.NoError(t, lm.UnlockTable(tC, oid))
	select {
	case err := <-upgraded:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("upgrade never completed after C released")
	}

	select {
	case err := <-bBlocked:
		t.Fatalf("B's shared lock granted while A holds X (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, tA.holdsTableLock(Exclusive, oid))
	require.NoError(t, lm.UnlockTable(tA, oid))
	select {
	case err := <-bBlocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("B's shared lock was never granted after A released")
	}
}

func TestLockManager_IncompatibleUpgradeRejected(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(1)
	txn := lm.Begin(ReadCommitted)

	require.NoError(t, lm.LockTable(txn, Exclusive, oid))
	err := lm.LockTable(txn, Shared, oid)
	require.ErrorIs(t, err, ErrIncompatibleUpgrade)
	require.Equal(t, Aborted, txn.State())
}

func TestLockManager_RowLockRequiresTableLock(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(1)
	txn := lm.Begin(ReadCommitted)

	err := lm.LockRow(txn, Shared, oid, types.RID{PageID: 1, Slot: 0})
	require.ErrorIs(t, err, ErrTableLockNotPresent)
}

func TestLockManager_IntentionModeRejectedOnRow(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(1)
	txn := lm.Begin(ReadCommitted)
	require.NoError(t, lm.LockTable(txn, IntentionExclusive, oid))

	err := lm.LockRow(txn, IntentionExclusive, oid, types.RID{PageID: 1})
	require.ErrorIs(t, err, ErrAttemptedIntentionLockOnRow)
}

func TestLockManager_UnlockTableBeforeRowsRejected(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(1)
	txn := lm.Begin(ReadCommitted)
	rid := types.RID{PageID: 1, Slot: 0}

	require.NoError(t, lm.LockTable(txn, IntentionExclusive, oid))
	require.NoError(t, lm.LockRow(txn, Exclusive, oid, rid))

	err := lm.UnlockTable(txn, oid)
	require.ErrorIs(t, err, ErrTableUnlockedBeforeUnlockingRows)
}

func TestLockManager_ReadUncommittedRejectsSharedFamily(t *testing.T) {
	lm := New(nil)
	oid := types.TableOID(1)
	txn := lm.Begin(ReadUncommitted)

	err := lm.LockTable(txn, Shared, oid)
	require.ErrorIs(t, err, ErrLockSharedOnReadUncommitted)
	require.Equal(t, Aborted, txn.State())
}

// TestLockManager_DeadlockVictimSelection replays spec.md's concrete
// scenario 4: two transactions hold X on each other's desired
// resource. The younger one must be aborted within one detection
// period, letting the elder complete.
func TestLockManager_DeadlockVictimSelection(t *testing.T) {
	lm := New(nil)
	stop := lm.StartDeadlockDetector(20 * time.Millisecond)
	defer stop()

	tableA := types.TableOID(100)
	tableB := types.TableOID(200)
	t1 := lm.Begin(ReadCommitted) // id 1, elder
	t2 := lm.Begin(ReadCommitted) // id 2, younger

	require.NoError(t, lm.LockTable(t1, Exclusive, tableA))
	require.NoError(t, lm.LockTable(t2, Exclusive, tableB))

	t1Blocked := make(chan error, 1)
	t2Blocked := make(chan error, 1)
	go func() { t1Blocked <- lm.LockTable(t1, Exclusive, tableB) }()
	go func() { t2Blocked <- lm.LockTable(t2, Exclusive, tableA) }()

	var t2Err error
	select {
	case t2Err = <-t2Blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("t2 was never resolved — deadlock not broken")
	}
	require.ErrorIs(t, t2Err, ErrDeadlockVictim)
	require.Equal(t, Aborted, t2.State())

	require.NoError(t, lm.UnlockTable(t2, tableB))

	select {
	case err := <-t1Blocked:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("t1 never acquired tableB after t2's abort")
	}
}
