package lockmgr

import "github.com/pkg/errors"

// The abort-reason taxonomy of spec.md §7. Each is returned to the
// caller and has already set the offending transaction's state to
// ABORTED by the time it surfaces.
var (
	ErrLockOnShrinking                 = errors.New("lockmgr: lock requested after unlock in an isolation level that forbids it")
	ErrLockSharedOnReadUncommitted     = errors.New("lockmgr: shared-family lock requested under READ_UNCOMMITTED")
	ErrUpgradeConflict                 = errors.New("lockmgr: another transaction is already upgrading this resource")
	ErrIncompatibleUpgrade             = errors.New("lockmgr: requested mode is not above the held mode in the upgrade lattice")
	ErrAttemptedUnlockButNoLockHeld    = errors.New("lockmgr: attempted to unlock a resource with no held lock")
	ErrTableUnlockedBeforeUnlockingRows = errors.New("lockmgr: table unlocked while row locks are still held under it")
	ErrAttemptedIntentionLockOnRow     = errors.New("lockmgr: intention-mode lock attempted on a row")
	ErrTableLockNotPresent             = errors.New("lockmgr: row lock requested without a sufficient table-level lock")
	ErrOutOfMemory                     = errors.New("lockmgr: buffer pool cannot supply a page")

	// ErrTransactionTerminated is raised for lock requests from a
	// transaction that is already COMMITTED or ABORTED — bustub treats
	// this as a logic error rather than naming it in the abort-reason
	// taxonomy, but it still must not silently proceed.
	ErrTransactionTerminated = errors.New("lockmgr: transaction is already committed or aborted")

	// ErrDeadlockVictim is what a blocked LockTable/LockRow call
	// returns when the deadlock detector aborts the waiting
	// transaction out from under it.
	ErrDeadlockVictim = errors.New("lockmgr: transaction aborted as a deadlock victim")
)
