// Package exec implements the pull-based executor pipeline of
// spec.md §4.7: each executor exposes Init/Next over a child (or
// children), driving the lock manager and the table heap/index
// collaborators it is handed through an ExecContext.
//
// Grounded on original_source/bustub's execution/ executors
// (AbstractExecutor, SeqScanExecutor, InsertExecutor, ...), translated
// from the C++ throw-on-abort convention to Go's explicit error
// returns, in the teacher's idiom of wrapping failures with
// github.com/pkg/errors.
package exec

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"coredb/concurrency/lockmgr"
	"coredb/types"
)

// Executor is the Volcano-style pull interface every operator in this
// package implements.
type Executor interface {
	Init() error
	Next() (types.Tuple, types.RID, bool, error)
	Schema() *types.Schema
}

// ExecContext bundles the collaborators every executor needs:
// the lock manager and the transaction driving this query, plus the
// catalog and expression evaluator that resolve table/index metadata
// and predicates. None of exec depends on storage/index or
// storage/buffer directly — only on the types.BPlusTreeIndex,
// types.TableHeap, and types.Catalog shapes those packages satisfy.
type ExecContext struct {
	Txn     *lockmgr.Transaction
	LockMgr *lockmgr.LockManager
	Catalog types.Catalog
	Eval    types.ExpressionEvaluator
	Log     logrus.FieldLogger
}

func (c *ExecContext) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// ErrExecution is the taxonomy member spec.md §7 calls
// ExecutionException: the uniform error every executor surfaces once
// a lock-manager or collaborator failure aborts the transaction.
var ErrExecution = errors.New("exec: operation aborted")

func wrapAbort(cause error) error {
	return errors.Wrap(ErrExecution, cause.Error())
}

// lockTableIfNeeded applies spec.md §4.7's "skipped under
// READ_UNCOMMITTED, or when the transaction already holds IX/SIX"
// sequential-scan table-locking rule, generalized with the
// caller-supplied mode (IS for scans, IX for mutations).
func lockTableIfNeeded(ctx *ExecContext, mode lockmgr.LockMode, oid types.TableOID) error {
	txn := ctx.Txn
	if mode == lockmgr.IntentionShared {
		if txn.IsolationLevel() == lockmgr.ReadUncommitted {
			return nil
		}
		if held, ok := txn.HoldsAnyTableLock(oid); ok && (held == lockmgr.IntentionExclusive || held == lockmgr.SharedIntentionExclusive || held == lockmgr.Exclusive) {
			return nil
		}
	}
	if txn.HoldsTableLock(mode, oid) {
		return nil
	}
	if err := ctx.LockMgr.LockTable(txn, mode, oid); err != nil {
		return wrapAbort(err)
	}
	return nil
}

// unlockTableAfterScan applies the READ_COMMITTED "release IS once
// exhausted" rule; a no-op for other isolation levels or when the
// scan never acquired the lock in the first place.
func unlockTableAfterScan(ctx *ExecContext, oid types.TableOID) error {
	txn := ctx.Txn
	if txn.IsolationLevel() != lockmgr.ReadCommitted {
		return nil
	}
	if !txn.HoldsTableLock(lockmgr.IntentionShared, oid) {
		return nil
	}
	if err := ctx.LockMgr.UnlockTable(txn, oid); err != nil {
		return wrapAbort(err)
	}
	return nil
}

// lockRowForRead applies spec.md §4.7's per-tuple S-lock rule for
// scans: skipped under READ_UNCOMMITTED or when the row is already
// X-locked by this transaction.
func lockRowForRead(ctx *ExecContext, oid types.TableOID, rid types.RID) error {
	txn := ctx.Txn
	if txn.IsolationLevel() == lockmgr.ReadUncommitted {
		return nil
	}
	if txn.HoldsRowLock(lockmgr.Exclusive, oid, rid) {
		return nil
	}
	if err := ctx.LockMgr.LockRow(txn, lockmgr.Shared, oid, rid); err != nil {
		return wrapAbort(err)
	}
	return nil
}

// unlockRowAfterRead releases the READ_COMMITTED immediate-unlock
// optimization for a row a scan has just read.
func unlockRowAfterRead(ctx *ExecContext, oid types.TableOID, rid types.RID) error {
	txn := ctx.Txn
	if txn.IsolationLevel() != lockmgr.ReadCommitted {
		return nil
	}
	if !txn.HoldsRowLock(lockmgr.Shared, oid, rid) {
		return nil
	}
	if err := ctx.LockMgr.UnlockRow(txn, oid, rid); err != nil {
		return wrapAbort(err)
	}
	return nil
}

// lockRowExclusive acquires X unconditionally, for insert/delete's
// per-tuple lock (spec.md §4.7): mutation always needs the strongest
// mode regardless of isolation level.
func lockRowExclusive(ctx *ExecContext, oid types.TableOID, rid types.RID) error {
	txn := ctx.Txn
	if txn.HoldsRowLock(lockmgr.Exclusive, oid, rid) {
		return nil
	}
	if err := ctx.LockMgr.LockRow(txn, lockmgr.Exclusive, oid, rid); err != nil {
		return wrapAbort(err)
	}
	return nil
}

func countColumnSchema(name string) *types.Schema {
	return &types.Schema{Columns: []types.Column{{Name: name, Type: "int"}}}
}
