package exec

import (
	"github.com/pkg/errors"

	"coredb/concurrency/lockmgr"
	"coredb/types"
)

// SeqScanExecutor walks a table heap's resident tuples in storage
// order, applying the intention-lock and per-row S-lock rules of
// spec.md §4.7. Grounded on bustub's SeqScanExecutor.
type SeqScanExecutor struct {
	ctx     *ExecContext
	oid     types.TableOID
	schema  *types.Schema
	heap    types.TableHeap
	iter    types.HeapIterator
	lockedTable bool
}

func NewSeqScanExecutor(ctx *ExecContext, oid types.TableOID) *SeqScanExecutor {
	return &SeqScanExecutor{ctx: ctx, oid: oid}
}

func (e *SeqScanExecutor) Init() error {
	info, err := e.ctx.Catalog.GetTable(e.oid)
	if err != nil {
		return errors.Wrap(err, "exec: seq scan resolve table")
	}
	e.schema = info.Schema
	e.heap = info.Heap
	if err := lockTableIfNeeded(e.ctx, lockmgr.IntentionShared, e.oid); err != nil {
		return err
	}
	e.lockedTable = true
	e.iter = e.heap.Iterator()
	return nil
}

func (e *SeqScanExecutor) Next() (types.Tuple, types.RID, bool, error) {
	tuple, rid, ok := e.iter.Next()
	if !ok {
		e.iter.Close()
		if e.lockedTable {
			if err := unlockTableAfterScan(e.ctx, e.oid); err != nil {
				return types.Tuple{}, types.RID{}, false, err
			}
			e.lockedTable = false
		}
		return types.Tuple{}, types.RID{}, false, nil
	}
	if err := lockRowForRead(e.ctx, e.oid, rid); err != nil {
		return types.Tuple{}, types.RID{}, false, err
	}
	if err := unlockRowAfterRead(e.ctx, e.oid, rid); err != nil {
		return types.Tuple{}, types.RID{}, false, err
	}
	return tuple, rid, true, nil
}

func (e *SeqScanExecutor) Schema() *types.Schema { return e.schema }

// IndexScanExecutor walks a B+ tree iterator in key order, translating
// each (key, rid) pair into a full tuple via the table heap. Grounded
// on bustub's IndexScanExecutor.
type IndexScanExecutor struct {
	ctx       *ExecContext
	indexOID  types.IndexOID
	schema    *types.Schema
	heap      types.TableHeap
	tableOID  types.TableOID
	index     types.BPlusTreeIndex
	iter      types.IndexIterator
}

func NewIndexScanExecutor(ctx *ExecContext, indexOID types.IndexOID) *IndexScanExecutor {
	return &IndexScanExecutor{ctx: ctx, indexOID: indexOID}
}

func (e *IndexScanExecutor) Init() error {
	indexInfo, err := e.ctx.Catalog.GetIndex(e.indexOID)
	if err != nil {
		return errors.Wrap(err, "exec: index scan resolve index")
	}
	tableInfo, err := e.ctx.Catalog.GetTableByName(indexInfo.TableName)
	if err != nil {
		return errors.Wrap(err, "exec: index scan resolve table")
	}
	e.schema = tableInfo.Schema
	e.heap = tableInfo.Heap
	e.tableOID = tableInfo.OID
	e.index = indexInfo.Tree

	if err := lockTableIfNeeded(e.ctx, lockmgr.IntentionShared, e.tableOID); err != nil {
		return err
	}
	iter, err := e.index.Begin()
	if err != nil {
		return errors.Wrap(err, "exec: index scan begin")
	}
	e.iter = iter
	return nil
}

func (e *IndexScanExecutor) Next() (types.Tuple, types.RID, bool, error) {
	if !e.iter.Valid() {
		e.iter.Close()
		if err := unlockTableAfterScan(e.ctx, e.tableOID); err != nil {
			return types.Tuple{}, types.RID{}, false, err
		}
		return types.Tuple{}, types.RID{}, false, nil
	}
	rid := e.iter.Value()
	if err := e.iter.Next(); err != nil {
		return types.Tuple{}, types.RID{}, false, errors.Wrap(err, "exec: index scan advance")
	}
	if err := lockRowForRead(e.ctx, e.tableOID, rid); err != nil {
		return types.Tuple{}, types.RID{}, false, err
	}
	tuple, err := e.heap.GetTuple(rid)
	if err != nil {
		return types.Tuple{}, types.RID{}, false, errors.Wrap(err, "exec: index scan get tuple")
	}
	if err := unlockRowAfterRead(e.ctx, e.tableOID, rid); err != nil {
		return types.Tuple{}, types.RID{}, false, err
	}
	return tuple, rid, true, nil
}

func (e *IndexScanExecutor) Schema() *types.Schema { return e.schema }
