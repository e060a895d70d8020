package exec

import (
	"github.com/pkg/errors"

	"coredb/concurrency/lockmgr"
	"coredb/types"
)

// InsertExecutor drains its child's tuples into a table heap, locks
// each new row X, and maintains every index on the table. It emits a
// single tuple carrying the count, matching bustub's InsertExecutor.
type InsertExecutor struct {
	ctx     *ExecContext
	oid     types.TableOID
	child   Executor
	heap    types.TableHeap
	indexes []*types.IndexInfo
	done    bool
}

func NewInsertExecutor(ctx *ExecContext, oid types.TableOID, child Executor) *InsertExecutor {
	return &InsertExecutor{ctx: ctx, oid: oid, child: child}
}

func (e *InsertExecutor) Init() error {
	info, err := e.ctx.Catalog.GetTable(e.oid)
	if err != nil {
		return errors.Wrap(err, "exec: insert resolve table")
	}
	e.heap = info.Heap
	if err := e.child.Init(); err != nil {
		return err
	}
	if err := lockTableIfNeeded(e.ctx, lockmgr.IntentionExclusive, e.oid); err != nil {
		return err
	}
	indexes, err := e.ctx.Catalog.GetTableIndexes(info.Name)
	if err != nil {
		return errors.Wrap(err, "exec: insert resolve indexes")
	}
	e.indexes = indexes
	e.done = false
	return nil
}

func (e *InsertExecutor) Next() (types.Tuple, types.RID, bool, error) {
	if e.done {
		return types.Tuple{}, types.RID{}, false, nil
	}
	count := 0
	for {
		tuple, _, ok, err := e.child.Next()
		if err != nil {
			return types.Tuple{}, types.RID{}, false, err
		}
		if !ok {
			break
		}
		rid, err := e.heap.InsertTuple(tuple)
		if err != nil {
			return types.Tuple{}, types.RID{}, false, errors.Wrap(err, "exec: insert tuple")
		}
		if err := lockRowExclusive(e.ctx, e.oid, rid); err != nil {
			return types.Tuple{}, types.RID{}, false, err
		}
		for _, idx := range e.indexes {
			key := idx.KeyExpr(tuple, e.child.Schema())
			if _, err := idx.Tree.Insert(key, rid); err != nil {
				return types.Tuple{}, types.RID{}, false, errors.Wrapf(err, "exec: insert into index %s", idx.Name)
			}
		}
		count++
	}
	e.done = true
	return types.Tuple{Values: []any{count}}, types.RID{}, true, nil
}

func (e *InsertExecutor) Schema() *types.Schema { return countColumnSchema("insert_count") }

// DeleteExecutor mirrors InsertExecutor: it X-locks each child row,
// marks it deleted in the heap, and removes it from every index.
type DeleteExecutor struct {
	ctx     *ExecContext
	oid     types.TableOID
	child   Executor
	heap    types.TableHeap
	indexes []*types.IndexInfo
	done    bool
}

func NewDeleteExecutor(ctx *ExecContext, oid types.TableOID, child Executor) *DeleteExecutor {
	return &DeleteExecutor{ctx: ctx, oid: oid, child: child}
}

func (e *DeleteExecutor) Init() error {
	info, err := e.ctx.Catalog.GetTable(e.oid)
	if err != nil {
		return errors.Wrap(err, "exec: delete resolve table")
	}
	e.heap = info.Heap
	if err := e.child.Init(); err != nil {
		return err
	}
	if err := lockTableIfNeeded(e.ctx, lockmgr.IntentionExclusive, e.oid); err != nil {
		return err
	}
	indexes, err := e.ctx.Catalog.GetTableIndexes(info.Name)
	if err != nil {
		return errors.Wrap(err, "exec: delete resolve indexes")
	}
	e.indexes = indexes
	e.done = false
	return nil
}

func (e *DeleteExecutor) Next() (types.Tuple, types.RID, bool, error) {
	if e.done {
		return types.Tuple{}, types.RID{}, false, nil
	}
	count := 0
	for {
		tuple, rid, ok, err := e.child.Next()
		if err != nil {
			return types.Tuple{}, types.RID{}, false, err
		}
		if !ok {
			break
		}
		if err := lockRowExclusive(e.ctx, e.oid, rid); err != nil {
			return types.Tuple{}, types.RID{}, false, err
		}
		if err := e.heap.MarkDelete(rid); err != nil {
			return types.Tuple{}, types.RID{}, false, errors.Wrap(err, "exec: mark delete")
		}
		for _, idx := range e.indexes {
			key := idx.KeyExpr(tuple, e.child.Schema())
			if err := idx.Tree.Remove(key); err != nil {
				return types.Tuple{}, types.RID{}, false, errors.Wrapf(err, "exec: remove from index %s", idx.Name)
			}
		}
		count++
	}
	e.done = true
	return types.Tuple{Values: []any{count}}, types.RID{}, true, nil
}

func (e *DeleteExecutor) Schema() *types.Schema { return countColumnSchema("delete_count") }
