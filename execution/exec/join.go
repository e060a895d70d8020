package exec

import (
	"github.com/pkg/errors"

	"coredb/types"
)

// JoinType restricts joins to the two kinds spec.md §4.7 names.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

func concatSchema(left, right *types.Schema) *types.Schema {
	cols := make([]types.Column, 0, len(left.Columns)+len(right.Columns))
	cols = append(cols, left.Columns...)
	cols = append(cols, right.Columns...)
	return &types.Schema{Columns: cols}
}

func concatValues(left, right types.Tuple) types.Tuple {
	v := make([]any, 0, len(left.Values)+len(right.Values))
	v = append(v, left.Values...)
	v = append(v, right.Values...)
	return types.Tuple{Values: v}
}

func nullPadded(n int) types.Tuple {
	v := make([]any, n)
	return types.Tuple{Values: v}
}

// NestedLoopJoinExecutor materializes both sides and probes every
// outer tuple against every inner tuple via the expression evaluator's
// join predicate, grounded on bustub's NestedLoopJoinExecutor. LEFT
// joins emit a NULL-padded inner side when no match is found for an
// outer tuple.
type NestedLoopJoinExecutor struct {
	joinType JoinType
	left     Executor
	right    Executor
	eval     types.ExpressionEvaluator
	schema   *types.Schema

	leftTuples  []types.Tuple
	rightTuples []types.Tuple
	leftIdx     int
	rightIdx    int
	matched     bool
}

func NewNestedLoopJoinExecutor(eval types.ExpressionEvaluator, joinType JoinType, left, right Executor) *NestedLoopJoinExecutor {
	return &NestedLoopJoinExecutor{eval: eval, joinType: joinType, left: left, right: right}
}

func (e *NestedLoopJoinExecutor) Init() error {
	if e.joinType != InnerJoin && e.joinType != LeftJoin {
		return errors.New("exec: only INNER and LEFT joins are supported")
	}
	if err := e.left.Init(); err != nil {
		return err
	}
	if err := e.right.Init(); err != nil {
		return err
	}
	e.schema = concatSchema(e.left.Schema(), e.right.Schema())

	for {
		tuple, _, ok, err := e.left.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e.leftTuples = append(e.leftTuples, tuple)
	}
	for {
		tuple, _, ok, err := e.right.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e.rightTuples = append(e.rightTuples, tuple)
	}
	e.leftIdx, e.rightIdx, e.matched = 0, 0, false
	return nil
}

func (e *NestedLoopJoinExecutor) Next() (types.Tuple, types.RID, bool, error) {
	for {
		if e.leftIdx >= len(e.leftTuples) {
			return types.Tuple{}, types.RID{}, false, nil
		}
		outer := e.leftTuples[e.leftIdx]

		if e.rightIdx >= len(e.rightTuples) {
			e.rightIdx = 0
			matchedThisRow := e.matched
			e.leftIdx++
			e.matched = false
			if e.joinType == LeftJoin && !matchedThisRow {
				return concatValues(outer, nullPadded(len(e.right.Schema().Columns))), types.RID{}, true, nil
			}
			continue
		}

		inner := e.rightTuples[e.rightIdx]
		e.rightIdx++
		matchVal, err := e.eval.EvaluateJoin(outer, e.left.Schema(), inner, e.right.Schema())
		if err != nil {
			return types.Tuple{}, types.RID{}, false, errors.Wrap(err, "exec: nested loop join predicate")
		}
		if matched, _ := matchVal.(bool); matched {
			e.matched = true
			return concatValues(outer, inner), types.RID{}, true, nil
		}
	}
}

func (e *NestedLoopJoinExecutor) Schema() *types.Schema { return e.schema }

// NestedIndexJoinExecutor probes the inner table's index with each
// outer tuple's join-key expression instead of scanning the inner side
// in full, grounded on bustub's NestIndexJoinExecutor.
type NestedIndexJoinExecutor struct {
	joinType  JoinType
	outer     Executor
	eval      types.ExpressionEvaluator
	keyExpr   func(types.Tuple, *types.Schema) []byte
	innerHeap types.TableHeap
	innerSchema *types.Schema
	tree      types.BPlusTreeIndex
	schema    *types.Schema

	outerTuples []types.Tuple
	idx         int
}

func NewNestedIndexJoinExecutor(
	eval types.ExpressionEvaluator,
	joinType JoinType,
	outer Executor,
	tree types.BPlusTreeIndex,
	keyExpr func(types.Tuple, *types.Schema) []byte,
	innerHeap types.TableHeap,
	innerSchema *types.Schema,
) *NestedIndexJoinExecutor {
	return &NestedIndexJoinExecutor{
		joinType: joinType, outer: outer, eval: eval, keyExpr: keyExpr,
		innerHeap: innerHeap, innerSchema: innerSchema, tree: tree,
	}
}

func (e *NestedIndexJoinExecutor) Init() error {
	if e.joinType != InnerJoin && e.joinType != LeftJoin {
		return errors.New("exec: only INNER and LEFT joins are supported")
	}
	if err := e.outer.Init(); err != nil {
		return err
	}
	e.schema = concatSchema(e.outer.Schema(), e.innerSchema)
	for {
		tuple, _, ok, err := e.outer.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e.outerTuples = append(e.outerTuples, tuple)
	}
	e.idx = 0
	return nil
}

func (e *NestedIndexJoinExecutor) Next() (types.Tuple, types.RID, bool, error) {
	for e.idx < len(e.outerTuples) {
		outer := e.outerTuples[e.idx]
		e.idx++

		key := e.keyExpr(outer, e.outer.Schema())
		rid, found, err := e.tree.Get(key)
		if err != nil {
			return types.Tuple{}, types.RID{}, false, errors.Wrap(err, "exec: nested index join probe")
		}
		if found {
			inner, err := e.innerHeap.GetTuple(rid)
			if err != nil {
				return types.Tuple{}, types.RID{}, false, errors.Wrap(err, "exec: nested index join fetch")
			}
			return concatValues(outer, inner), rid, true, nil
		}
		if e.joinType == LeftJoin {
			return concatValues(outer, nullPadded(len(e.innerSchema.Columns))), types.RID{}, true, nil
		}
	}
	return types.Tuple{}, types.RID{}, false, nil
}

func (e *NestedIndexJoinExecutor) Schema() *types.Schema { return e.schema }
