package exec

import (
	"sort"

	"github.com/pkg/errors"

	"coredb/types"
)

// OrderByTerm is one tie-break level of an ORDER BY / TOP-N list.
// DEFAULT and ASC compare the same way (spec.md §4.7).
type OrderByTerm struct {
	Column string
	Desc   bool
}

func lessBy(order []OrderByTerm, schema *types.Schema, lhs, rhs types.Tuple) (bool, error) {
	for _, term := range order {
		li := schema.IndexOf(term.Column)
		if li < 0 {
			return false, errors.Errorf("exec: unknown order-by column %q", term.Column)
		}
		l, r := lhs.Values[li], rhs.Values[li]
		cmp, err := compareValues(l, r)
		if err != nil {
			return false, err
		}
		if cmp == 0 {
			continue
		}
		if term.Desc {
			return cmp > 0, nil
		}
		return cmp < 0, nil
	}
	return false, nil
}

// compareValues orders the handful of scalar kinds tuples carry.
// Grounded on how bustub's Value::CompareLessThan dispatches by type,
// simplified to Go's any-typed tuple values.
func compareValues(a, b any) (int, error) {
	switch av := a.(type) {
	case int:
		bv, ok := b.(int)
		if !ok {
			return 0, errors.New("exec: order-by comparison type mismatch")
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0, errors.New("exec: order-by comparison type mismatch")
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, errors.New("exec: order-by comparison type mismatch")
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, errors.New("exec: order-by comparison type mismatch")
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, errors.Errorf("exec: unsupported order-by value type %T", a)
	}
}

// SortExecutor materializes its child and sorts it in-memory under the
// given tie-break list, grounded on bustub's SortExecutor.
type SortExecutor struct {
	child  Executor
	order  []OrderByTerm
	eval   types.ExpressionEvaluator
	tuples []types.Tuple
	idx    int
}

func NewSortExecutor(eval types.ExpressionEvaluator, child Executor, order []OrderByTerm) *SortExecutor {
	return &SortExecutor{eval: eval, child: child, order: order}
}

func (e *SortExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}
	e.tuples = nil
	for {
		tuple, _, ok, err := e.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e.tuples = append(e.tuples, tuple)
	}
	var sortErr error
	sort.SliceStable(e.tuples, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		less, err := lessBy(e.order, e.child.Schema(), e.tuples[i], e.tuples[j])
		if err != nil {
			sortErr = err
		}
		return less
	})
	e.idx = 0
	return sortErr
}

func (e *SortExecutor) Next() (types.Tuple, types.RID, bool, error) {
	if e.idx >= len(e.tuples) {
		return types.Tuple{}, types.RID{}, false, nil
	}
	t := e.tuples[e.idx]
	e.idx++
	return t, types.RID{}, true, nil
}

func (e *SortExecutor) Schema() *types.Schema { return e.child.Schema() }

// TopNExecutor keeps only the first N rows of the same ordering a
// SortExecutor would produce, grounded on bustub's TopNExecutor
// (there implemented via partial_sort_copy; here a full sort
// truncated, since this engine has no heap-based partial sort and the
// correctness is identical).
type TopNExecutor struct {
	inner *SortExecutor
	n     int
}

func NewTopNExecutor(eval types.ExpressionEvaluator, child Executor, order []OrderByTerm, n int) *TopNExecutor {
	return &TopNExecutor{inner: NewSortExecutor(eval, child, order), n: n}
}

func (e *TopNExecutor) Init() error {
	if err := e.inner.Init(); err != nil {
		return err
	}
	if e.n < len(e.inner.tuples) {
		e.inner.tuples = e.inner.tuples[:e.n]
	}
	return nil
}

func (e *TopNExecutor) Next() (types.Tuple, types.RID, bool, error) { return e.inner.Next() }
func (e *TopNExecutor) Schema() *types.Schema                       { return e.inner.Schema() }
