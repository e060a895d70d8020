package exec

import (
	"fmt"

	"github.com/pkg/errors"

	"coredb/types"
)

// AggFunc is one of spec.md §4.7's five supported aggregates.
type AggFunc int

const (
	CountStar AggFunc = iota
	Count
	Sum
	Min
	Max
)

// AggSpec names one aggregate column in the output: Func applied to
// Column (ignored for CountStar).
type AggSpec struct {
	Func   AggFunc
	Column string
	Alias  string
}

type aggAccumulator struct {
	count int64
	sum   float64
	min   any
	max   any
	seen  bool
}

func (a *aggAccumulator) observe(v any) {
	a.seen = true
	a.count++
	if f, ok := toFloat(v); ok {
		a.sum += f
	}
	if a.min == nil {
		a.min, a.max = v, v
		return
	}
	if cmp, err := compareValues(v, a.min); err == nil && cmp < 0 {
		a.min = v
	}
	if cmp, err := compareValues(v, a.max); err == nil && cmp > 0 {
		a.max = v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// AggregateExecutor groups its child's tuples by a group-by column
// list and maintains a per-group accumulator for each requested
// aggregate, grounded on bustub's AggregationExecutor /
// SimpleAggregationHashTable. On empty input with an empty group-by
// list it emits one row: count(*)=0, every other aggregate NULL.
type AggregateExecutor struct {
	child    Executor
	groupBy  []string
	aggs     []AggSpec
	schema   *types.Schema

	groups   []string // insertion-ordered group keys
	acc      map[string][]*aggAccumulator
	groupVal map[string][]any
	idx      int
}

func NewAggregateExecutor(child Executor, groupBy []string, aggs []AggSpec) *AggregateExecutor {
	return &AggregateExecutor{child: child, groupBy: groupBy, aggs: aggs}
}

func (e *AggregateExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}
	schema := e.child.Schema()
	cols := make([]types.Column, 0, len(e.groupBy)+len(e.aggs))
	for _, g := range e.groupBy {
		cols = append(cols, types.Column{Name: g, Type: "any"})
	}
	for _, a := range e.aggs {
		name := a.Alias
		if name == "" {
			name = aggColumnName(a)
		}
		cols = append(cols, types.Column{Name: name, Type: "any"})
	}
	e.schema = &types.Schema{Columns: cols}

	e.acc = make(map[string][]*aggAccumulator)
	e.groupVal = make(map[string][]any)
	e.groups = nil

	for {
		tuple, _, ok, err := e.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		groupVals := make([]any, len(e.groupBy))
		for i, g := range e.groupBy {
			gi := schema.IndexOf(g)
			if gi < 0 {
				return errors.Errorf("exec: unknown group-by column %q", g)
			}
			groupVals[i] = tuple.Values[gi]
		}
		key := fmt.Sprint(groupVals)
		accs, ok := e.acc[key]
		if !ok {
			accs = make([]*aggAccumulator, len(e.aggs))
			for i := range accs {
				accs[i] = &aggAccumulator{}
			}
			e.acc[key] = accs
			e.groupVal[key] = groupVals
			e.groups = append(e.groups, key)
		}
		for i, a := range e.aggs {
			if a.Func == CountStar {
				accs[i].count++
				accs[i].seen = true
				continue
			}
			ci := schema.IndexOf(a.Column)
			if ci < 0 {
				return errors.Errorf("exec: unknown aggregate column %q", a.Column)
			}
			accs[i].observe(tuple.Values[ci])
		}
	}
	e.idx = 0
	return nil
}

func (e *AggregateExecutor) Next() (types.Tuple, types.RID, bool, error) {
	if len(e.groups) == 0 {
		if e.idx > 0 || len(e.groupBy) > 0 {
			return types.Tuple{}, types.RID{}, false, nil
		}
		e.idx++
		values := make([]any, len(e.aggs))
		for i, a := range e.aggs {
			if a.Func == CountStar {
				values[i] = int64(0)
			} else {
				values[i] = nil
			}
		}
		return types.Tuple{Values: values}, types.RID{}, true, nil
	}
	if e.idx >= len(e.groups) {
		return types.Tuple{}, types.RID{}, false, nil
	}
	key := e.groups[e.idx]
	e.idx++
	accs := e.acc[key]
	values := make([]any, 0, len(e.groupBy)+len(e.aggs))
	values = append(values, e.groupVal[key]...)
	for i, a := range e.aggs {
		values = append(values, resolveAgg(a, accs[i]))
	}
	return types.Tuple{Values: values}, types.RID{}, true, nil
}

func resolveAgg(spec AggSpec, acc *aggAccumulator) any {
	switch spec.Func {
	case CountStar, Count:
		return acc.count
	case Sum:
		if !acc.seen {
			return nil
		}
		return acc.sum
	case Min:
		return acc.min
	case Max:
		return acc.max
	default:
		return nil
	}
}

func aggColumnName(a AggSpec) string {
	switch a.Func {
	case CountStar:
		return "count_star"
	case Count:
		return "count_" + a.Column
	case Sum:
		return "sum_" + a.Column
	case Min:
		return "min_" + a.Column
	case Max:
		return "max_" + a.Column
	default:
		return a.Column
	}
}

func (e *AggregateExecutor) Schema() *types.Schema { return e.schema }
