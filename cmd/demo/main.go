// Command demo wires the storage, indexing, concurrency, and
// execution layers end to end: a disk-backed B+ tree index sits behind
// the lock manager, and a tiny in-memory table (execution/memheap)
// supplies the rows the executors insert, scan, join, and aggregate
// over. Grounded on the teacher's top-level main.go REPL
// wiring, with the SQL lexer/parser/codegen stages dropped since this
// module's scope stops at the executor layer (no SQL surface).
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/sirupsen/logrus"

	"coredb/concurrency/lockmgr"
	"coredb/execution/exec"
	"coredb/execution/memheap"
	"coredb/storage/buffer"
	"coredb/storage/diskmgr"
	"coredb/storage/index"
	"coredb/types"
)

func intKey(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

type intEvaluator struct{}

func (intEvaluator) Evaluate(t types.Tuple, schema *types.Schema) (any, error) { return nil, nil }
func (intEvaluator) EvaluateJoin(left types.Tuple, leftSchema *types.Schema, right types.Tuple, rightSchema *types.Schema) (any, error) {
	li := leftSchema.IndexOf("dept_id")
	ri := rightSchema.IndexOf("id")
	return left.Values[li] == right.Values[ri], nil
}

func main() {
	log := logrus.StandardLogger()

	dbFile, err := os.CreateTemp("", "coredb-demo-*.db")
	if err != nil {
		log.Fatal(err)
	}
	dbPath := dbFile.Name()
	dbFile.Close()
	defer os.Remove(dbPath)

	disk, err := diskmgr.Open(dbPath, log)
	if err != nil {
		log.Fatal(err)
	}
	defer disk.Shutdown()

	bp := buffer.NewBufferPool(64, 5, disk, log)

	employeeIndex, err := index.Open("employees_pk", bp, bytes.Compare, 4, 4, log)
	if err != nil {
		log.Fatal(err)
	}

	lm := lockmgr.New(log)
	stopDetector := lm.StartDeadlockDetector(time.Second)
	defer stopDetector()

	cat := memheap.NewCatalog()
	empSchema := &types.Schema{Columns: []types.Column{
		{Name: "id", Type: "int"},
		{Name: "name", Type: "string"},
		{Name: "dept_id", Type: "int"},
	}}
	deptSchema := &types.Schema{Columns: []types.Column{
		{Name: "id", Type: "int"},
		{Name: "name", Type: "string"},
	}}
	empInfo := cat.CreateTable("employees", empSchema)
	deptInfo := cat.CreateTable("departments", deptSchema)
	cat.CreateIndex("employees_pk", "employees", func(t types.Tuple, s *types.Schema) []byte {
		return intKey(int64(t.Values[0].(int)))
	}, index.AsIndex{BPlusTree: employeeIndex})

	txn := lm.Begin(lockmgr.ReadCommitted)
	ctx := &exec.ExecContext{Txn: txn, LockMgr: lm, Catalog: cat, Eval: intEvaluator{}, Log: log}

	faker := gofakeit.New(42)
	seedDepts := []types.Tuple{
		{Values: []any{1, faker.JobTitle()}},
		{Values: []any{2, faker.JobTitle()}},
	}
	seedEmps := []types.Tuple{
		{Values: []any{1, faker.Name(), 1}},
		{Values: []any{2, faker.Name(), 1}},
		{Values: []any{3, faker.Name(), 2}},
	}

	insertDept := exec.NewInsertExecutor(ctx, deptInfo.OID, literalExecutor(deptSchema, seedDepts))
	if err := run(insertDept); err != nil {
		log.Fatal(err)
	}
	insertEmp := exec.NewInsertExecutor(ctx, empInfo.OID, literalExecutor(empSchema, seedEmps))
	if err := run(insertEmp); err != nil {
		log.Fatal(err)
	}

	fmt.Println("=== sequential scan: employees ===")
	scan := exec.NewSeqScanExecutor(ctx, empInfo.OID)
	printAll(scan)

	fmt.Println("=== nested loop join: employees x departments ===")
	empScan := exec.NewSeqScanExecutor(ctx, empInfo.OID)
	deptScan := exec.NewSeqScanExecutor(ctx, deptInfo.OID)
	join := exec.NewNestedLoopJoinExecutor(ctx.Eval, exec.InnerJoin, empScan, deptScan)
	printAll(join)

	fmt.Println("=== aggregate: headcount per department ===")
	empScan2 := exec.NewSeqScanExecutor(ctx, empInfo.OID)
	agg := exec.NewAggregateExecutor(empScan2, []string{"dept_id"}, []exec.AggSpec{{Func: exec.CountStar, Alias: "headcount"}})
	printAll(agg)
}

type literalExec struct {
	schema *types.Schema
	tuples []types.Tuple
	idx    int
}

func literalExecutor(schema *types.Schema, tuples []types.Tuple) exec.Executor {
	return &literalExec{schema: schema, tuples: tuples}
}

func (l *literalExec) Init() error { l.idx = 0; return nil }
func (l *literalExec) Next() (types.Tuple, types.RID, bool, error) {
	if l.idx >= len(l.tuples) {
		return types.Tuple{}, types.RID{}, false, nil
	}
	t := l.tuples[l.idx]
	l.idx++
	return t, types.RID{}, true, nil
}
func (l *literalExec) Schema() *types.Schema { return l.schema }

func run(e exec.Executor) error {
	if err := e.Init(); err != nil {
		return err
	}
	_, _, _, err := e.Next()
	return err
}

func printAll(e exec.Executor) {
	if err := e.Init(); err != nil {
		fmt.Println("error:", err)
		return
	}
	for {
		tuple, _, ok, err := e.Next()
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if !ok {
			return
		}
		fmt.Println(tuple.Values)
	}
}
