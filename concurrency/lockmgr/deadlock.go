package lockmgr

import (
	"sort"
	"time"
)

// StartDeadlockDetector launches the background actor of spec.md
// §4.6.6: it wakes every interval, builds a wait-for graph over both
// queue maps, and aborts the youngest transaction on any cycle it
// finds. Call the returned function to stop it.
func (lm *LockManager) StartDeadlockDetector(interval time.Duration) (stop func()) {
	lm.stopDetector = make(chan struct{})
	lm.detectorDone = make(chan struct{})

	go func() {
		defer close(lm.detectorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-lm.stopDetector:
				return
			case <-ticker.C:
				lm.runDetectionPass()
			}
		}
	}()

	return func() {
		close(lm.stopDetector)
		<-lm.detectorDone
	}
}

// runDetectionPass snapshots each queue map under its own mutex in
// turn and releases that mutex right after the snapshot, before any
// per-queue mutex is taken: the two map mutexes are never held
// together, and neither is held while the graph is built. A queue
// created after its map's snapshot is first seen by the next pass.
func (lm *LockManager) runDetectionPass() {
	lm.tableMapMu.Lock()
	tableQueues := make([]*lockQueue, 0, len(lm.tableQueues))
	for _, q := range lm.tableQueues {
		tableQueues = append(tableQueues, q)
	}
	lm.tableMapMu.Unlock()

	lm.rowMapMu.Lock()
	rowQueues := make([]*lockQueue, 0, len(lm.rowQueues))
	for _, q := range lm.rowQueues {
		rowQueues = append(rowQueues, q)
	}
	lm.rowMapMu.Unlock()

	graph := map[TxnID]map[TxnID]struct{}{}
	txnByID := map[TxnID]*Transaction{}
	addEdge := func(from, to *Transaction) {
		if from.id == to.id {
			return
		}
		if graph[from.id] == nil {
			graph[from.id] = map[TxnID]struct{}{}
		}
		graph[from.id][to.id] = struct{}{}
		txnByID[from.id] = from
		txnByID[to.id] = to
	}

	for _, queues := range [][]*lockQueue{tableQueues, rowQueues} {
		for _, q := range queues {
			q.mu.Lock()
			var granted, waiting []*lockRequest
			for _, r := range q.requests {
				if r.granted {
					granted = append(granted, r)
				} else {
					waiting = append(waiting, r)
				}
			}
			for _, w := range waiting {
				for _, g := range granted {
					addEdge(w.txn, g.txn)
				}
			}
			q.mu.Unlock()
		}
	}

	victim, found := findCycleYoungest(graph)
	if !found {
		return
	}
	v := txnByID[victim]
	v.SetState(Aborted)
	lm.notifyAllQueuesOf(v, tableQueues, rowQueues)
}

// notifyAllQueuesOf wakes every queue the victim has a request on so
// its blocked waitAndGrant call re-checks state and unwinds.
func (lm *LockManager) notifyAllQueuesOf(victim *Transaction, queueSets ...[]*lockQueue) {
	for _, queues := range queueSets {
		for _, q := range queues {
			q.mu.Lock()
			hasVictim := findRequest(q, victim) != nil
			q.mu.Unlock()
			if hasVictim {
				q.cond.Broadcast()
			}
		}
	}
}

// findCycleYoungest runs DFS from every node (visited in sorted order
// for determinism) looking for a cycle; the victim is the largest
// (youngest) transaction id appearing on the first cycle found.
func findCycleYoungest(graph map[TxnID]map[TxnID]struct{}) (TxnID, bool) {
	nodes := make([]TxnID, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := map[TxnID]int{}
	var path []TxnID

	var dfs func(u TxnID) (TxnID, bool)
	dfs = func(u TxnID) (TxnID, bool) {
		state[u] = onStack
		path = append(path, u)

		neighbors := make([]TxnID, 0, len(graph[u]))
		for v := range graph[u] {
			neighbors = append(neighbors, v)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, v := range neighbors {
			switch state[v] {
			case unvisited:
				if victim, ok := dfs(v); ok {
					return victim, true
				}
			case onStack:
				return youngestOnCycle(path, v), true
			}
		}

		path = path[:len(path)-1]
		state[u] = done
		return 0, false
	}

	for _, n := range nodes {
		if state[n] == unvisited {
			if victim, ok := dfs(n); ok {
				return victim, true
			}
		}
	}
	return 0, false
}

// youngestOnCycle returns the largest id among path[indexOf(start):].
func youngestOnCycle(path []TxnID, start TxnID) TxnID {
	i := 0
	for ; i < len(path); i++ {
		if path[i] == start {
			break
		}
	}
	youngest := start
	for ; i < len(path); i++ {
		if path[i] > youngest {
			youngest = path[i]
		}
	}
	return youngest
}
