package kitchen

import (
	"sync"

	"github.com/sconehq/scone/internal/graph"
)

// nextResult tells a worker what its last call to readyQueue.next produced.
type nextResult int

const (
	// nextJob means a real vertex was dequeued; cook it.
	nextJob nextResult = iota
	// nextContinue means a shutdown sentinel was consumed; loop and check
	// again (more sentinels or real work may still be queued).
	nextContinue
	// nextStop means this worker is done: the queue was empty and every
	// other worker was already idle.
	nextStop
)

// readyQueue is the shared cookable-vertex queue every kitchen worker
// drains. It has no capacity limit, unlike a buffered Go channel, since the
// number of vertices that can become ready at once is unbounded. Shutdown
// is signalled by a nil "sentinel" entry that cascades: the worker that
// notices the queue has gone idle enqueues one sentinel and stops: the
// worker that dequeues it re-checks the same idle condition and, finding it
// still holds, enqueues another sentinel for the next worker before
// stopping itself, and so on until every worker has exited.
//
// This mirrors the sleeper_slots bookkeeping in the original's
// Kitchen._cooking_worker: sleeperSlots starts at workerCount-1, so only
// once every worker is simultaneously blocked waiting on an empty queue
// does the count drop enough to trip shutdown.
type readyQueue struct {
	mu            sync.Mutex
	cond          *sync.Cond
	items         []graph.Vertex
	sentinels     int
	sleeperSlots  int
}

func newReadyQueue(workerCount int) *readyQueue {
	q := &readyQueue{sleeperSlots: workerCount - 1}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a real vertex for some worker to process.
func (q *readyQueue) push(v graph.Vertex) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.cond.Signal()
	q.mu.Unlock()
}

// next implements one iteration of a worker's dequeue loop.
func (q *readyQueue) next() (graph.Vertex, nextResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sleeperSlots <= 0 && len(q.items) == 0 && q.sentinels == 0 {
		q.sleeperSlots--
		q.sentinels++
		q.cond.Signal()
		return nil, nextStop
	}

	q.sleeperSlots--
	for len(q.items) == 0 && q.sentinels == 0 {
		q.cond.Wait()
	}

	if q.sentinels > 0 {
		q.sentinels--
		q.sleeperSlots++
		return nil, nextContinue
	}

	v := q.items[0]
	q.items = q.items[1:]
	q.sleeperSlots++
	return v, nextJob
}
