package scheduler

import (
	"container/heap"
	"sync"

	"drift-benchmark/core/models"
)

// RunQueue is a priority queue for submitted runs
type RunQueue struct {
	runs []*QueuedRun
	mu   sync.Mutex
}

// QueuedRun wraps a run with priority information
type QueuedRun struct {
	Run      *models.Run
	Priority float64 // Lower is higher priority
	Index    int     // For heap.Interface
}

// NewRunQueue creates a new run queue
func NewRunQueue() *RunQueue {
	rq := &RunQueue{
		runs: make([]*QueuedRun, 0),
	}
	heap.Init(rq)
	return rq
}

// Enqueue adds a run to the queue
func (rq *RunQueue) Enqueue(run *models.Run) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	heap.Push(rq, &QueuedRun{
		Run:      run,
		Priority: calculatePriority(run),
	})
}

// PopRun removes and returns the highest priority run
func (rq *RunQueue) PopRun() *models.Run {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.Len() == 0 {
		return nil
	}

	item := heap.Pop(rq).(*QueuedRun)
	return item.Run
}

// Len returns the number of runs in the queue
func (rq *RunQueue) Len() int {
	return len(rq.runs)
}

// Less compares two runs for priority. Evaluate-only runs jump the line
// because they reuse existing artifacts and finish quickly; within a
// mode, earlier submissions go first.
func (rq *RunQueue) Less(i, j int) bool {
	return rq.runs[i].Priority < rq.runs[j].Priority
}

// Swap swaps two runs
func (rq *RunQueue) Swap(i, j int) {
	rq.runs[i], rq.runs[j] = rq.runs[j], rq.runs[i]
	rq.runs[i].Index = i
	rq.runs[j].Index = j
}

// Push implements heap.Interface
func (rq *RunQueue) Push(x interface{}) {
	n := len(rq.runs)
	item := x.(*QueuedRun)
	item.Index = n
	rq.runs = append(rq.runs, item)
}

// Pop implements heap.Interface
func (rq *RunQueue) Pop() interface{} {
	old := rq.runs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	rq.runs = old[0 : n-1]
	return item
}

// calculatePriority maps a run to its queue priority
func calculatePriority(run *models.Run) float64 {
	priority := float64(run.CreatedAt.UnixNano())
	if run.Mode == models.ModeEvaluateOnly {
		priority -= 1e18
	}
	return priority
}
