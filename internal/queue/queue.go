// Package queue is the in-process priority job queue that keeps audit
// and retention work off the request path. Delivery is at-most-once and
// non-durable: a dropped or failed job is logged and forgotten, never
// retried, and never surfaced to the enqueuer.
package queue

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type names a job kind.
type Type string

const (
	TypeAudit     Type = "audit"
	TypeRetention Type = "retention"
)

// Job is one unit of background work.
type Job struct {
	ID         string
	Type       Type
	Payload    any
	Priority   int // higher runs first
	EnqueuedAt time.Time

	seq uint64 // FIFO tiebreaker within a priority
}

// Handler executes a job. A returned error is logged and dropped.
type Handler func(ctx context.Context, job Job) error

// Queue is a heap-backed priority queue drained by a small worker pool.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	jobs     jobHeap
	capacity int
	seq      uint64
	closed   bool

	handlers map[Type]Handler
	workers  int
	wg       sync.WaitGroup

	rejected  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// New creates a Queue with the given capacity and worker count.
func New(capacity, workers int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workers <= 0 {
		workers = 2
	}
	q := &Queue{
		capacity: capacity,
		workers:  workers,
		handlers: make(map[Type]Handler),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Register binds a handler to a job type. Must be called before Start.
func (q *Queue) Register(t Type, h Handler) {
	q.handlers[t] = h
}

// Start launches the worker pool. Workers run until Stop.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Enqueue adds a job without ever blocking the caller. Returns false
// when the queue is full or stopped; the job is counted as rejected and
// dropped.
func (q *Queue) Enqueue(t Type, payload any, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.jobs.Len() >= q.capacity {
		q.rejected.Add(1)
		if !q.closed {
			log.Printf("queue: full (cap=%d), dropping %s job", q.capacity, t)
		}
		return false
	}

	q.seq++
	heap.Push(&q.jobs, Job{
		ID:         uuid.NewString(),
		Type:       t,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		seq:        q.seq,
	})
	q.cond.Signal()
	return true
}

// Stop closes the queue and waits up to timeout for workers to drain
// what is already queued. Anything still queued after the timeout is
// abandoned — at-most-once delivery permits that.
func (q *Queue) Stop(timeout time.Duration) {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("queue: stop timed out after %s, abandoning queued jobs", timeout)
	}
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

// Rejected returns the number of jobs dropped at enqueue time.
func (q *Queue) Rejected() int64 { return q.rejected.Load() }

// Processed returns the number of jobs that completed (with or without
// error).
func (q *Queue) Processed() int64 { return q.processed.Load() }

// Failed returns the number of jobs whose handler returned an error or
// panicked.
func (q *Queue) Failed() int64 { return q.failed.Load() }

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for q.jobs.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.jobs.Len() == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		job := heap.Pop(&q.jobs).(Job)
		q.mu.Unlock()

		q.run(ctx, id, job)
	}
}

// run executes one job. Failures and panics are logged and swallowed:
// background work must never propagate into the request path.
func (q *Queue) run(ctx context.Context, workerID int, job Job) {
	defer func() {
		q.processed.Add(1)
		if r := recover(); r != nil {
			q.failed.Add(1)
			log.Printf("queue: worker %d panic in %s job %s: %v", workerID, job.Type, job.ID, r)
		}
	}()

	h, ok := q.handlers[job.Type]
	if !ok {
		q.failed.Add(1)
		log.Printf("queue: no handler for %s job %s", job.Type, job.ID)
		return
	}
	if err := h(ctx, job); err != nil {
		q.failed.Add(1)
		log.Printf("queue: %s job %s failed: %v", job.Type, job.ID, err)
	}
}

// jobHeap orders by priority desc, then enqueue order.
type jobHeap []Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
