package interaction

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

const (
	DefaultWorkers = 2
	DefaultBuffer  = 64
)

var (
	ErrQueueFull   = errors.New("interaction queue full")
	ErrQueueClosed = errors.New("interaction queue closed")
)

type Task func(ctx context.Context)

// Queue is a FIFO with a fixed worker budget. Enqueue never blocks.
type Queue struct {
	workers int
	tasks   chan Task

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	active  atomic.Int32
}

func NewQueue(workers, buffer int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Queue{workers: workers, tasks: make(chan Task, buffer)}
}

// Start launches the workers. ctx is handed to every task; cancelling it does
// not stop the workers, Stop does.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.loop(ctx, i+1)
	}
}

func (q *Queue) loop(ctx context.Context, id int) {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(ctx, id, t)
	}
}

func (q *Queue) run(ctx context.Context, id int, t Task) {
	q.active.Add(1)
	defer q.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("interaction worker=%d panic: %v\n", id, r)
		}
	}()
	t(ctx)
}

func (q *Queue) Enqueue(t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new tasks, lets the workers drain what is queued and waits.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) Pending() int { return len(q.tasks) }

func (q *Queue) Active() int { return int(q.active.Load()) }
