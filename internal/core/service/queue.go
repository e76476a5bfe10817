package service

import "sync"

// taskQueue is an unbounded FIFO drained by a single goroutine. push never
// blocks, so it is safe to call from transport and relay callbacks while the
// draining goroutine is itself waiting on those components.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *taskQueue) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting tasks. Tasks already queued still run.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *taskQueue) run() {
	defer close(q.done)
	for range q.ready {
		q.mu.Lock()
		batch := q.tasks
		q.tasks = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed {
			q.mu.Lock()
			rest := q.tasks
			q.tasks = nil
			q.mu.Unlock()
			for _, fn := range rest {
				fn()
			}
			return
		}
	}
}
