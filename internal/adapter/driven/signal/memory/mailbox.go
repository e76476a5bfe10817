package memory

import "sync"

// mailbox delivers items to fn in push order on its own goroutine.
type mailbox[T any] struct {
	mu      sync.Mutex
	items   []T
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newMailbox[T any](fn func(T)) *mailbox[T] {
	mb := &mailbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go mb.loop(fn)
	return mb
}

func (mb *mailbox[T]) push(items ...T) {
	mb.mu.Lock()
	if mb.stopped {
		mb.mu.Unlock()
		return
	}
	mb.items = append(mb.items, items...)
	select {
	case mb.wake <- struct{}{}:
	default:
	}
	mb.mu.Unlock()
}

func (mb *mailbox[T]) stop() {
	mb.mu.Lock()
	if mb.stopped {
		mb.mu.Unlock()
		return
	}
	mb.stopped = true
	mb.items = nil
	close(mb.wake)
	mb.mu.Unlock()
}

func (mb *mailbox[T]) loop(fn func(T)) {
	defer close(mb.done)
	for range mb.wake {
		for {
			mb.mu.Lock()
			if mb.stopped || len(mb.items) == 0 {
				mb.mu.Unlock()
				break
			}
			item := mb.items[0]
			mb.items = mb.items[1:]
			mb.mu.Unlock()
			fn(item)
		}
	}
}
