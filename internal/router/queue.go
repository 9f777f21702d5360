package router

import "sync"

// queue is a thread-safe unbounded FIFO.
//
// The queue is unbounded so handlers can enqueue arbitrarily many follow-on
// events without blocking. A buffered signal channel of size 1 lets a
// consumer wait for work with select, alongside context cancellation.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front item without blocking.
func (q *queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]

	// Zero the slot so the backing array does not retain the item.
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return item, true
}

// Snapshot returns a copy of the queued items, front first.
func (q *queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Clear drops every queued item and returns how many were dropped.
func (q *queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}

// Wait returns a channel that signals when items may be available. It is
// closed by Close.
func (q *queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes any waiter.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
