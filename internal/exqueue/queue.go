package exqueue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Queue is a bounded FIFO shared between one producer and one consumer,
// with removal and shutdown safe to call from a third control path.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	changed  chan struct{}
}

func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// signal wakes every waiter. Caller must hold mu.
func (q *Queue[T]) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push appends item, blocking while the queue is full. It fails with
// ErrClosed once Shutdown has been called.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.signal()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// TryPush appends item without blocking, failing with ErrFull at capacity.
// Callers that prefer dropping over backpressure use this.
func (q *Queue[T]) TryPush(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, item)
	q.signal()
	return nil
}

// Pop removes and returns the head item, blocking until one is available.
// After Shutdown it fails with ErrClosed even when items remain; leftovers
// are recovered with RemoveMatching.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.signal()
			q.mu.Unlock()
			return item, nil
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// RemoveMatching atomically removes every queued item satisfying pred and
// returns them in queue order. Items already handed to a consumer are not
// affected.
func (q *Queue[T]) RemoveMatching(pred func(T) bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed []T
	kept := q.items[:0]
	for _, item := range q.items {
		if pred(item) {
			removed = append(removed, item)
		} else {
			kept = append(kept, item)
		}
	}
	var zero T
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = kept
	if len(removed) > 0 {
		q.signal()
	}
	return removed
}

// Shutdown closes the queue, waking all blocked producers and consumers.
// It is idempotent.
func (q *Queue[T]) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Cap() int {
	return q.capacity
}
