package queue

import "sync"

// FIFO is an unbounded, mutex-guarded queue with a wake-up channel.
//
// Push never blocks. Every Push leaves a token in the channel returned by
// Ready, so a consumer that found the queue empty can select on Ready together
// with other event sources without missing an item pushed in between.
type FIFO[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	ready chan struct{}
}

// NewFIFO creates an empty queue.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{
		ready: make(chan struct{}, 1),
	}
}

// Push appends v to the tail of the queue.
func (q *FIFO[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes the head of the queue, reporting false when it is empty.
func (q *FIFO[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}

	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// compact once the consumed prefix dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return v, true
}

// Drain removes and returns every queued item in order.
func (q *FIFO[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	q.items = nil
	q.head = 0
	return out
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Ready returns the wake-up channel. A receive from it means an item may be
// available; the consumer must still call TryPop.
func (q *FIFO[T]) Ready() <-chan struct{} {
	return q.ready
}
