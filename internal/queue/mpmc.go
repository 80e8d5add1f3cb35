package queue

import (
	"context"
	"runtime"
	"sync/atomic"
)

const (
	// Cache line size for padding to prevent false sharing
	cacheLinePadding = 128
	// Maximum spin attempts before parking on the notify channel
	maxSpinAttempts = 10
)

// mpmcSlot represents a single slot in the ring buffer
type mpmcSlot[T any] struct {
	// Sequence number for synchronization
	sequence uint64
	// The actual data
	value T
	// Padding to prevent false sharing between slots
	_ [cacheLinePadding - 16]byte
}

// MPMC is a bounded, lock-free multi-producer multi-consumer ring.
//
// It carries two capacities: the logical limit reported through Full, which
// producers that respect back-pressure check before calling Put, and the
// physical ring size (at least twice the limit), which leaves room for control
// values such as shutdown sentinels that must go through even when the queue is
// logically full.
type MPMC[T any] struct {
	ring []mpmcSlot[T]
	// Capacity mask (capacity - 1) for fast modulo
	mask uint64

	// Head and tail positions with padding to prevent false sharing
	_    [cacheLinePadding]byte
	head uint64
	_    [cacheLinePadding - 8]byte
	tail uint64
	_    [cacheLinePadding - 8]byte

	closed atomic.Bool

	// Notification channel for data (BUFFERED, NEVER CLOSED)
	notifyC chan struct{}

	// Notification channel for shutdown (CLOSED ON CLOSE)
	closeC chan struct{}

	limit    int
	capacity int
}

// NewMPMC creates a ring whose Full reports true once limit items are queued.
func NewMPMC[T any](limit int) *MPMC[T] {
	if limit <= 0 {
		limit = 1
	}

	capacity := nextPowerOfTwo(2 * limit)
	ring := make([]mpmcSlot[T], capacity)

	for i := range ring {
		ring[i].sequence = uint64(i) // #nosec G115 -- i is loop index within valid ring bounds
	}

	return &MPMC[T]{
		ring:     ring,
		mask:     uint64(capacity - 1), // #nosec G115 -- capacity is validated positive, no overflow possible
		limit:    limit,
		capacity: capacity,
		notifyC:  make(chan struct{}, 1),
		closeC:   make(chan struct{}),
	}
}

// Put adds an item without blocking.
// Returns ErrQueueClosed if the queue is closed and ErrQueueFull if the ring
// itself has no free slot.
func (q *MPMC[T]) Put(value T) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	spinCount := 0

	for {
		_, tail, slot, diff := q.load(false)
		if diff == 0 {
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				slot.value = value
				atomic.StoreUint64(&slot.sequence, tail+1)
				q.notify()
				return nil
			}
			continue
		}

		if diff < 0 {
			return ErrQueueFull
		}

		spinCount++
		if spinCount > maxSpinAttempts {
			runtime.Gosched()
			spinCount = 0
		}
	}
}

// Dequeue removes and returns an item, blocking until one is available.
// Returns ErrQueueClosed once the queue is closed and drained, or ctx.Err()
// when ctx is done first.
func (q *MPMC[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	spinCount := 0

	for {
		if q.isClosed() {
			return zero, ErrQueueClosed
		}

		head, _, slot, diff := q.load(true)
		if diff == 0 {
			if val, ok := q.deque(head, slot); ok {
				return val, nil
			}
			continue
		}

		spinCount++
		if spinCount < maxSpinAttempts {
			runtime.Gosched()
			continue
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.closeC:
			spinCount = 0
		case <-q.notifyC:
			spinCount = 0
		}
	}
}

// TryDequeue attempts to dequeue an item without blocking
// Returns (value, true) if successful, (zero, false) if queue is empty
func (q *MPMC[T]) TryDequeue() (T, bool) {
	var zero T

	if q.isClosed() {
		return zero, false
	}

	head, _, slot, diff := q.load(true)
	if diff == 0 {
		return q.deque(head, slot)
	}

	return zero, false
}

func (q *MPMC[T]) deque(head uint64, slot *mpmcSlot[T]) (T, bool) {
	var zero T
	if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
		value := slot.value
		slot.value = zero
		// if head is N, next sequence should be N + capacity
		atomic.StoreUint64(&slot.sequence, head+q.mask+1)
		// A single token in notifyC may stand for several items; hand it on
		// so a parked consumer does not sleep through queued work.
		if q.Len() > 0 {
			q.notify()
		}
		return value, true
	}
	return zero, false
}

func (q *MPMC[T]) notify() {
	select {
	case q.notifyC <- struct{}{}:
	default:
	}
}

// isClosed checks if the queue is closed and empty
func (q *MPMC[T]) isClosed() bool {
	if q.closed.Load() {
		head := atomic.LoadUint64(&q.head)
		tail := atomic.LoadUint64(&q.tail)
		if head >= tail {
			return true
		}
	}
	return false
}

// load atomically loads head and tail positions and the corresponding slot
// Also computes the difference between slot sequence and expected sequence
func (q *MPMC[T]) load(ishead bool) (head uint64, tail uint64, slot *mpmcSlot[T], diff int64) {
	head = atomic.LoadUint64(&q.head)
	tail = atomic.LoadUint64(&q.tail)

	pos := tail
	if ishead {
		pos = head
	}

	index := pos & q.mask
	slot = &q.ring[index]
	seq := atomic.LoadUint64(&slot.sequence)

	if ishead {
		diff = int64(seq) - int64(head+1) // #nosec G115 -- intentional conversion for sequence comparison
	} else {
		diff = int64(seq) - int64(tail) // #nosec G115 -- intentional conversion for sequence comparison
	}

	return
}

// Len returns the approximate number of items in the queue
func (q *MPMC[T]) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)

	if tail > head {
		return int(tail - head) // #nosec G115 -- safe conversion, tail > head guarantees result fits in int
	}
	return 0
}

// Full reports whether the logical limit has been reached.
func (q *MPMC[T]) Full() bool {
	return q.Len() >= q.limit
}

// Limit returns the logical capacity passed to NewMPMC.
func (q *MPMC[T]) Limit() int {
	return q.limit
}

// Close marks the queue as closed. Items already queued can still be
// dequeued; Put fails from now on.
func (q *MPMC[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.closeC)
	}
}

// Closed reports whether Close has been called.
func (q *MPMC[T]) Closed() bool {
	return q.closed.Load()
}

// nextPowerOfTwo returns the next power of 2 >= n
func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	if n&(n-1) == 0 {
		return n
	}

	power := 1
	for power < n {
		power *= 2
	}
	return power
}
