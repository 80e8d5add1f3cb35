// Package queue holds the in-process queues the process pool is built on: a
// bounded lock-free ring for calls waiting to be handed to a worker process,
// and an unbounded FIFO for work ids and results.
package queue

import "errors"

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)
