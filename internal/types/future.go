// Package types defines the records exchanged between the process pool, its
// management goroutine and the worker processes, and the future that carries
// each call's outcome back to the caller.
package types

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrCancelled = errors.New("future was cancelled")

// FutureState is the lifecycle position of a Future.
type FutureState int

const (
	FuturePending FutureState = iota
	FutureRunning
	FutureCancelled
	FutureFinished
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureRunning:
		return "running"
	case FutureCancelled:
		return "cancelled"
	case FutureFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Future holds the outcome of one submitted call as raw JSON.
//
// The management goroutine is the only writer (SetRunningOrNotifyCancel,
// SetResult, SetException); callers read the outcome and may Cancel while the
// call has not been dispatched yet.
type Future struct {
	mu     sync.Mutex
	state  FutureState
	result json.RawMessage
	err    error
	done   chan struct{}
	workID uint64
}

// NewFuture creates a pending future for the given work id.
func NewFuture(workID uint64) *Future {
	return &Future{
		done:   make(chan struct{}),
		workID: workID,
	}
}

// WorkID returns the id of the call this future belongs to.
func (f *Future) WorkID() uint64 {
	return f.workID
}

// State returns the current lifecycle state.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetRunningOrNotifyCancel moves a pending future to running and reports true.
// It reports false when the future was cancelled first, or is already past
// pending, in which case the call must not be dispatched.
func (f *Future) SetRunningOrNotifyCancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FuturePending {
		return false
	}
	f.state = FutureRunning
	return true
}

// SetResult completes the future with a value. It reports false if the
// future had already reached a terminal state.
func (f *Future) SetResult(result json.RawMessage) bool {
	return f.finish(result, nil)
}

// SetException completes the future with an error. It reports false if the
// future had already reached a terminal state.
func (f *Future) SetException(err error) bool {
	return f.finish(nil, err)
}

func (f *Future) finish(result json.RawMessage, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == FutureCancelled || f.state == FutureFinished {
		return false
	}
	f.state = FutureFinished
	f.result = result
	f.err = err
	close(f.done)
	return true
}

// Cancel cancels a future that has not been dispatched yet. It reports
// whether the future is cancelled after the call.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case FutureCancelled:
		return true
	case FuturePending:
		f.state = FutureCancelled
		f.err = ErrCancelled
		close(f.done)
		return true
	default:
		return false
	}
}

// Cancelled reports whether the future was cancelled.
func (f *Future) Cancelled() bool {
	return f.State() == FutureCancelled
}

// Running reports whether the call has been dispatched and not finished.
func (f *Future) Running() bool {
	return f.State() == FutureRunning
}

// Done returns a channel closed once the future is finished or cancelled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsReady reports whether the outcome is available without blocking.
func (f *Future) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the outcome is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// TryResult returns the outcome if it is available; ok is false otherwise.
func (f *Future) TryResult() (result json.RawMessage, err error, ok bool) {
	if !f.IsReady() {
		return nil, nil, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err, true
}
