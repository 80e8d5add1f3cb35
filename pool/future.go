package pool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/utkarsh5026/procpool/internal/types"
)

// Future is the pending result of one submitted call.
type Future[R any] struct {
	f *types.Future
}

func newFuture[R any](f *types.Future) *Future[R] {
	return &Future[R]{f: f}
}

// Get blocks until the call has finished and returns its result.
func (f *Future[R]) Get() (R, error) {
	return f.GetWithContext(context.Background())
}

// GetWithContext blocks until the call has finished or ctx is done.
// Giving up on ctx does not cancel the call.
func (f *Future[R]) GetWithContext(ctx context.Context) (R, error) {
	raw, err := f.f.Wait(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	return decodeResult[R](raw)
}

// TryGet returns the result without blocking; ready is false if the call
// has not finished yet.
func (f *Future[R]) TryGet() (result R, err error, ready bool) {
	raw, err, ready := f.f.TryResult()
	if !ready || err != nil {
		return result, err, ready
	}
	result, err = decodeResult[R](raw)
	return result, err, true
}

// Done returns a channel closed when the call has finished or was cancelled.
func (f *Future[R]) Done() <-chan struct{} {
	return f.f.Done()
}

// IsReady reports whether the outcome is available.
func (f *Future[R]) IsReady() bool {
	return f.f.IsReady()
}

// Cancel prevents the call from running if it has not been handed to a
// worker yet. It reports whether the future is cancelled.
func (f *Future[R]) Cancel() bool {
	return f.f.Cancel()
}

// Cancelled reports whether the future was cancelled.
func (f *Future[R]) Cancelled() bool {
	return f.f.Cancelled()
}

// Running reports whether the call has been handed to a worker and has not
// finished.
func (f *Future[R]) Running() bool {
	return f.f.Running()
}

// WorkID returns the id the pool assigned to the call.
func (f *Future[R]) WorkID() uint64 {
	return f.f.WorkID()
}

func decodeResult[R any](raw json.RawMessage) (R, error) {
	var v R
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode result as %T: %w", v, err)
	}
	return v, nil
}
