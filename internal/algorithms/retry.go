package algorithms

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, sleeping according to strategy
// between attempts. It stops early when fn succeeds, when retryable reports
// the error as permanent, or when ctx is done. The last error is returned.
func Retry(ctx context.Context, strategy BackoffStrategy, attempts int, retryable func(error) bool, fn func() error) error {
	attempts = max(attempts, 1)
	strategy.Reset()

	var err error
	for attempt := range attempts {
		if attempt > 0 {
			timer := time.NewTimer(strategy.NextDelay(attempt-1, err))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return err
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
