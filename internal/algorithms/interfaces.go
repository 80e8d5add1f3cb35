package algorithms

import "time"

// BackoffStrategy computes how long to wait before the next attempt.
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attemptNumber
	// (0 = first retry after the initial failure).
	NextDelay(attemptNumber int, lastError error) time.Duration

	// Reset clears any per-sequence state.
	Reset()
}
