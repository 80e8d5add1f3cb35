// Package algorithms holds the retry delay strategies used when starting
// worker processes.
package algorithms

import (
	"cmp"
	"math/rand"
	"sync"
	"time"
)

// maxShift bounds 1<<attempt so the multiplication cannot overflow.
const maxShift = 62

// BackoffType selects a BackoffStrategy.
type BackoffType int

const (
	// BackoffExponential doubles the delay on every attempt.
	BackoffExponential BackoffType = iota
	// BackoffJittered randomises the exponential delay by a factor.
	BackoffJittered
)

// NewBackoffStrategy creates a strategy of the given type. jitterFactor is
// only used by BackoffJittered and is clamped to [0, 1].
func NewBackoffStrategy(backoffType BackoffType, initialDelay, maxDelay time.Duration, jitterFactor float64) BackoffStrategy {
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	switch backoffType {
	case BackoffJittered:
		return newJitteredBackoff(initialDelay, maxDelay, jitterFactor)
	default:
		return newExponentialBackoff(initialDelay, maxDelay)
	}
}

// exponentialBackoff waits initialDelay * 2^attempt, capped at maxDelay.
type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

func newExponentialBackoff(initialDelay, maxDelay time.Duration) *exponentialBackoff {
	return &exponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

func (eb *exponentialBackoff) NextDelay(attemptNumber int, _ error) time.Duration {
	return calcExponentialDelay(attemptNumber, eb.initialDelay, eb.maxDelay)
}

func (eb *exponentialBackoff) Reset() {}

// jitteredBackoff spreads the exponential delay by ±jitterFactor so that
// several pools starting at once do not retry fork in lockstep.
type jitteredBackoff struct {
	initialDelay, maxDelay time.Duration
	jitterFactor           float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newJitteredBackoff(initialDelay, maxDelay time.Duration, jitterFactor float64) *jitteredBackoff {
	return &jitteredBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		jitterFactor: clamp(jitterFactor, 0, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter does not need crypto rand
	}
}

func (jb *jitteredBackoff) NextDelay(attemptNumber int, _ error) time.Duration {
	if attemptNumber < 0 {
		return 0
	}

	base := calcExponentialDelay(attemptNumber, jb.initialDelay, jb.maxDelay)

	jb.mu.Lock()
	multiplier := 1.0 + (jb.rng.Float64()*2-1)*jb.jitterFactor
	jb.mu.Unlock()

	return clamp(time.Duration(float64(base)*multiplier), 0, jb.maxDelay)
}

func (jb *jitteredBackoff) Reset() {}

func calcExponentialDelay(attemptNumber int, initialDelay, maxDelay time.Duration) time.Duration {
	if attemptNumber < 0 {
		return 0
	}
	if attemptNumber >= maxShift {
		return maxDelay
	}

	delay := time.Duration(int64(1)<<uint(attemptNumber)) * initialDelay
	if delay > maxDelay || delay < 0 {
		return maxDelay
	}
	return delay
}

func clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
