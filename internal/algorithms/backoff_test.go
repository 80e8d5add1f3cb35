package algorithms

import (
	"sync"
	"testing"
	"time"
)

func TestExponentialBackoff_NextDelay(t *testing.T) {
	tests := []struct {
		name          string
		initialDelay  time.Duration
		maxDelay      time.Duration
		attemptNumber int
		want          time.Duration
	}{
		{"first attempt", 10 * time.Millisecond, time.Second, 0, 10 * time.Millisecond},
		{"second attempt doubles", 10 * time.Millisecond, time.Second, 1, 20 * time.Millisecond},
		{"fourth attempt", 10 * time.Millisecond, time.Second, 3, 80 * time.Millisecond},
		{"negative attempt returns zero", 10 * time.Millisecond, time.Second, -1, 0},
		{"capped at max delay", 100 * time.Millisecond, 500 * time.Millisecond, 10, 500 * time.Millisecond},
		{"huge attempt does not overflow", 100 * time.Millisecond, 500 * time.Millisecond, 200, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eb := newExponentialBackoff(tt.initialDelay, tt.maxDelay)
			if got := eb.NextDelay(tt.attemptNumber, nil); got != tt.want {
				t.Errorf("NextDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJitteredBackoff_NextDelay(t *testing.T) {
	tests := []struct {
		name          string
		jitterFactor  float64
		attemptNumber int
		wantMin       time.Duration
		wantMax       time.Duration
	}{
		{"first attempt", 0.1, 0, 90 * time.Millisecond, 110 * time.Millisecond},
		{"second attempt", 0.1, 1, 180 * time.Millisecond, 220 * time.Millisecond},
		{"no jitter", 0, 0, 100 * time.Millisecond, 100 * time.Millisecond},
		{"negative attempt", 0.1, -1, 0, 0},
		{"capped", 0.5, 20, 0, time.Second},
		{"factor above one is clamped", 3, 0, 0, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jb := newJitteredBackoff(100*time.Millisecond, time.Second, tt.jitterFactor)
			for range 20 {
				got := jb.NextDelay(tt.attemptNumber, nil)
				if got < tt.wantMin || got > tt.wantMax {
					t.Fatalf("NextDelay() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
				}
			}
		})
	}
}

func TestJitteredBackoff_ThreadSafety(t *testing.T) {
	jb := newJitteredBackoff(time.Millisecond, time.Second, 0.2)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jb.NextDelay(i%10, nil)
		}()
	}
	wg.Wait()
}

func TestNewBackoffStrategy(t *testing.T) {
	t.Run("default is exponential", func(t *testing.T) {
		s := NewBackoffStrategy(BackoffExponential, time.Millisecond, time.Second, 0)
		if _, ok := s.(*exponentialBackoff); !ok {
			t.Errorf("expected exponential backoff, got %T", s)
		}
	})

	t.Run("jittered", func(t *testing.T) {
		s := NewBackoffStrategy(BackoffJittered, time.Millisecond, time.Second, 0.2)
		if _, ok := s.(*jitteredBackoff); !ok {
			t.Errorf("expected jittered backoff, got %T", s)
		}
	})

	t.Run("max below initial is raised", func(t *testing.T) {
		s := NewBackoffStrategy(BackoffExponential, 50*time.Millisecond, time.Millisecond, 0)
		if got := s.NextDelay(3, nil); got != 50*time.Millisecond {
			t.Errorf("expected 50ms, got %v", got)
		}
	})
}
