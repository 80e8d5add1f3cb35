//go:build unix

package pool

import (
	"errors"
	"runtime"
	"slices"
	"testing"
	"time"
)

func TestShutdownAll(t *testing.T) {
	t.Cleanup(func() { exitRegistry.exiting.Store(false) })

	a := newTestPool(t, WithMaxWorkers(1))
	b := newTestPool(t, WithMaxWorkers(1))

	slow, err := Submit[int, int](a, "test.sleep", 200)
	if err != nil {
		t.Fatal(err)
	}
	quick, err := Submit[int, int](b, "test.square", 9)
	if err != nil {
		t.Fatal(err)
	}

	ShutdownAll()

	for _, p := range []*ProcessPool{a, b} {
		select {
		case <-p.Done():
		default:
			t.Errorf("pool %s still running after ShutdownAll", p.ID())
		}
		if len(p.Pids()) != 0 {
			t.Errorf("pool %s still lists workers", p.ID())
		}
	}

	if v, err, ok := slow.TryGet(); !ok || err != nil || v != 200 {
		t.Errorf("slow call: %d, %v, ready=%v", v, err, ok)
	}
	if v, err, ok := quick.TryGet(); !ok || err != nil || v != 81 {
		t.Errorf("quick call: %d, %v, ready=%v", v, err, ok)
	}

	if _, err := Submit[int, int](a, "test.square", 1); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("expected ErrPoolShutdown, got %v", err)
	}

	fresh := newTestPool(t, WithMaxWorkers(1))
	if _, err := Submit[int, int](fresh, "test.square", 1); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("new pools must refuse work while exiting, got %v", err)
	}

	if got := len(exitRegistry.snapshot()); got != 0 {
		t.Errorf("expected no registered managers, got %d", got)
	}
}

func TestProcessPool_CollectedPoolStops(t *testing.T) {
	// start a pool and drop every reference to it
	start := func() (*poolState, *Future[int]) {
		p, err := NewProcessPool(WithMaxWorkers(1))
		if err != nil {
			t.Fatal(err)
		}
		f, err := Submit[int, int](p, "test.square", 7)
		if err != nil {
			t.Fatal(err)
		}
		return p.state, f
	}
	s, f := start()

	if v, err := getWithin(t, f, 10*time.Second); err != nil || v != 49 {
		t.Fatalf("expected 49, got %d (%v)", v, err)
	}

	deadline := time.After(10 * time.Second)
	for {
		runtime.GC()
		select {
		case <-s.managerDone:
			if s.workerCount() != 0 {
				t.Error("collected pool left workers behind")
			}
			return
		case <-deadline:
			t.Fatal("manager kept running after its pool was collected")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// A pool whose first Submit races ShutdownAll either gets waited on or never
// starts.
func TestShutdownAll_RefusesLateStart(t *testing.T) {
	t.Cleanup(func() { exitRegistry.exiting.Store(false) })

	s := newIdleState(t, WithMaxWorkers(1))
	ShutdownAll()

	s.mu.Lock()
	err := s.start()
	s.mu.Unlock()

	if !errors.Is(err, ErrPoolShutdown) {
		t.Fatalf("expected ErrPoolShutdown, got %v", err)
	}
	if s.workerCount() != 0 {
		t.Error("late start spawned workers")
	}
	if slices.Contains(exitRegistry.snapshot(), s) {
		t.Error("late start was registered")
	}
}
