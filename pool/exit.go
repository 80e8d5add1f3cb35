package pool

import (
	"sync"
	"sync/atomic"
)

// exitRegistry tracks every pool whose manager goroutine is running so that
// ShutdownAll can drain them before the program exits.
var exitRegistry = &managerRegistry{
	pools: make(map[*poolState]struct{}),
}

type managerRegistry struct {
	mu      sync.Mutex
	pools   map[*poolState]struct{}
	exiting atomic.Bool
}

// register adds s unless ShutdownAll has already run.
func (r *managerRegistry) register(s *poolState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exiting.Load() {
		return false
	}
	r.pools[s] = struct{}{}
	return true
}

func (r *managerRegistry) unregister(s *poolState) {
	r.mu.Lock()
	delete(r.pools, s)
	r.mu.Unlock()
}

func (r *managerRegistry) snapshot() []*poolState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*poolState, 0, len(r.pools))
	for s := range r.pools {
		out = append(out, s)
	}
	return out
}

// ShutdownAll stops every running pool in the program: no pool accepts new
// calls afterwards, calls already submitted still complete, and ShutdownAll
// returns once every worker process has exited. Call it (or defer it) at
// the end of main.
func ShutdownAll() {
	// Setting exiting under mu orders it against register: a pool is either
	// in the snapshot or never starts.
	exitRegistry.mu.Lock()
	exitRegistry.exiting.Store(true)
	exitRegistry.mu.Unlock()

	pools := exitRegistry.snapshot()
	for _, s := range pools {
		s.wakeup()
	}

	for _, s := range pools {
		<-s.managerDone
	}
}
