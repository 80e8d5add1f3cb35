package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/procpool/internal/cpu"
	"github.com/utkarsh5026/procpool/internal/queue"
	"github.com/utkarsh5026/procpool/internal/types"
)

// State is the lifecycle position of a ProcessPool.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateShuttingDown
	StateBroken
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateBroken:
		return "broken"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	State   State
	Workers int
	Pending int
	Queued  int
}

// ShutdownOptions controls Shutdown.
type ShutdownOptions struct {
	// Wait blocks until every pending call has an outcome and every worker
	// process has exited.
	Wait bool
	// CancelFutures cancels every pending call that has not been handed to
	// a worker yet.
	CancelFutures bool
}

// ProcessPool executes registered functions in worker processes.
//
// A ProcessPool is safe for concurrent use. Workers and the manager
// goroutine start on the first Submit. If a pool becomes unreachable
// without being shut down, its manager drains outstanding work and stops
// the workers.
type ProcessPool struct {
	state *poolState
}

// poolState is everything the manager goroutine needs. It holds no
// reference to the ProcessPool, so the pool can be collected while the
// manager runs.
type poolState struct {
	id      string
	cfg     *poolConfig
	log     zerolog.Logger
	metrics *poolMetrics

	// mu serialises Submit, Shutdown and the lazy start.
	mu      sync.Mutex
	nextID  uint64
	started bool

	alive             atomic.Bool
	shutdownRequested atomic.Bool
	cancelFutures     atomic.Bool
	broken            atomic.Bool
	brokenPid         atomic.Int64
	wakePending       atomic.Bool

	pending   *pendingTable
	workIDs   *queue.FIFO[uint64]
	results   *queue.FIFO[*types.ResultItem]
	callQueue *queue.MPMC[*types.CallItem]
	exits     chan *workerProcess

	procMu sync.Mutex
	procs  map[int]*workerProcess

	managerDone chan struct{}
}

// NewProcessPool creates a pool. No process is started until the first
// Submit.
//
// It fails with ErrInvalidMaxWorkers for a non-positive WithMaxWorkers and
// with ErrNotImplemented when the host cannot run worker processes; the
// host check runs once per program.
func NewProcessPool(opts ...Option) (*ProcessPool, error) {
	cfg, err := newPoolConfig(opts...)
	if err != nil {
		return nil, err
	}

	if err := cpu.CheckPlatform(); err != nil {
		return nil, err
	}

	s := &poolState{
		id:          uuid.NewString(),
		cfg:         cfg,
		pending:     newPendingTable(),
		workIDs:     queue.NewFIFO[uint64](),
		results:     queue.NewFIFO[*types.ResultItem](),
		callQueue:   queue.NewMPMC[*types.CallItem](cfg.maxWorkers + 1),
		exits:       make(chan *workerProcess, cfg.maxWorkers),
		procs:       make(map[int]*workerProcess, cfg.maxWorkers),
		managerDone: make(chan struct{}),
	}
	s.alive.Store(true)
	s.log = cfg.logger.With().Str("pool", s.id).Logger()
	s.metrics = newPoolMetrics(cfg.metrics, s)

	p := &ProcessPool{state: s}
	runtime.SetFinalizer(p, func(p *ProcessPool) {
		p.state.release()
	})

	s.log.Debug().Int("max_workers", cfg.maxWorkers).Msg("pool created")
	return p, nil
}

// Submit schedules fn(arg) on a worker and returns its future immediately.
// The function must have been registered under name with Register.
func Submit[A, R any](p *ProcessPool, name string, arg A) (*Future[R], error) {
	data, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("encode argument for %s: %w", name, err)
	}

	f, err := p.state.submit(name, data)
	if err != nil {
		return nil, err
	}
	return newFuture[R](f), nil
}

// SubmitRaw schedules a call with an already encoded argument.
func (p *ProcessPool) SubmitRaw(name string, args json.RawMessage) (*Future[json.RawMessage], error) {
	f, err := p.state.submit(name, args)
	if err != nil {
		return nil, err
	}
	return newFuture[json.RawMessage](f), nil
}

// Shutdown stops accepting calls and, once pending calls are done, stops
// the workers. With wait it blocks until that has happened.
func (p *ProcessPool) Shutdown(wait bool) {
	p.ShutdownWithOptions(ShutdownOptions{Wait: wait})
}

// ShutdownWithOptions is Shutdown with the ability to cancel pending calls
// that have not been dispatched.
func (p *ProcessPool) ShutdownWithOptions(opts ShutdownOptions) {
	s := p.state

	s.mu.Lock()
	s.shutdownRequested.Store(true)
	if opts.CancelFutures {
		s.cancelFutures.Store(true)
	}
	started := s.started
	s.mu.Unlock()

	if !started {
		s.metrics.unregister()
		return
	}

	s.wakeup()
	if opts.Wait {
		<-s.managerDone
	}
}

// ID returns the pool's unique id, used in logs and metric labels.
func (p *ProcessPool) ID() string {
	return p.state.id
}

// MaxWorkers returns the configured number of worker processes.
func (p *ProcessPool) MaxWorkers() int {
	return p.state.cfg.maxWorkers
}

// State returns the current lifecycle state.
func (p *ProcessPool) State() State {
	return p.state.currentState()
}

// Stats returns a snapshot of the pool.
func (p *ProcessPool) Stats() Stats {
	s := p.state
	return Stats{
		State:   s.currentState(),
		Workers: s.workerCount(),
		Pending: s.pending.len(),
		Queued:  s.callQueue.Len(),
	}
}

// Pids returns the process ids of the workers in the process table.
func (p *ProcessPool) Pids() []int {
	s := p.state
	s.procMu.Lock()
	defer s.procMu.Unlock()

	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	return pids
}

// Done is closed once the manager goroutine has exited, which is when all
// workers have been joined.
func (p *ProcessPool) Done() <-chan struct{} {
	return p.state.managerDone
}

func (s *poolState) submit(name string, args json.RawMessage) (*types.Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken.Load() {
		return nil, &BrokenPoolError{PoolID: s.id, Pid: int(s.brokenPid.Load())}
	}
	if s.shutdownRequested.Load() || exitRegistry.exiting.Load() {
		return nil, ErrPoolShutdown
	}

	s.nextID++
	item := types.NewWorkItem(s.nextID, name, args)
	s.pending.add(item)
	s.workIDs.Push(item.ID)
	s.wakeup()

	if err := s.start(); err != nil {
		s.pending.remove(item.ID)
		return nil, err
	}

	s.metrics.submitted.Inc()
	return item.Future, nil
}

// start launches the workers and the manager goroutine on first use.
// Callers hold s.mu.
func (s *poolState) start() error {
	if s.started {
		return nil
	}
	if IsWorker() && !serving.Load() {
		return ErrWorkerBootstrap
	}

	// Registering before any worker exists lets ShutdownAll either see this
	// pool or refuse to let it start.
	if !exitRegistry.register(s) {
		return ErrPoolShutdown
	}
	if err := s.adjustProcessCount(); err != nil {
		exitRegistry.unregister(s)
		return err
	}

	s.started = true
	go s.run()

	s.log.Info().Int("workers", s.workerCount()).Msg("pool started")
	return nil
}

// adjustProcessCount spawns workers until the process table holds
// maxWorkers of them. On failure every worker started by this call is
// terminated again.
func (s *poolState) adjustProcessCount() error {
	s.procMu.Lock()
	have := len(s.procs)
	s.procMu.Unlock()

	need := s.cfg.maxWorkers - have
	if need <= 0 {
		return nil
	}

	spawned := make([]*workerProcess, need)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range need {
		index := have + i
		g.Go(func() error {
			proc, err := s.spawnWorker(ctx, index)
			if err != nil {
				return fmt.Errorf("start worker %d: %w", index, err)
			}
			spawned[i] = newWorkerProcess(proc, index, s.log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, w := range spawned {
			if w == nil {
				continue
			}
			_ = w.proc.Kill()
			_ = w.proc.Join()
			_ = w.proc.Close()
		}
		s.log.Error().Err(err).Msg("could not start workers")
		return err
	}

	s.procMu.Lock()
	for _, w := range spawned {
		s.procs[w.proc.Pid] = w
	}
	s.procMu.Unlock()

	for _, w := range spawned {
		go w.dispatch(s.callQueue)
		go w.read(s.results, s.exits)
		w.log.Debug().Int("index", w.index).Msg("worker started")
	}
	return nil
}

func (s *poolState) currentState() State {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	requested := s.shutdownRequested.Load()
	broken := s.broken.Load()

	if !started {
		if requested {
			return StateShutdown
		}
		return StateCreated
	}

	select {
	case <-s.managerDone:
		if broken && !requested {
			return StateBroken
		}
		return StateShutdown
	default:
	}

	switch {
	case broken:
		return StateBroken
	case requested:
		return StateShuttingDown
	default:
		return StateRunning
	}
}

func (s *poolState) workerCount() int {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return len(s.procs)
}

// wakeup nudges the manager out of its wait.
func (s *poolState) wakeup() {
	s.results.Push(nil)
}

// release runs when the ProcessPool has been collected.
func (s *poolState) release() {
	s.alive.Store(false)
	s.wakeup()
}
