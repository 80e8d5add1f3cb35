package pool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/utkarsh5026/procpool/internal/algorithms"
	"github.com/utkarsh5026/procpool/internal/ipc"
	"github.com/utkarsh5026/procpool/internal/queue"
	"github.com/utkarsh5026/procpool/internal/types"
)

// workerProcess is one entry of the process table. Its dispatcher hands the
// process one call at a time from the shared call queue; its reader moves
// result frames into the shared result queue.
type workerProcess struct {
	proc  *ipc.Process
	index int
	idle  chan struct{}
	log   zerolog.Logger
}

func newWorkerProcess(proc *ipc.Process, index int, log zerolog.Logger) *workerProcess {
	return &workerProcess{
		proc:  proc,
		index: index,
		idle:  make(chan struct{}, 1),
		log:   log.With().Int("pid", proc.Pid).Logger(),
	}
}

// dispatch pulls calls for this process until it receives the stop
// sentinel (a nil item), the queue is closed, or the process dies. A call
// in flight when the process dies is abandoned, never re-queued.
func (w *workerProcess) dispatch(calls *queue.MPMC[*types.CallItem]) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.proc.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		call, err := calls.Dequeue(ctx)
		if err != nil {
			return
		}

		if call == nil {
			if err := w.proc.Send(types.StopCall()); err != nil {
				w.log.Debug().Err(err).Msg("could not deliver stop")
			}
			return
		}

		if err := w.proc.Send(call); err != nil {
			w.log.Warn().Err(err).Uint64("work_id", call.WorkID).Msg("could not deliver call")
			return
		}

		select {
		case <-w.idle:
		case <-w.proc.Done():
			return
		}
	}
}

// read forwards every frame the process writes, then reaps it and reports
// the exit. Because the exit is reported only after the last frame has been
// queued, the manager always sees a worker's results before its death.
func (w *workerProcess) read(results *queue.FIFO[*types.ResultItem], exits chan<- *workerProcess) {
	for {
		item, err := w.proc.Receive()
		if err == nil {
			err = item.Validate()
		}
		if err != nil {
			// A worker that breaks the frame protocol is killed; the manager
			// then sees it die and breaks the pool.
			if !errors.Is(err, io.EOF) {
				w.log.Error().Err(err).Msg("malformed frame from worker, killing it")
				if kerr := w.proc.Kill(); kerr != nil {
					w.log.Warn().Err(kerr).Msg("could not kill worker")
				}
			}
			break
		}

		results.Push(item)
		if !item.IsExit() {
			select {
			case w.idle <- struct{}{}:
			default:
			}
		}
	}

	if err := w.proc.Join(); err != nil {
		w.log.Debug().Err(err).Msg("worker exited")
	}
	exits <- w
}

// spawnWorker starts worker number index, retrying transient failures.
func (s *poolState) spawnWorker(ctx context.Context, index int) (*ipc.Process, error) {
	path := s.cfg.workerPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
		path = exe
	}

	spawnCfg := ipc.SpawnConfig{
		Path:   path,
		Args:   s.cfg.workerArgs,
		Env:    s.workerEnviron(index),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	var proc *ipc.Process
	backoff := algorithms.NewBackoffStrategy(algorithms.BackoffJittered, s.cfg.spawnDelay, 50*s.cfg.spawnDelay, 0.2)
	err := algorithms.Retry(ctx, backoff, s.cfg.spawnAttempts, ipc.IsTransient, func() error {
		var err error
		proc, err = ipc.Spawn(spawnCfg)
		if err != nil && ipc.IsTransient(err) {
			s.log.Warn().Err(err).Int("index", index).Msg("transient spawn failure")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (s *poolState) workerEnviron(index int) []string {
	env := append(os.Environ(),
		envWorker+"=1",
		envWorkerIndex+"="+strconv.Itoa(index),
		envLogLevel+"="+s.cfg.workerLogLevel.String(),
	)
	if s.cfg.initializer != "" {
		env = append(env, envInit+"="+s.cfg.initializer, envInitArgs+"="+string(s.cfg.initArgs))
	}
	if s.cfg.affinity {
		env = append(env, envAffinity+"=1")
	}
	return append(env, s.cfg.workerEnv...)
}

// pendingTable maps work ids to work items. Submit inserts; everything else
// is done by the manager goroutine.
type pendingTable struct {
	mu    sync.Mutex
	items map[uint64]*types.WorkItem
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[uint64]*types.WorkItem),
	}
}

func (t *pendingTable) add(w *types.WorkItem) {
	t.mu.Lock()
	t.items[w.ID] = w
	t.mu.Unlock()
}

func (t *pendingTable) get(id uint64) *types.WorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.items[id]
}

func (t *pendingTable) remove(id uint64) *types.WorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.items[id]
	delete(t.items, id)
	return w
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// drain empties the table and returns its items in id order.
func (t *pendingTable) drain() []*types.WorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*types.WorkItem, 0, len(t.items))
	for _, w := range t.items {
		out = append(out, w)
	}
	t.items = make(map[uint64]*types.WorkItem)
	slices.SortFunc(out, func(a, b *types.WorkItem) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// cancelIdle cancels every item whose call was not dispatched yet and
// removes it. It returns how many were cancelled.
func (t *pendingTable) cancelIdle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, w := range t.items {
		if w.Future.Cancel() {
			delete(t.items, id)
			n++
		}
	}
	return n
}
