package pool

import (
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/procpool/internal/queue"
	"github.com/utkarsh5026/procpool/internal/types"
)

// run is the manager goroutine. It is the only writer of future outcomes
// and the only goroutine that removes workers from the process table.
// Each iteration feeds the call queue, waits for a result or a worker exit,
// handles it, and then checks whether the pool can stop.
func (s *poolState) run() {
	defer s.finish()

	// workers whose process has exited but whose exit marker has not been
	// seen yet
	var exited []*workerProcess
	// set once every worker has been sent its stop sentinel
	stopping := false

	for {
		s.feed()

		item, ok := s.results.TryPop()
		if !ok {
			// Results always drain first: a worker's frames are queued before
			// its exit is reported, so an exited worker still in the table
			// with nothing left to read died without being told to.
			exited = s.stillListed(exited)
			if len(exited) > 0 {
				s.breakPool(exited[0])
				return
			}

			select {
			case <-s.results.Ready():
			case w := <-s.exits:
				exited = append(exited, w)
			}
			continue
		}

		switch {
		case item == nil:
			// wake-up from Submit, Shutdown, a rate-limit timer or the
			// pool being collected
		case item.IsExit():
			s.retireWorker(item.ExitPid)
			if s.workerCount() == 0 {
				s.shutdownWorkers()
				return
			}
		default:
			s.deliver(item)
		}

		if stopping || !s.shuttingDown() {
			continue
		}

		if s.cancelFutures.CompareAndSwap(true, false) {
			n := s.pending.cancelIdle()
			s.workIDs.Drain()
			for range n {
				s.metrics.complete(outcomeCancelled)
			}
			s.log.Debug().Int("cancelled", n).Msg("cancelled pending calls")
		}

		if !s.drained() {
			continue
		}
		if s.workerCount() == 0 {
			s.shutdownWorkers()
			return
		}
		// Workers answer their sentinel with an exit marker and are
		// retired one by one above.
		s.stopWorkers(s.workerCount())
		stopping = true
	}
}

// drained reports whether no call is pending. It holds mu so that a Submit
// which passed its shutdown check before the pool started stopping has
// finished adding its call.
func (s *poolState) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len() == 0
}

// feed moves pending work into the call queue while it has room. It never
// blocks.
func (s *poolState) feed() {
	for !s.callQueue.Full() {
		if s.workIDs.Len() == 0 {
			return
		}
		if s.throttled() {
			return
		}

		id, ok := s.workIDs.TryPop()
		if !ok {
			return
		}

		item := s.pending.get(id)
		if item == nil {
			continue
		}

		if !item.Future.SetRunningOrNotifyCancel() {
			s.pending.remove(id)
			s.metrics.complete(outcomeCancelled)
			continue
		}

		if err := s.callQueue.Put(types.NewCallItem(item)); err != nil {
			s.pending.remove(id)
			item.Future.SetException(err)
			s.metrics.complete(outcomeError)
			s.log.Error().Err(err).Uint64("work_id", id).Msg("could not queue call")
		}
	}
}

// throttled reports whether the rate limit forbids dispatching now. If so
// a wake-up is scheduled for when the next token is due.
func (s *poolState) throttled() bool {
	if s.cfg.rateLimiter == nil {
		return false
	}

	r := s.cfg.rateLimiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return false
	}
	r.Cancel()

	if s.wakePending.CompareAndSwap(false, true) {
		time.AfterFunc(delay, func() {
			s.wakePending.Store(false)
			s.wakeup()
		})
	}
	return true
}

func (s *poolState) deliver(item *types.ResultItem) {
	w := s.pending.remove(item.WorkID)
	if w == nil {
		// already failed or cancelled
		return
	}

	if item.Exception != nil {
		w.Future.SetException(newRemoteError(item.Exception))
		s.metrics.complete(outcomeError)
		return
	}
	w.Future.SetResult(item.Result)
	s.metrics.complete(outcomeSuccess)
}

// retireWorker removes a cleanly exiting worker from the process table and
// joins it.
func (s *poolState) retireWorker(pid int) {
	s.procMu.Lock()
	w, ok := s.procs[pid]
	delete(s.procs, pid)
	s.procMu.Unlock()

	if !ok {
		return
	}
	_ = w.proc.Join()
	_ = w.proc.Close()
	w.log.Debug().Msg("worker exited cleanly")
}

// stillListed keeps the exited workers that are still in the process table.
func (s *poolState) stillListed(exited []*workerProcess) []*workerProcess {
	if len(exited) == 0 {
		return exited
	}

	s.procMu.Lock()
	defer s.procMu.Unlock()

	kept := exited[:0]
	for _, w := range exited {
		if listed, ok := s.procs[w.proc.Pid]; ok && listed == w {
			kept = append(kept, w)
		}
	}
	return kept
}

func (s *poolState) shuttingDown() bool {
	return exitRegistry.exiting.Load() ||
		!s.alive.Load() ||
		s.shutdownRequested.Load() ||
		s.broken.Load()
}

// breakPool fails every pending call, terminates all workers and stops the
// pool for good.
func (s *poolState) breakPool(dead *workerProcess) {
	// Holding mu keeps Submit from adding work after the table is drained.
	s.mu.Lock()
	s.brokenPid.Store(int64(dead.proc.Pid))
	s.broken.Store(true)
	failed := s.pending.drain()
	s.workIDs.Drain()
	s.mu.Unlock()

	s.log.Error().
		Int("pid", dead.proc.Pid).
		Int("exit_code", dead.proc.ExitCode()).
		Int("pending", len(failed)).
		Msg("worker died unexpectedly, pool is broken")

	for _, w := range failed {
		w.Future.SetException(&BrokenPoolError{PoolID: s.id, Pid: dead.proc.Pid})
		s.metrics.complete(outcomeBroken)
	}

	s.procMu.Lock()
	for _, w := range s.procs {
		if err := w.proc.Terminate(); err != nil {
			w.log.Warn().Err(err).Msg("could not terminate worker")
		}
	}
	s.procMu.Unlock()

	// Calls still queued belong to futures that have just failed.
	for {
		if _, ok := s.callQueue.TryDequeue(); !ok {
			break
		}
	}

	s.shutdownWorkers()
}

// stopWorkers queues n stop sentinels.
func (s *poolState) stopWorkers(n int) {
	for sent := 0; sent < n; {
		err := s.callQueue.Put(nil)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, queue.ErrQueueFull):
			time.Sleep(time.Millisecond)
		default:
			return
		}
	}
}

// shutdownWorkers sends one stop sentinel per listed worker, closes the call
// queue and joins every worker.
func (s *poolState) shutdownWorkers() {
	s.procMu.Lock()
	workers := make([]*workerProcess, 0, len(s.procs))
	for _, w := range s.procs {
		workers = append(workers, w)
	}
	s.procMu.Unlock()

	s.stopWorkers(len(workers))
	s.callQueue.Close()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			err := w.proc.Join()
			_ = w.proc.Close()
			return err
		})
	}
	if err := g.Wait(); err != nil && !s.broken.Load() {
		s.log.Warn().Err(err).Msg("worker exited with an error during shutdown")
	}

	s.procMu.Lock()
	clear(s.procs)
	s.procMu.Unlock()
}

func (s *poolState) finish() {
	exitRegistry.unregister(s)
	s.metrics.unregister()
	close(s.managerDone)
	s.log.Info().Bool("broken", s.broken.Load()).Msg("pool stopped")
}
