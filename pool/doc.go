// Package pool runs registered Go functions in a pool of worker processes.
//
// The primary type is ProcessPool, which owns N worker processes started
// from the current executable. Calls are submitted by function name and
// executed in whichever worker becomes idle first; each call's outcome comes
// back as a Future.
//
// # Registering Functions
//
// Closures cannot cross a process boundary, so every function a worker may
// run is registered by name. Registration must happen identically in the
// parent and the workers, which is easiest from init:
//
//	func init() {
//	    pool.Register("square", func(ctx context.Context, x int) (int, error) {
//	        return x * x, nil
//	    })
//	}
//
// Arguments and results travel as JSON, so they must be encodable.
//
// # Worker Entry Point
//
// A worker is the same binary started with a marker in its environment.
// ServeWorker must run before anything else in main (or TestMain); in a
// worker it serves calls and exits, in the parent it returns immediately:
//
//	func main() {
//	    pool.ServeWorker()
//	    ...
//	}
//
// A worker process that starts a pool before ServeWorker gets
// ErrWorkerBootstrap instead of forking copies of itself.
//
// # Basic Usage
//
//	p, err := pool.NewProcessPool(pool.WithMaxWorkers(4))
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(true)
//
//	f, err := pool.Submit[int, int](p, "square", 7)
//	if err != nil {
//	    return err
//	}
//	v, err := f.Get() // 49
//
// # Map
//
// Map submits one call per chunk of arguments and yields results in input
// order:
//
//	results, err := pool.Map[int, int](ctx, p, "square", xs, pool.WithChunkSize(16))
//	for v, err := range results {
//	    ...
//	}
//
// # Failure Model
//
// An error returned (or a panic raised) by a registered function is
// delivered to that call's future as a *RemoteError and never affects the
// pool. A worker process that dies without being told to stop breaks the
// pool: every pending future fails with ErrBrokenProcessPool and so does
// every later Submit. A broken pool never heals; shut it down and create a
// new one.
//
// # Program Exit
//
// ShutdownAll stops every running pool and waits for its workers, letting
// submitted calls finish first. Defer it at the top of main.
//
// # Configuration Options
//
//   - WithMaxWorkers(n): Number of worker processes (default: available CPUs)
//   - WithInitializer(name, arg): Function run once in every worker before calls
//   - WithRateLimit(perSecond, burst): Throttle dispatch to workers
//   - WithSpawnRetry(attempts, initialDelay): Retry transient fork failures
//   - WithCPUAffinity(): Pin each worker's calling thread to a CPU (Linux)
//   - WithWorkerCommand(path, args...), WithWorkerEnv(kv...): Worker command line
//   - WithLogger(logger), WithWorkerLogLevel(level): zerolog logging
//   - WithMetrics(registerer): Prometheus collectors
//
// The same settings can be loaded from YAML with LoadConfig.
package pool
