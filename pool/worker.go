package pool

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/utkarsh5026/procpool/internal/ipc"
	"github.com/utkarsh5026/procpool/internal/registry"
	"github.com/utkarsh5026/procpool/internal/worker"
)

// Environment a worker process is started with.
const (
	envWorker      = "PROCPOOL_WORKER"
	envWorkerIndex = "PROCPOOL_WORKER_INDEX"
	envInit        = "PROCPOOL_INIT"
	envInitArgs    = "PROCPOOL_INIT_ARGS"
	envAffinity    = "PROCPOOL_AFFINITY"
	envLogLevel    = "PROCPOOL_LOG_LEVEL"
)

// serving is set once ServeWorker has taken over a worker process. A worker
// that starts a pool without it would re-run main and fork recursively.
var serving atomic.Bool

// IsWorker reports whether the current process was started as a pool
// worker.
func IsWorker() bool {
	return os.Getenv(envWorker) == "1"
}

// ServeWorker turns the current process into a worker if it was started as
// one: it serves calls until the pool stops it and then exits the process.
// In any other process it returns immediately. Call it first thing in main,
// after every Register has run.
func ServeWorker() {
	if !IsWorker() {
		return
	}
	serving.Store(true)
	os.Exit(runWorker())
}

func runWorker() int {
	log := workerLogger()
	index, _ := strconv.Atoi(os.Getenv(envWorkerIndex))

	calls, results := ipc.WorkerPipes()
	defer calls.Close()
	defer results.Close()

	cfg := worker.Config{
		Registry:    registry.Default,
		Logger:      log,
		Pid:         os.Getpid(),
		Initializer: os.Getenv(envInit),
		InitArgs:    json.RawMessage(os.Getenv(envInitArgs)),
		Affinity:    os.Getenv(envAffinity) == "1",
		Index:       index,
	}

	if err := worker.Serve(context.Background(), calls, results, cfg); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		return 1
	}
	return 0
}

func workerLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv(envLogLevel))
	if err != nil || level == zerolog.Disabled || level == zerolog.NoLevel {
		return zerolog.Nop()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
