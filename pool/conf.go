package pool

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/procpool/internal/cpu"
)

// Option is a functional option for configuring a ProcessPool.
type Option func(*poolConfig)

type poolConfig struct {
	maxWorkers    int
	maxWorkersSet bool

	initializer string
	initArgs    json.RawMessage

	rateLimiter *rate.Limiter

	spawnAttempts int
	spawnDelay    time.Duration

	affinity bool

	workerPath     string
	workerArgs     []string
	workerEnv      []string
	workerLogLevel zerolog.Level

	logger  zerolog.Logger
	metrics prometheus.Registerer

	err error
}

func newPoolConfig(opts ...Option) (*poolConfig, error) {
	cfg := &poolConfig{
		spawnAttempts:  1,
		spawnDelay:     10 * time.Millisecond,
		workerLogLevel: zerolog.Disabled,
		logger:         zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.err != nil {
		return nil, cfg.err
	}

	if cfg.maxWorkersSet && cfg.maxWorkers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxWorkers, cfg.maxWorkers)
	}
	if !cfg.maxWorkersSet {
		cfg.maxWorkers = max(cpu.AvailableCPUs(), 1)
	}

	return cfg, nil
}

// WithMaxWorkers sets the number of worker processes. It must be positive;
// NewProcessPool fails with ErrInvalidMaxWorkers otherwise.
// If not specified, defaults to the number of CPUs the process may use.
func WithMaxWorkers(n int) Option {
	return func(cfg *poolConfig) {
		cfg.maxWorkers = n
		cfg.maxWorkersSet = true
	}
}

// WithInitializer runs the registered function name with arg once in every
// worker before it accepts calls. A worker whose initializer fails exits
// without serving, which breaks the pool.
func WithInitializer(name string, arg any) Option {
	return func(cfg *poolConfig) {
		data, err := json.Marshal(arg)
		if err != nil {
			cfg.err = fmt.Errorf("encode initializer argument: %w", err)
			return
		}
		cfg.initializer = name
		cfg.initArgs = data
	}
}

// WithRateLimit limits how many calls per second are handed to workers.
// burst specifies how many calls may be dispatched back to back.
// If not specified, dispatch is only bounded by idle workers.
//
// Example:
//
//	WithRateLimit(10, 5) // 10 calls/sec with bursts of 5
func WithRateLimit(callsPerSecond float64, burst int) Option {
	return func(cfg *poolConfig) {
		if callsPerSecond > 0 && burst > 0 {
			cfg.rateLimiter = rate.NewLimiter(rate.Limit(callsPerSecond), burst)
		}
	}
}

// WithSpawnRetry retries starting a worker process when the OS reports a
// transient failure (EAGAIN, ENOMEM). Delays grow exponentially from
// initialDelay.
func WithSpawnRetry(attempts int, initialDelay time.Duration) Option {
	return func(cfg *poolConfig) {
		if attempts > 0 {
			cfg.spawnAttempts = attempts
		}
		if initialDelay > 0 {
			cfg.spawnDelay = initialDelay
		}
	}
}

// WithCPUAffinity pins the thread that runs calls in worker i to CPU
// i modulo the CPU count. Pinning only happens on Linux.
func WithCPUAffinity() Option {
	return func(cfg *poolConfig) {
		cfg.affinity = true
	}
}

// WithWorkerCommand overrides the command used to start workers. The
// command must call ServeWorker before anything else. Defaults to the
// current executable with no arguments.
func WithWorkerCommand(path string, args ...string) Option {
	return func(cfg *poolConfig) {
		cfg.workerPath = path
		cfg.workerArgs = args
	}
}

// WithWorkerEnv adds KEY=VALUE entries to the workers' environment.
func WithWorkerEnv(kv ...string) Option {
	return func(cfg *poolConfig) {
		cfg.workerEnv = append(cfg.workerEnv, kv...)
	}
}

// WithLogger sets the logger for pool lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *poolConfig) {
		cfg.logger = logger
	}
}

// WithWorkerLogLevel makes workers log to stderr at the given level.
// Workers are silent by default.
func WithWorkerLogLevel(level zerolog.Level) Option {
	return func(cfg *poolConfig) {
		cfg.workerLogLevel = level
	}
}

// WithMetrics registers the pool's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *poolConfig) {
		cfg.metrics = reg
	}
}
