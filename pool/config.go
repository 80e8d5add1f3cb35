package pool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the pool options.
//
//	max_workers: 4
//	initializer: app.warmup
//	rate_limit: 100
//	rate_burst: 10
//	spawn_retries: 3
//	spawn_retry_delay: 20ms
//	cpu_affinity: true
//	worker_command: [/usr/local/bin/app, --worker]
//	worker_env: [APP_MODE=worker]
//	worker_log_level: debug
type Config struct {
	MaxWorkers      int           `yaml:"max_workers"`
	Initializer     string        `yaml:"initializer"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	SpawnRetries    int           `yaml:"spawn_retries"`
	SpawnRetryDelay time.Duration `yaml:"spawn_retry_delay"`
	CPUAffinity     bool          `yaml:"cpu_affinity"`
	WorkerCommand   []string      `yaml:"worker_command"`
	WorkerEnv       []string      `yaml:"worker_env"`
	WorkerLogLevel  string        `yaml:"worker_log_level"`
}

// LoadConfig reads a YAML config file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return DecodeConfig(f)
}

// DecodeConfig reads a YAML config from r. An empty document yields the
// zero Config.
func DecodeConfig(r io.Reader) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.WorkerLogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.WorkerLogLevel); err != nil {
			return nil, fmt.Errorf("worker_log_level: %w", err)
		}
	}
	return &cfg, nil
}

// Options converts the config into pool options. Zero fields are left at
// their defaults; an initializer from the file receives a null argument.
func (c *Config) Options() []Option {
	var opts []Option

	if c.MaxWorkers != 0 {
		opts = append(opts, WithMaxWorkers(c.MaxWorkers))
	}
	if c.Initializer != "" {
		opts = append(opts, WithInitializer(c.Initializer, nil))
	}
	if c.RateLimit > 0 {
		opts = append(opts, WithRateLimit(c.RateLimit, max(c.RateBurst, 1)))
	}
	if c.SpawnRetries > 0 || c.SpawnRetryDelay > 0 {
		opts = append(opts, WithSpawnRetry(c.SpawnRetries, c.SpawnRetryDelay))
	}
	if c.CPUAffinity {
		opts = append(opts, WithCPUAffinity())
	}
	if len(c.WorkerCommand) > 0 {
		opts = append(opts, WithWorkerCommand(c.WorkerCommand[0], c.WorkerCommand[1:]...))
	}
	if len(c.WorkerEnv) > 0 {
		opts = append(opts, WithWorkerEnv(c.WorkerEnv...))
	}
	if c.WorkerLogLevel != "" {
		if level, err := zerolog.ParseLevel(c.WorkerLogLevel); err == nil {
			opts = append(opts, WithWorkerLogLevel(level))
		}
	}
	return opts
}
