// Package worker is the loop run inside a worker process: read a call,
// run the registered function, write the outcome, until told to stop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/utkarsh5026/procpool/internal/cpu"
	"github.com/utkarsh5026/procpool/internal/registry"
	"github.com/utkarsh5026/procpool/internal/types"
)

var ErrInitializer = errors.New("worker initializer failed")

// Config controls one worker loop.
type Config struct {
	Registry *registry.Registry
	Logger   zerolog.Logger

	// Pid is announced in the exit marker.
	Pid int

	// Initializer, when set, names a registered function run once before
	// the first call. InitArgs is its encoded argument.
	Initializer string
	InitArgs    json.RawMessage

	// Affinity pins the thread running calls to CPU Index.
	Affinity bool
	Index    int
}

// PanicError is the error a call produces when its function panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker panic: %v", e.Value)
}

// Serve runs the worker loop until it reads the stop frame, the call stream
// ends, or writing a result fails. Failures of individual calls never end
// the loop; they are sent back as exceptions.
func Serve(ctx context.Context, calls io.Reader, results io.Writer, cfg Config) error {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default
	}
	log := cfg.Logger.With().Int("worker_pid", cfg.Pid).Logger()

	if cfg.Affinity {
		release, cpuID, err := cpu.SetupWorkerAffinity(cfg.Index)
		defer release()
		if err != nil {
			log.Warn().Err(err).Int("index", cfg.Index).Msg("could not pin worker thread")
		} else {
			log.Debug().Int("cpu", cpuID).Msg("worker thread pinned")
		}
	}

	if cfg.Initializer != "" {
		if _, env := invoke(ctx, cfg.Registry, cfg.Initializer, cfg.InitArgs); env != nil {
			log.Error().Str("fn", cfg.Initializer).Str("error", env.Message).Msg("initializer failed")
			return fmt.Errorf("%w: %s: %s", ErrInitializer, cfg.Initializer, env.Message)
		}
	}

	dec := json.NewDecoder(calls)
	enc := json.NewEncoder(results)

	for {
		var call types.CallItem
		if err := dec.Decode(&call); err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug().Msg("call stream closed")
				return nil
			}
			return fmt.Errorf("read call: %w", err)
		}

		if call.Stop {
			log.Debug().Msg("stop received")
			if err := enc.Encode(types.Exit(cfg.Pid)); err != nil {
				return fmt.Errorf("write exit marker: %w", err)
			}
			return nil
		}

		out, env := invoke(ctx, cfg.Registry, call.Fn, call.Args)

		var result *types.ResultItem
		if env != nil {
			log.Debug().Uint64("work_id", call.WorkID).Str("fn", call.Fn).Str("error", env.Message).Msg("call failed")
			result = types.Failure(call.WorkID, env)
		} else {
			result = types.Success(call.WorkID, out)
		}

		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("write result %d: %w", call.WorkID, err)
		}
	}
}

// invoke runs one registered function, converting errors and panics into an
// envelope.
func invoke(ctx context.Context, reg *registry.Registry, name string, args json.RawMessage) (out json.RawMessage, env *types.ErrorEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			env = Envelope(reg, &PanicError{Value: r, Stack: buf[:n]})
			out = nil
		}
	}()

	fn, err := reg.Lookup(name)
	if err != nil {
		return nil, Envelope(reg, err)
	}

	out, err = fn(ctx, args)
	if err != nil {
		return nil, Envelope(reg, err)
	}
	return out, nil
}

// Envelope packs err for the trip back to the parent. Errors registered in
// reg keep their code so the parent can restore their identity.
func Envelope(reg *registry.Registry, err error) *types.ErrorEnvelope {
	env := &types.ErrorEnvelope{
		Type:    fmt.Sprintf("%T", err),
		Code:    reg.ErrorCode(err),
		Message: err.Error(),
	}

	var pe *PanicError
	if errors.As(err, &pe) {
		env.Traceback = string(pe.Stack)
	} else if detail := fmt.Sprintf("%+v", err); detail != env.Message {
		env.Traceback = detail
	}
	return env
}
