package pool

import (
	"errors"
	"fmt"

	"github.com/utkarsh5026/procpool/internal/cpu"
	"github.com/utkarsh5026/procpool/internal/registry"
	"github.com/utkarsh5026/procpool/internal/types"
)

var (
	ErrBrokenProcessPool = errors.New("a worker process terminated abruptly, the process pool is not usable anymore")
	ErrPoolShutdown      = errors.New("cannot schedule new futures after shutdown")
	ErrInvalidMaxWorkers = errors.New("max workers must be greater than 0")
	ErrInvalidChunkSize  = errors.New("chunk size must be at least 1")
	ErrWorkerBootstrap   = errors.New("worker process started a pool before ServeWorker; call pool.ServeWorker first thing in main")
	ErrNotImplemented    = cpu.ErrUnsupported
	ErrUnknownFunction   = registry.ErrUnknownFunction
	ErrCancelled         = types.ErrCancelled
)

// BrokenPoolError is the outcome of every future that was pending when the
// pool broke, and the error Submit returns afterwards.
type BrokenPoolError struct {
	PoolID string
	// Pid of the worker whose death was detected, 0 if unknown.
	Pid int
}

func (e *BrokenPoolError) Error() string {
	if e.Pid != 0 {
		return fmt.Sprintf("pool %s: worker %d: %v", e.PoolID, e.Pid, ErrBrokenProcessPool)
	}
	return fmt.Sprintf("pool %s: %v", e.PoolID, ErrBrokenProcessPool)
}

func (e *BrokenPoolError) Unwrap() error {
	return ErrBrokenProcessPool
}

// RemoteError is an error raised by a registered function inside a worker.
// Traceback holds what the worker captured: the stack for a panic, or the
// error's verbose form. If the original error matched a sentinel registered
// with RegisterError, errors.Is reports the same sentinel here.
type RemoteError struct {
	Type      string
	Code      string
	Message   string
	Traceback string

	sentinel error
}

func newRemoteError(env *types.ErrorEnvelope) *RemoteError {
	e := &RemoteError{
		Type:      env.Type,
		Code:      env.Code,
		Message:   env.Message,
		Traceback: env.Traceback,
	}
	if sentinel, ok := registry.Default.ErrorByCode(env.Code); ok {
		e.sentinel = sentinel
	}
	return e
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.sentinel
}

// Format prints the remote traceback with %+v.
func (e *RemoteError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') && e.Traceback != "" {
			fmt.Fprintf(s, "%s (%s)\n\nremote traceback:\n%s", e.Message, e.Type, e.Traceback)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Message)
	case 'q':
		fmt.Fprintf(s, "%q", e.Message)
	}
}
