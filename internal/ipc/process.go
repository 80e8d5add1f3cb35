// Package ipc starts worker processes and speaks the pool's frame protocol
// with them: newline-delimited JSON over two inherited pipes, calls going in
// on CallsFD and results coming out on ResultsFD.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/utkarsh5026/procpool/internal/types"
)

// Descriptor numbers of the protocol pipes inside a worker. os/exec maps
// ExtraFiles[i] to fd 3+i.
const (
	CallsFD   = 3
	ResultsFD = 4
)

var ErrProcessExited = errors.New("ipc: process has exited")

// SpawnConfig describes the command a worker runs.
type SpawnConfig struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Process is the parent's handle on one worker process.
type Process struct {
	Pid int

	cmd     *exec.Cmd
	calls   *os.File
	results *os.File
	enc     *json.Encoder
	dec     *json.Decoder
	sendMu  sync.Mutex

	done    chan struct{}
	waitErr error
}

// Spawn starts a worker process. The process is reaped in the background;
// Done is closed once it has exited.
func Spawn(cfg SpawnConfig) (*Process, error) {
	callsR, callsW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create call pipe: %w", err)
	}
	resultsR, resultsW, err := os.Pipe()
	if err != nil {
		_ = callsR.Close()
		_ = callsW.Close()
		return nil, fmt.Errorf("create result pipe: %w", err)
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr
	cmd.ExtraFiles = []*os.File{callsR, resultsW}

	startErr := cmd.Start()

	// The child holds its own copies now.
	_ = callsR.Close()
	_ = resultsW.Close()

	if startErr != nil {
		_ = callsW.Close()
		_ = resultsR.Close()
		return nil, fmt.Errorf("start worker %s: %w", cfg.Path, startErr)
	}

	p := &Process{
		Pid:     cmd.Process.Pid,
		cmd:     cmd,
		calls:   callsW,
		results: resultsR,
		enc:     json.NewEncoder(callsW),
		dec:     json.NewDecoder(resultsR),
		done:    make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// Send writes one call frame to the worker.
func (p *Process) Send(c *types.CallItem) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if err := p.enc.Encode(c); err != nil {
		if !p.IsAlive() {
			return fmt.Errorf("%w: pid %d", ErrProcessExited, p.Pid)
		}
		return fmt.Errorf("send to pid %d: %w", p.Pid, err)
	}
	return nil
}

// Receive reads the next result frame. It returns io.EOF once the worker has
// closed its end of the result pipe. Only one goroutine may call Receive.
func (p *Process) Receive() (*types.ResultItem, error) {
	var r types.ResultItem
	if err := p.dec.Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsAlive reports whether the process has not been reaped yet.
func (p *Process) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Join blocks until the process has exited and returns its wait error.
func (p *Process) Join() error {
	<-p.done
	return p.waitErr
}

// ExitCode returns the exit code of a reaped process, or -1 if it is still
// running or was killed by a signal.
func (p *Process) ExitCode() int {
	if p.IsAlive() {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Kill stops the process immediately.
func (p *Process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Close releases the parent's pipe ends. The caller must not Send or
// Receive afterwards.
func (p *Process) Close() error {
	return errors.Join(p.calls.Close(), p.results.Close())
}

// WorkerPipes opens the protocol pipes from inside a worker process.
func WorkerPipes() (calls io.ReadCloser, results io.WriteCloser) {
	return os.NewFile(CallsFD, "procpool-calls"), os.NewFile(ResultsFD, "procpool-results")
}
