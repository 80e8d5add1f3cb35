package types

import (
	"encoding/json"
	"errors"
)

var (
	ErrNoOutcome       = errors.New("result item carries neither a result nor an exception")
	ErrAmbiguousResult = errors.New("result item carries both a result and an exception")
)

// WorkItem pairs a pending call with the future that will receive its
// outcome. It never leaves the parent process; only its name and encoded
// argument are copied into a CallItem.
type WorkItem struct {
	ID     uint64
	Future *Future
	Fn     string
	Args   json.RawMessage
}

// NewWorkItem creates a work item with a fresh pending future.
func NewWorkItem(id uint64, fn string, args json.RawMessage) *WorkItem {
	return &WorkItem{
		ID:     id,
		Future: NewFuture(id),
		Fn:     fn,
		Args:   args,
	}
}

// CallItem is the frame sent to a worker process. A frame with Stop set is the
// shutdown sentinel and carries nothing else.
type CallItem struct {
	WorkID uint64          `json:"work_id,omitempty"`
	Fn     string          `json:"fn,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Stop   bool            `json:"stop,omitempty"`
}

// NewCallItem copies the dispatchable part of w.
func NewCallItem(w *WorkItem) *CallItem {
	return &CallItem{
		WorkID: w.ID,
		Fn:     w.Fn,
		Args:   w.Args,
	}
}

// StopCall returns the shutdown sentinel frame.
func StopCall() *CallItem {
	return &CallItem{Stop: true}
}

// ResultItem is the frame a worker sends back. It is either the outcome of
// one call (exactly one of Result and Exception set) or, when ExitPid is set,
// the worker announcing that it is about to exit cleanly.
type ResultItem struct {
	WorkID    uint64          `json:"work_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Exception *ErrorEnvelope  `json:"exception,omitempty"`
	ExitPid   int             `json:"exit_pid,omitempty"`
}

// Success builds the result frame for a call that returned normally.
func Success(workID uint64, result json.RawMessage) *ResultItem {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &ResultItem{WorkID: workID, Result: result}
}

// Failure builds the result frame for a call that failed.
func Failure(workID uint64, env *ErrorEnvelope) *ResultItem {
	return &ResultItem{WorkID: workID, Exception: env}
}

// Exit builds the clean-exit marker for the worker with the given pid.
func Exit(pid int) *ResultItem {
	return &ResultItem{ExitPid: pid}
}

// IsExit reports whether r is a worker exit marker.
func (r *ResultItem) IsExit() bool {
	return r != nil && r.ExitPid != 0
}

// Validate checks that a call outcome has exactly one of result and exception.
func (r *ResultItem) Validate() error {
	if r.IsExit() {
		return nil
	}
	hasResult := len(r.Result) > 0
	hasException := r.Exception != nil
	switch {
	case hasResult && hasException:
		return ErrAmbiguousResult
	case !hasResult && !hasException:
		return ErrNoOutcome
	}
	return nil
}

// ErrorEnvelope carries an error across the process boundary. Type is the Go
// type of the original error, Code the name it was registered under (if any)
// so the receiving side can restore its identity, and Traceback the stack
// captured in the worker.
type ErrorEnvelope struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}
