// Package registry binds names to functions that can be invoked in a worker
// process. Both sides of the pool run the same binary, so a name registered
// in the parent resolves to the same code in every worker.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrDuplicate       = errors.New("registry: name already registered")
	ErrUnknownFunction = errors.New("registry: unknown function")
	ErrEmptyName       = errors.New("registry: empty name")
)

// ChunkFn is the name of the built-in function that applies another
// registered function to every element of a chunk.
const ChunkFn = "procpool.chunk"

// Invoker runs a registered function on an encoded argument and returns the
// encoded result.
type Invoker func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ChunkArgs is the argument of the built-in chunk function.
type ChunkArgs struct {
	Fn    string            `json:"fn"`
	Items []json.RawMessage `json:"items"`
}

// Registry holds named functions and the error sentinels whose identity
// survives the process boundary.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Invoker
	errs  map[string]error
}

// New returns a registry with the built-in chunk function installed.
func New() *Registry {
	r := &Registry{
		funcs: make(map[string]Invoker),
		errs:  make(map[string]error),
	}
	r.funcs[ChunkFn] = r.invokeChunk
	return r
}

// Default is the process-wide registry used by the pool package.
var Default = New()

// Register binds name to fn.
func (r *Registry) Register(name string, fn Invoker) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Invoker, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return fn, nil
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterError associates code with sentinel. Errors matching sentinel via
// errors.Is travel with that code and are restored on the other side.
func (r *Registry) RegisterError(code string, sentinel error) error {
	if code == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.errs[code]; ok {
		return fmt.Errorf("%w: error code %q", ErrDuplicate, code)
	}
	r.errs[code] = sentinel
	return nil
}

// ErrorCode returns the code of the first registered sentinel that err
// matches, or "" if none does.
func (r *Registry) ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.errs))
	for code := range r.errs {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		if errors.Is(err, r.errs[code]) {
			return code
		}
	}
	return ""
}

// ErrorByCode returns the sentinel registered under code.
func (r *Registry) ErrorByCode(code string) (error, bool) {
	if code == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	err, ok := r.errs[code]
	return err, ok
}

func (r *Registry) invokeChunk(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var chunk ChunkArgs
	if err := json.Unmarshal(args, &chunk); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}

	fn, err := r.Lookup(chunk.Fn)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, len(chunk.Items))
	for i, item := range chunk.Items {
		res, err := fn(ctx, item)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return json.Marshal(out)
}

// Typed adapts a typed function into an Invoker.
func Typed[A, R any](fn func(context.Context, A) (R, error)) Invoker {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var arg A
		if len(args) > 0 {
			if err := json.Unmarshal(args, &arg); err != nil {
				return nil, fmt.Errorf("decode argument as %T: %w", arg, err)
			}
		}

		res, err := fn(ctx, arg)
		if err != nil {
			return nil, err
		}

		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode result %T: %w", res, err)
		}
		return out, nil
	}
}
