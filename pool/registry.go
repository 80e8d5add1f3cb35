package pool

import (
	"context"

	"github.com/utkarsh5026/procpool/internal/registry"
)

func init() {
	RegisterError("procpool.unknown_function", registry.ErrUnknownFunction)
}

// Register makes fn callable in worker processes under name. It panics if
// name is already taken. Registrations must be identical in the parent and
// its workers, so call Register from init or before ServeWorker.
func Register[A, R any](name string, fn func(context.Context, A) (R, error)) {
	if err := registry.Default.Register(name, registry.Typed(fn)); err != nil {
		panic(err)
	}
}

// RegisterError gives sentinel a code under which it crosses the process
// boundary. An error returned by a worker function that matches sentinel
// (errors.Is) arrives as a *RemoteError that also matches it. It panics if
// code is already taken.
func RegisterError(code string, sentinel error) {
	if err := registry.Default.RegisterError(code, sentinel); err != nil {
		panic(err)
	}
}

// Registered returns the names of every registered function.
func Registered() []string {
	return registry.Default.Names()
}
