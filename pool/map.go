package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/utkarsh5026/procpool/internal/registry"
	"github.com/utkarsh5026/procpool/internal/types"
)

// MapOption configures Map.
type MapOption func(*mapConfig)

type mapConfig struct {
	chunkSize int
}

// WithChunkSize groups n arguments into one call. Larger chunks cut the
// per-call overhead for cheap functions. n must be at least 1.
func WithChunkSize(n int) MapOption {
	return func(cfg *mapConfig) {
		cfg.chunkSize = n
	}
}

// Map calls the function registered under name once per argument and
// returns the results in the order of args.
//
// All calls are submitted before Map returns. The returned sequence blocks
// on each result in turn; ctx bounds that waiting, not the calls. On the
// first failure it yields the zero value with the error and stops. Calls
// whose results were not consumed are cancelled if they have not started.
// The sequence can be ranged over once.
func Map[A, R any](ctx context.Context, p *ProcessPool, name string, args []A, opts ...MapOption) (iter.Seq2[R, error], error) {
	cfg := mapConfig{chunkSize: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.chunkSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, cfg.chunkSize)
	}

	futures, err := submitChunks(p, name, args, cfg.chunkSize)
	if err != nil {
		for _, f := range futures {
			f.Cancel()
		}
		return nil, err
	}

	chunked := cfg.chunkSize > 1
	consumed := false

	return func(yield func(R, error) bool) {
		if consumed {
			return
		}
		consumed = true

		next := 0
		defer func() {
			for _, f := range futures[next:] {
				f.Cancel()
			}
		}()

		var zero R
		for next < len(futures) {
			f := futures[next]
			next++

			raw, err := f.Wait(ctx)
			if err != nil {
				yield(zero, err)
				return
			}

			if !chunked {
				v, err := decodeResult[R](raw)
				if !yield(v, err) || err != nil {
					return
				}
				continue
			}

			var parts []json.RawMessage
			if err := json.Unmarshal(raw, &parts); err != nil {
				yield(zero, fmt.Errorf("decode chunk result: %w", err))
				return
			}
			for _, part := range parts {
				v, err := decodeResult[R](part)
				if !yield(v, err) || err != nil {
					return
				}
			}
		}
	}, nil
}

func submitChunks[A any](p *ProcessPool, name string, args []A, size int) ([]*types.Future, error) {
	futures := make([]*types.Future, 0, (len(args)+size-1)/size)

	for start := 0; start < len(args); start += size {
		chunk := args[start:min(start+size, len(args))]

		encoded := make([]json.RawMessage, len(chunk))
		for i, arg := range chunk {
			data, err := json.Marshal(arg)
			if err != nil {
				return futures, fmt.Errorf("encode argument %d for %s: %w", start+i, name, err)
			}
			encoded[i] = data
		}

		fn, payload := name, encoded[0]
		if size > 1 {
			data, err := json.Marshal(registry.ChunkArgs{Fn: name, Items: encoded})
			if err != nil {
				return futures, fmt.Errorf("encode chunk for %s: %w", name, err)
			}
			fn, payload = registry.ChunkFn, data
		}

		f, err := p.state.submit(fn, payload)
		if err != nil {
			return futures, err
		}
		futures = append(futures, f)
	}
	return futures, nil
}

// Pair holds one element from each of two slices.
type Pair[A, B any] struct {
	First  A `json:"first"`
	Second B `json:"second"`
}

// Zip pairs up as and bs element by element, stopping at the shorter one.
// It is how Map passes more than one argument to a function.
func Zip[A, B any](as []A, bs []B) []Pair[A, B] {
	n := min(len(as), len(bs))
	out := make([]Pair[A, B], n)
	for i := range n {
		out[i] = Pair[A, B]{First: as[i], Second: bs[i]}
	}
	return out
}

// Collect drains a Map sequence into a slice, stopping at the first error.
func Collect[R any](seq iter.Seq2[R, error]) ([]R, error) {
	var out []R
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
