//go:build unix

package pool

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"
)

func TestMap_AddScenario(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(2))

	seq, err := Map[Pair[int, int], int](context.Background(), p, "test.add",
		Zip([]int{1, 2, 3}, []int{10, 20, 30}), WithChunkSize(2))
	if err != nil {
		t.Fatal(err)
	}

	got, err := Collect(seq)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{11, 22, 33}) {
		t.Errorf("expected [11 22 33], got %v", got)
	}
}

func TestMap_PreservesOrder(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(3))

	xs := make([]int, 100)
	want := make([]int, 100)
	for i := range xs {
		xs[i] = i
		want[i] = i * i
	}

	for _, chunk := range []int{1, 3, 7, 100, 150} {
		t.Run("chunk="+strconv.Itoa(chunk), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			seq, err := Map[int, int](ctx, p, "test.square", xs, WithChunkSize(chunk))
			if err != nil {
				t.Fatal(err)
			}
			got, err := Collect(seq)
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(got, want) {
				t.Errorf("results out of order or wrong: %v", got)
			}
		})
	}
}

func TestMap_Validation(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(1))

	for _, n := range []int{0, -1} {
		_, err := Map[int, int](context.Background(), p, "test.square", []int{1}, WithChunkSize(n))
		if !errors.Is(err, ErrInvalidChunkSize) {
			t.Errorf("chunk size %d: expected ErrInvalidChunkSize, got %v", n, err)
		}
	}

	t.Run("empty input", func(t *testing.T) {
		seq, err := Map[int, int](context.Background(), p, "test.square", nil)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Collect(seq)
		if err != nil || len(got) != 0 {
			t.Errorf("expected no results, got %v (%v)", got, err)
		}
	})
}

func TestMap_StopsAtFirstError(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(2))

	for _, chunk := range []int{1, 2} {
		t.Run("chunk="+strconv.Itoa(chunk), func(t *testing.T) {
			seq, err := Map[int, int](context.Background(), p, "test.failNegative", []int{1, 2, -3, 4, 5}, WithChunkSize(chunk))
			if err != nil {
				t.Fatal(err)
			}

			var got []int
			var gotErr error
			calls := 0
			for v, err := range seq {
				calls++
				if err != nil {
					gotErr = err
					continue
				}
				got = append(got, v)
			}

			if !errors.Is(gotErr, errValue) {
				t.Errorf("expected errValue, got %v", gotErr)
			}
			// with chunks of two, the failing chunk also swallows 4
			if !slices.Equal(got, []int{1, 2}) {
				t.Errorf("expected [1 2] before the error, got %v", got)
			}
			if calls != len(got)+1 {
				t.Errorf("sequence continued after the error")
			}
		})
	}
}

func TestMap_SinglePass(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(1))

	seq, err := Map[int, int](context.Background(), p, "test.square", []int{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	first, _ := Collect(seq)
	second, _ := Collect(seq)
	if len(first) != 2 || len(second) != 0 {
		t.Errorf("expected one pass, got %v then %v", first, second)
	}
}

func TestMap_TimeoutWhileConsuming(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	seq, err := Map[int, int](ctx, p, "test.sleep", []int{1000, 1000})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Collect(seq)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// A call cancelled before it reaches the call queue never runs, and every
// call that was not cancelled runs exactly once.
func TestProcessPool_CancellationWindow(t *testing.T) {
	p := newTestPool(t, WithMaxWorkers(1))
	path := filepath.Join(t.TempDir(), "calls.log")

	blocker, err := Submit[int, int](p, "test.sleep", 300)
	if err != nil {
		t.Fatal(err)
	}

	var futures []*Future[int]
	for i := range 10 {
		f, err := Submit[touchArgs, int](p, "test.touch", touchArgs{Path: path, ID: i})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}

	cancelled := make(map[int]bool)
	for i, f := range futures {
		if f.Cancel() {
			cancelled[i] = true
		}
	}
	if len(cancelled) == 0 {
		t.Fatal("expected some calls to still be cancellable")
	}

	p.Shutdown(true)
	if !blocker.IsReady() {
		t.Fatal("blocking call has no outcome")
	}

	ran := make(map[int]int)
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			id, _ := strconv.Atoi(scanner.Text())
			ran[id]++
		}
		f.Close()
	}

	for i, f := range futures {
		switch {
		case cancelled[i]:
			if ran[i] != 0 {
				t.Errorf("cancelled call %d ran %d times", i, ran[i])
			}
			if !f.Cancelled() {
				t.Errorf("future %d reports not cancelled", i)
			}
		default:
			if ran[i] != 1 {
				t.Errorf("call %d ran %d times, want exactly once", i, ran[i])
			}
		}
	}
}

func TestZip(t *testing.T) {
	tests := []struct {
		name string
		as   []int
		bs   []string
		want int
	}{
		{"equal length", []int{1, 2}, []string{"a", "b"}, 2},
		{"shorter first", []int{1}, []string{"a", "b"}, 1},
		{"shorter second", []int{1, 2, 3}, []string{"a"}, 1},
		{"empty", nil, []string{"a"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Zip(tt.as, tt.bs)
			if len(got) != tt.want {
				t.Fatalf("expected %d pairs, got %d", tt.want, len(got))
			}
			for i, p := range got {
				if p.First != tt.as[i] || p.Second != tt.bs[i] {
					t.Errorf("pair %d = %+v", i, p)
				}
			}
		})
	}
}
