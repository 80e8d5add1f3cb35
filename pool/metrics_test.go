//go:build unix

package pool

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := newTestPool(t, WithMaxWorkers(2), WithMetrics(reg))

	for _, x := range []int{1, 2, 3} {
		f, err := Submit[int, int](p, "test.square", x)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := getWithin(t, f, 10*time.Second); err != nil {
			t.Fatal(err)
		}
	}
	f, _ := Submit[string, int](p, "test.fail", "boom")
	_, _ = getWithin(t, f, 10*time.Second)

	m := p.state.metrics
	if got := testutil.ToFloat64(m.submitted); got != 4 {
		t.Errorf("expected 4 submitted, got %v", got)
	}
	if got := testutil.ToFloat64(m.completed.WithLabelValues(outcomeSuccess)); got != 3 {
		t.Errorf("expected 3 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.completed.WithLabelValues(outcomeError)); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}

	expected := `
# HELP procpool_workers Worker processes in the process table.
# TYPE procpool_workers gauge
procpool_workers{pool="` + p.ID() + `"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "procpool_workers"); err != nil {
		t.Error(err)
	}

	p.Shutdown(true)
	for _, name := range []string{"procpool_workers", "procpool_pending_work_items", "procpool_tasks_submitted_total"} {
		n, err := testutil.GatherAndCount(reg, name)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%s still exported after shutdown: %d series", name, n)
		}
	}
}

func TestMetrics_PoolsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	newTestPool(t, WithMaxWorkers(1), WithMetrics(reg))
	newTestPool(t, WithMaxWorkers(1), WithMetrics(reg))

	n, err := testutil.GatherAndCount(reg, "procpool_broken")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected one series per pool, got %d", n)
	}
}

func TestMetrics_UnregisteredWhenPoolStops(t *testing.T) {
	reg := prometheus.NewRegistry()
	started := newTestPool(t, WithMaxWorkers(1), WithMetrics(reg))
	idle := newTestPool(t, WithMaxWorkers(1), WithMetrics(reg))

	f, err := Submit[int, int](started, "test.square", 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := getWithin(t, f, 10*time.Second); err != nil {
		t.Fatal(err)
	}

	started.Shutdown(true)
	if n, _ := testutil.GatherAndCount(reg, "procpool_broken"); n != 1 {
		t.Errorf("expected only the idle pool's series, got %d", n)
	}

	idle.Shutdown(true)
	if n, _ := testutil.GatherAndCount(reg, "procpool_broken"); n != 0 {
		t.Errorf("expected no series, got %d", n)
	}

	// a new pool can reuse the registry
	newTestPool(t, WithMaxWorkers(1), WithMetrics(reg))
	if n, _ := testutil.GatherAndCount(reg, "procpool_broken"); n != 1 {
		t.Errorf("expected one series, got %d", n)
	}
}
