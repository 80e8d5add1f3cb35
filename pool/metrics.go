package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeBroken    = "broken"
	outcomeCancelled = "cancelled"
)

type poolMetrics struct {
	reg        prometheus.Registerer
	collectors []prometheus.Collector

	submitted prometheus.Counter
	completed *prometheus.CounterVec
}

// newPoolMetrics creates the pool's collectors. With a nil registerer they
// are created but not registered.
func newPoolMetrics(reg prometheus.Registerer, s *poolState) *poolMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"pool": s.id}

	m := &poolMetrics{
		submitted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "procpool_tasks_submitted_total",
			Help:        "Calls accepted by Submit.",
			ConstLabels: labels,
		}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "procpool_tasks_completed_total",
			Help:        "Calls that reached a terminal state, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}

	workers := factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "procpool_workers",
		Help:        "Worker processes in the process table.",
		ConstLabels: labels,
	}, func() float64 { return float64(s.workerCount()) })

	pending := factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "procpool_pending_work_items",
		Help:        "Submitted calls without an outcome.",
		ConstLabels: labels,
	}, func() float64 { return float64(s.pending.len()) })

	broken := factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "procpool_broken",
		Help:        "1 once a worker died abruptly.",
		ConstLabels: labels,
	}, func() float64 {
		if s.broken.Load() {
			return 1
		}
		return 0
	})

	m.reg = reg
	m.collectors = []prometheus.Collector{m.submitted, m.completed, workers, pending, broken}
	return m
}

// unregister removes the pool's series from the registerer once the pool is
// gone.
func (m *poolMetrics) unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
}

func (m *poolMetrics) complete(outcome string) {
	m.completed.WithLabelValues(outcome).Inc()
}
