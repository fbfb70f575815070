package scenario

import (
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"tinygo.org/x/picosync/machine"
)

// Metrics collects step and chip counters of the scenarios run by a Runner.
type Metrics struct {
	scenarios    *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	events     prometheus.Counter
	waits      prometheus.Counter
	timeouts   prometheus.Counter
	contended  prometheus.Counter
	interrupts prometheus.Counter
}

// NewMetrics creates the scenario metrics and registers them with registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		scenarios: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios",
			Help:      "Number of scenarios run, by outcome",
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps",
			Help:      "Number of steps executed, by operation and result",
		}, []string{"op", "result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time spent in a step, by operation",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8),
		}, []string{"op"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sev",
			Help:      "Number of SEV instructions executed",
		}),
		waits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wfe",
			Help:      "Number of WFE instructions executed",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wfe_timeouts",
			Help:      "Number of timed WFE instructions that reached their deadline",
		}),
		contended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spinlock_contended",
			Help:      "Number of spinlock acquisitions that had to spin",
		}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts",
			Help:      "Number of interrupt handlers run",
		}),
	}
	err := errors.Join(
		registerer.Register(m.scenarios),
		registerer.Register(m.steps),
		registerer.Register(m.stepDuration),
		registerer.Register(m.events),
		registerer.Register(m.waits),
		registerer.Register(m.timeouts),
		registerer.Register(m.contended),
		registerer.Register(m.interrupts),
	)
	return m, err
}

func (m *Metrics) observeStep(op Op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(op), result).Inc()
	m.stepDuration.WithLabelValues(string(op)).Observe(d.Seconds())
}

func (m *Metrics) observeScenario(err error, stats machine.Stats) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrDeadlock):
		outcome = "deadlock"
	case err != nil:
		outcome = "failed"
	}
	m.scenarios.WithLabelValues(outcome).Inc()
	m.events.Add(float64(stats.Events))
	m.waits.Add(float64(stats.Waits))
	m.timeouts.Add(float64(stats.Timeouts))
	m.contended.Add(float64(stats.Contended))
	m.interrupts.Add(float64(stats.Interrupts))
}

// WriteText writes all metrics gathered by g in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
