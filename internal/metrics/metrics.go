// Package metrics exports unit-of-work activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives unit-of-work events. The unit of work calls it synchronously on
// the committing goroutine, so implementations must be cheap and safe for concurrent use.
type Recorder interface {
	TransactionStarted()
	TransactionFinished(outcome string, isolation string, duration time.Duration)
	Operation(kind string)
	Conflict(kind string)
}

// Commit outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeConflict   = "conflict"
	OutcomeError      = "error"
	OutcomeRolledBack = "rolled_back"
)

// Collector is the Prometheus Recorder.
type Collector struct {
	commits   *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	ops       *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	active    prometheus.Gauge
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates the collectors and registers them with reg. A nil reg skips
// registration, which tests use to read values directly.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitwork",
			Name:      "commits_total",
			Help:      "Finished transactions by outcome.",
		}, []string{"outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitwork",
			Name:      "conflicts_total",
			Help:      "Optimistic concurrency conflicts by kind.",
		}, []string{"kind"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitwork",
			Name:      "operations_total",
			Help:      "Row writes sent to the backend by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "unitwork",
			Name:      "commit_duration_seconds",
			Help:      "Time from begin to the terminal outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"isolation"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "unitwork",
			Name:      "active_transactions",
			Help:      "Transactions begun and not yet finished.",
		}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.commits, c.conflicts, c.ops, c.duration, c.active} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collector) TransactionStarted() {
	c.active.Inc()
}

func (c *Collector) TransactionFinished(outcome, isolation string, duration time.Duration) {
	c.active.Dec()
	c.commits.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(isolation).Observe(duration.Seconds())
}

func (c *Collector) Operation(kind string) {
	c.ops.WithLabelValues(kind).Inc()
}

func (c *Collector) Conflict(kind string) {
	c.conflicts.WithLabelValues(kind).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) TransactionStarted()                               {}
func (Nop) TransactionFinished(string, string, time.Duration) {}
func (Nop) Operation(string)                                  {}
func (Nop) Conflict(string)                                   {}
