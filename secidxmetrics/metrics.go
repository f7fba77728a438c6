// Package secidxmetrics instruments the planner with Prometheus metrics.
// Instrumentation here is never load-bearing for a planning decision.
package secidxmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters/histograms the planner and its
// collaborators report through.
type Metrics struct {
	PlansTotal         *prometheus.CounterVec
	CacheShortCircuits prometheus.Counter
	ScanDuration       *prometheus.HistogramVec
	SplitsEmitted      prometheus.Histogram
}

// New constructs a Metrics bundle and registers it against reg. Passing a
// nil reg is valid and simply skips registration, for tests that don't
// want a global registry polluted.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secidx",
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Number of planning decisions, by outcome.",
		}, []string{"outcome"}),
		CacheShortCircuits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secidx",
			Subsystem: "cardinality_cache",
			Name:      "short_circuits_total",
			Help:      "Number of GetCardinalities calls that returned via short-circuit.",
		}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "secidx",
			Subsystem: "index_scanner",
			Name:      "scan_duration_seconds",
			Help:      "Duration of one constraint's index-table scan.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"column"}),
		SplitsEmitted: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "secidx",
			Subsystem: "planner",
			Name:      "splits_emitted",
			Help:      "Number of tablet splits emitted per UseIndex decision.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PlansTotal, m.CacheShortCircuits, m.ScanDuration, m.SplitsEmitted)
	}
	return m
}
