package facetstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the optional Prometheus instrumentation a Facet reports
// commit activity to. It is never required: a Facet with no Metrics
// configured simply skips instrumentation, since a library must not force
// a metrics registry on its caller.
type Metrics struct {
	commits     *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	commitTimer *prometheus.HistogramVec
}

// NewMetrics builds a Metrics and registers its collectors with reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facetstream",
			Name:      "commits_total",
			Help:      "Number of successful facet commits, by facet and operation.",
		}, []string{"facet", "op"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facetstream",
			Name:      "commit_conflicts_total",
			Help:      "Number of commits rejected by the store's optimistic-concurrency predicate.",
		}, []string{"facet", "op"}),
		commitTimer: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "facetstream",
			Name:      "commit_duration_seconds",
			Help:      "Latency of a commit's PutTransaction call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"facet", "op"}),
	}
	reg.MustRegister(m.commits, m.conflicts, m.commitTimer)
	return m
}

func (m *Metrics) observeCommit(facet, op string, d time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(facet, op).Inc()
	m.commitTimer.WithLabelValues(facet, op).Observe(d.Seconds())
}

func (m *Metrics) observeConflict(facet, op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(facet, op).Inc()
}
