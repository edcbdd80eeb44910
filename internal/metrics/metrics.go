// Package metrics provides Prometheus instrumentation for commits, merges and
// the integrity checker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "revstore"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	// CommitAttempts counts commit attempts by branch and result
	// (committed, contention, failed).
	CommitAttempts *prometheus.CounterVec

	// CommitRetriesExhausted counts commits that ran out of attempts.
	CommitRetriesExhausted prometheus.Counter

	// Conflicts counts merge conflicts by kind.
	Conflicts *prometheus.CounterVec

	// DonationsFiltered counts conflicts dropped as donated content.
	DonationsFiltered prometheus.Counter

	// IntegrityViolations counts missing objects found before commit.
	IntegrityViolations prometheus.Counter

	// ChangeSetBuildSeconds measures change-set computation.
	ChangeSetBuildSeconds prometheus.Histogram

	// MergeSeconds measures merges by outcome (merged, conflicts, failed).
	MergeSeconds *prometheus.HistogramVec
}

// New creates and registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CommitAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "attempts_total",
			Help:      "Commit attempts by branch and result",
		}, []string{"branch", "result"}),
		CommitRetriesExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "retries_exhausted_total",
			Help:      "Commits that failed after exhausting all attempts",
		}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "conflicts_total",
			Help:      "Merge conflicts by kind",
		}, []string{"kind"}),
		DonationsFiltered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "donations_filtered_total",
			Help:      "Conflicts dropped as donated content",
		}),
		IntegrityViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "violations_total",
			Help:      "Objects missing from a commit set",
		}),
		ChangeSetBuildSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "changeset",
			Name:      "build_seconds",
			Help:      "Change-set computation latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		MergeSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Merge latency in seconds by outcome",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"outcome"}),
	}
}

// CommitAttempt records one commit attempt.
func (m *Metrics) CommitAttempt(branch, result string) {
	if m == nil {
		return
	}
	m.CommitAttempts.WithLabelValues(branch, result).Inc()
}

// RetriesExhausted records a commit that ran out of attempts.
func (m *Metrics) RetriesExhausted() {
	if m == nil {
		return
	}
	m.CommitRetriesExhausted.Inc()
}

// Conflict records a reported merge conflict.
func (m *Metrics) Conflict(kind string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(kind).Inc()
}

// Donated records conflicts dropped by donation filtering.
func (m *Metrics) Donated(n int) {
	if m == nil || n == 0 {
		return
	}
	m.DonationsFiltered.Add(float64(n))
}

// Violations records integrity violations.
func (m *Metrics) Violations(n int) {
	if m == nil || n == 0 {
		return
	}
	m.IntegrityViolations.Add(float64(n))
}

// ObserveChangeSet records a change-set build duration.
func (m *Metrics) ObserveChangeSet(seconds float64) {
	if m == nil {
		return
	}
	m.ChangeSetBuildSeconds.Observe(seconds)
}

// ObserveMerge records a merge duration.
func (m *Metrics) ObserveMerge(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.MergeSeconds.WithLabelValues(outcome).Observe(seconds)
}
