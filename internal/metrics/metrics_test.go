package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommitAttempt("MAIN", "contention")
	m.CommitAttempt("MAIN", "contention")
	m.CommitAttempt("MAIN", "committed")
	m.Conflict("added-in-source-and-target")
	m.Donated(3)
	m.Donated(0)
	m.Violations(2)
	m.RetriesExhausted()
	m.ObserveChangeSet(0.01)
	m.ObserveMerge("merged", 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommitAttempts.WithLabelValues("MAIN", "contention")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitAttempts.WithLabelValues("MAIN", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("added-in-source-and-target")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DonationsFiltered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IntegrityViolations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitRetriesExhausted))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CommitAttempt("MAIN", "committed")
		m.Conflict("x")
		m.Donated(1)
		m.Violations(1)
		m.RetriesExhausted()
		m.ObserveChangeSet(1)
		m.ObserveMerge("merged", 1)
	})
}
