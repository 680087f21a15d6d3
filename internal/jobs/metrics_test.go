package jobmetrics

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("scan").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("scan")))
}

func TestAddDiscrepanciesIgnoresEmpty(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tenant := uuid.New()

	m.AddDiscrepancies("MAJOR", tenant, 0)
	m.AddDiscrepancies("MAJOR", tenant, 3)

	require.Equal(t, 3.0, testutil.ToFloat64(m.discrepancies.WithLabelValues("MAJOR", tenant.String())))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddDiscrepancies("MINOR", uuid.New(), 1)
	m.ObserveApply(true)
	require.NoError(t, m.Track("scan").End(nil))
}

func TestObserveApply(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveApply(true)
	m.ObserveApply(false)
	m.ObserveApply(false)

	require.Equal(t, 1.0, testutil.ToFloat64(m.applies.WithLabelValues("committed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.applies.WithLabelValues("rolled_back")))
}
