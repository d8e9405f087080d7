package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveScan("found", "camera")
	m.ObserveScan("found", "camera")
	m.ObserveScan("not_found", "manual")
	m.ObserveLookup(0.02)
	m.DecodeError()
	m.ObserveAction("borrow", "ok")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Overdue(3)
	m.Overdue(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Scans.WithLabelValues("found", "camera")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("not_found", "manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("borrow", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OverdueMarked))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LookupDuration))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveScan("found", "camera")
		m.ObserveLookup(1)
		m.DecodeError()
		m.ObserveAction("return", "error")
		m.SessionOpened()
		m.SessionClosed()
		m.Overdue(2)
	})
}
