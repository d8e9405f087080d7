// Package metrics holds the Prometheus collectors equipscan exports.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Scans          *prometheus.CounterVec
	LookupDuration prometheus.Histogram
	DecodeErrors   prometheus.Counter
	Actions        *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	OverdueMarked  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "equipscan",
			Name:      "scans_total",
			Help:      "Accepted codes by lookup outcome.",
		}, []string{"outcome", "source"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "equipscan",
			Name:      "lookup_duration_seconds",
			Help:      "Latency of inventory lookups issued by scanner sessions.",
			Buckets:   prometheus.DefBuckets,
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "equipscan",
			Name:      "decode_errors_total",
			Help:      "Frames the decoder failed on for reasons other than no code present.",
		}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "equipscan",
			Name:      "actions_total",
			Help:      "Borrow/return actions by result.",
		}, []string{"action", "result"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "equipscan",
			Name:      "active_sessions",
			Help:      "Scanner sessions with an open camera stream.",
		}),
		OverdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "equipscan",
			Name:      "loans_marked_overdue_total",
			Help:      "Loans moved to overdue by the periodic check.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Scans, m.LookupDuration, m.DecodeErrors, m.Actions, m.ActiveSessions, m.OverdueMarked)
	}
	return m
}

func (m *Metrics) ObserveScan(outcome, source string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome, source).Inc()
}

func (m *Metrics) ObserveLookup(seconds float64) {
	if m == nil {
		return
	}
	m.LookupDuration.Observe(seconds)
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) ObserveAction(action, result string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) Overdue(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OverdueMarked.Add(float64(n))
}
