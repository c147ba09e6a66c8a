// Package metrics holds the Prometheus instruments exported by spreadwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spreadwatch"

// Metrics groups every collector the monitor updates.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	InstrumentsSkipped   *prometheus.CounterVec
	ObservationsUpserted prometheus.Counter
	FetchErrors          prometheus.Counter
	AlertsFired          *prometheus.CounterVec
	AlertsSuppressed     *prometheus.CounterVec
	AlertsDropped        prometheus.Counter
	RateLimitWait        prometheus.Histogram
	BaselineEntries      prometheus.Gauge
	RowsArchived         prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Evaluation cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one evaluation cycle.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		InstrumentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instruments_skipped_total",
			Help:      "Instruments skipped during a cycle, by reason.",
		}, []string{"reason"}),
		ObservationsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_upserted_total",
			Help:      "Gap observations written to the time-series store.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_fetch_errors_total",
			Help:      "Failed tick fetches.",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Persisted alerts by gap.",
		}, []string{"alert_type"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed by cooldown, by gap.",
		}, []string{"alert_type"}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alerts not delivered because the emitter buffer was full.",
		}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a vendor call slot.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 5, 30, 60},
		}),
		BaselineEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_entries",
			Help:      "Entries in the current baseline snapshot.",
		}),
		RowsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_archived_total",
			Help:      "Observations archived by the retention sweep.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.InstrumentsSkipped,
		m.ObservationsUpserted,
		m.FetchErrors,
		m.AlertsFired,
		m.AlertsSuppressed,
		m.AlertsDropped,
		m.RateLimitWait,
		m.BaselineEntries,
		m.RowsArchived,
	)
	return m
}

// NewUnregistered returns collectors on a private registry, for tests and
// one-shot modes.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
