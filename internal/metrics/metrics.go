package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "errwatch",
			Name:      "events_ingested_total",
			Help:      "Total number of error events ingested, partitioned by category.",
		},
		[]string{"category"},
	)

	ingestSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "errwatch",
			Name:      "ingest_seconds",
			Help:      "Ingest latency in seconds.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		},
	)

	analysisSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "errwatch",
			Name:      "analysis_seconds",
			Help:      "Analysis cycle duration in seconds, partitioned by kind.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	criticalFlagsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "errwatch",
			Name:      "critical_flags_total",
			Help:      "Total number of error groups promoted to critical.",
		},
	)

	alertsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "errwatch",
			Name:      "alerts_fired_total",
			Help:      "Total number of alerts fired, partitioned by type.",
		},
		[]string{"type"},
	)

	flushErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "errwatch",
			Name:      "flush_errors_total",
			Help:      "Total number of failed state flushes.",
		},
	)

	errorGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "errwatch",
			Name:      "error_groups",
			Help:      "Current number of tracked error groups.",
		},
	)

	activeAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "errwatch",
			Name:      "active_alerts",
			Help:      "Current number of active alerts.",
		},
	)
)

// Register attaches errwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		ingestSeconds,
		analysisSeconds,
		criticalFlagsTotal,
		alertsFiredTotal,
		flushErrorsTotal,
		errorGroups,
		activeAlerts,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records one ingested event and its processing latency.
func ObserveIngest(duration time.Duration, category string) {
	eventsIngestedTotal.WithLabelValues(category).Inc()
	if duration < 0 {
		duration = 0
	}
	ingestSeconds.Observe(duration.Seconds())
}

// ObserveAnalysis records an analysis cycle duration for the given kind.
func ObserveAnalysis(kind string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	analysisSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncCriticalFlag counts a new critical promotion.
func IncCriticalFlag() { criticalFlagsTotal.Inc() }

// IncAlert counts a fired alert by type.
func IncAlert(alertType string) { alertsFiredTotal.WithLabelValues(alertType).Inc() }

// IncFlushError counts a failed flush.
func IncFlushError() { flushErrorsTotal.Inc() }

// SetErrorGroups updates the tracked-group gauge.
func SetErrorGroups(n int) { errorGroups.Set(float64(n)) }

// SetActiveAlerts updates the active-alert gauge.
func SetActiveAlerts(n int) { activeAlerts.Set(float64(n)) }
