package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hazard_monitor"

// Metrics holds the Prometheus counters, histograms, and gauges for the hazard monitor.
type Metrics struct {
	// Processing metrics, labelled by hazard_type.
	PairsConsidered  *prometheus.CounterVec
	EventsWritten    *prometheus.CounterVec
	EventsExceeded   *prometheus.CounterVec
	PersistErrors    *prometheus.CounterVec
	ProcessDuration  *prometheus.HistogramVec
	ProcessorRunning prometheus.Gauge

	// Feed metrics, labelled by feed.
	FeedErrors        *prometheus.CounterVec
	FeedFetchDuration *prometheus.HistogramVec

	// Aggregation metrics.
	AlertsAppended       prometheus.Counter
	AlertsRefreshed      prometheus.Counter
	AggregationConflicts prometheus.Counter

	// Notification delivery, labelled by outcome={success,retry,requeued,dropped}.
	Notifications  *prometheus.CounterVec
	ChangesRelayed prometheus.Counter
	ChangesTrimmed prometheus.Counter

	// Manifest writes, labelled by outcome={written,skipped,failed}.
	ManifestWrites *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them with reg. One-shot
// commands pass a private registry so nothing is exported.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PairsConsidered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_considered_total",
			Help:      "Site and event pairs within range of each other.",
		}, []string{"hazard_type"}),
		EventsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Scored events merged into the store.",
		}, []string{"hazard_type"}),
		EventsExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_exceeded_total",
			Help:      "Scored events whose metric exceeded the threshold.",
		}, []string{"hazard_type"}),
		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Scored events that could not be written and were skipped.",
		}, []string{"hazard_type"}),
		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Duration of a complete fetch-score-persist cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"hazard_type"}),
		ProcessorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processor_running",
			Help:      "1 when the scheduler is active, 0 when shut down.",
		}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Failed hazard feed fetches.",
		}, []string{"feed"}),
		FeedFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Hazard feed request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"feed"}),
		AlertsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_appended_total",
			Help:      "New alerts added to a site's alert list.",
		}),
		AlertsRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_refreshed_total",
			Help:      "Repeat notifications for an alert the site already has.",
		}),
		AggregationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_conflicts_total",
			Help:      "Alert aggregations that exhausted their transaction retries.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Change notifications handled by the trigger dispatcher, by outcome.",
		}, []string{"outcome"}),
		ChangesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_relayed_total",
			Help:      "Store change records published to Kafka.",
		}),
		ChangesTrimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_trimmed_total",
			Help:      "Acknowledged change records removed from the store's change log.",
		}),
		ManifestWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_writes_total",
			Help:      "Hourly manifest snapshots by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PairsConsidered,
		m.EventsWritten,
		m.EventsExceeded,
		m.PersistErrors,
		m.ProcessDuration,
		m.ProcessorRunning,
		m.FeedErrors,
		m.FeedFetchDuration,
		m.AlertsAppended,
		m.AlertsRefreshed,
		m.AggregationConflicts,
		m.Notifications,
		m.ChangesRelayed,
		m.ChangesTrimmed,
		m.ManifestWrites,
	}
}
