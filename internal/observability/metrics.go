package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the feed
// aggregation service.
type Metrics struct {
	// Per-source fetch cycle metrics.
	FetchCycles   *prometheus.CounterVec   // labels: source, outcome={success,failure,skipped}
	FetchDuration *prometheus.HistogramVec // labels: source
	EventsFetched *prometheus.HistogramVec // labels: source

	// Pipeline reduction metrics.
	EventsDroppedInvalid   *prometheus.CounterVec // labels: source
	EventsDroppedRetention *prometheus.CounterVec // labels: type, rule
	EventsDeduplicated     *prometheus.CounterVec // labels: type

	// Merge metrics.
	MergeRemovedStale     *prometheus.CounterVec // labels: type
	MergeRemovedDuplicate *prometheus.CounterVec // labels: type
	FeedSize              *prometheus.GaugeVec   // labels: type

	// Circuit breaker state, one gauge per source: 0 closed, 1 open, 2 half-open.
	CircuitState *prometheus.GaugeVec // labels: source

	// Downstream publish metrics.
	FeedsPublished *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.FetchCycles,
		m.FetchDuration,
		m.EventsFetched,
		m.EventsDroppedInvalid,
		m.EventsDroppedRetention,
		m.EventsDeduplicated,
		m.MergeRemovedStale,
		m.MergeRemovedDuplicate,
		m.FeedSize,
		m.CircuitState,
		m.FeedsPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_feed",
			Name:      "fetch_cycles_total",
			Help:      "Fetch cycles per source by outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "disaster_feed",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one source fetch including decode.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		EventsFetched: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "disaster_feed",
			Name:      "events_fetched",
			Help:      "Events returned by one successful source fetch.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"source"}),
		EventsDroppedInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_feed",
			Name:      "events_dropped_invalid_total",
			Help:      "Records dropped at ingestion for failing validation.",
		}, []string{"source"}),
		EventsDroppedRetention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_feed",
			Name:      "events_dropped_retention_total",
			Help:      "Events removed by per-type retention rules.",
		}, []string{"type", "rule"}),
		EventsDeduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_feed",
			Name:      "events_deduplicated_total",
			Help:      "Events collapsed by geo-temporal clustering.",
		}, []string{"type"}),
		MergeRemovedStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_feed",
			Name:      "merge_removed_stale_total",
			Help:      "Events excluded from canonical feeds by the staleness gate.",
		}, []string{"type"}),
		MergeRemovedDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_feed",
			Name:      "merge_removed_duplicate_total",
			Help:      "Cross-source identity duplicates removed during merge.",
		}, []string{"type"}),
		FeedSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "disaster_feed",
			Name:      "feed_size",
			Help:      "Events in the current canonical feed per type.",
		}, []string{"type"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "disaster_feed",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per source: 0 closed, 1 open, 2 half-open.",
		}, []string{"source"}),
		FeedsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_feed",
			Name:      "feeds_published_total",
			Help:      "Canonical feeds published downstream by outcome.",
		}, []string{"outcome"}),
	}
}
