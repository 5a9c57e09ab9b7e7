// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"candlewatch/internal/cache"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Candle metrics
	CandlesUpserted prometheus.Counter
	GapsDetected    prometheus.Counter
	GapsFilled      prometheus.Counter
	GapsSkipped     *prometheus.CounterVec

	// Provider metrics
	ProviderFetches     *prometheus.CounterVec
	ProviderFetchErrors *prometheus.CounterVec
	ProviderRateLimited *prometheus.CounterVec
	ProviderLatency     *prometheus.HistogramVec

	// Alert metrics
	AlertsEvaluated   prometheus.Counter
	AlertsTriggered   *prometheus.CounterVec
	TriggerDeliveries *prometheus.CounterVec

	// Worker metrics
	BackfillJobsTotal *prometheus.CounterVec
	PollSweeps        prometheus.Counter
	PollDuration      prometheus.Histogram

	// Cache metrics
	CacheHits      prometheus.CounterFunc
	CacheMisses    prometheus.CounterFunc
	CacheEvictions prometheus.CounterFunc
	CacheSize      prometheus.GaugeFunc

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulPoll prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "candlewatch"
	}

	return &Metrics{
		// Candle metrics
		CandlesUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "upserted_total",
			Help:      "Total number of candles upserted",
		}),
		GapsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "gaps_detected_total",
			Help:      "Total number of missing candle ranges detected",
		}),
		GapsFilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "gaps_filled_total",
			Help:      "Total number of missing candle ranges fetched and stored",
		}),
		GapsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "gaps_skipped_total",
			Help:      "Total number of gaps skipped by reason",
		}, []string{"reason"}),

		// Provider metrics
		ProviderFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetches_total",
			Help:      "Total number of provider fetch requests",
		}, []string{"provider"}),
		ProviderFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed provider fetches",
		}, []string{"provider"}),
		ProviderRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limit responses from providers",
		}, []string{"provider"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_latency_seconds",
			Help:      "Provider fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		// Alert metrics
		AlertsEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "evaluated_total",
			Help:      "Total number of alert evaluations",
		}),
		AlertsTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "Total number of triggers by type",
		}, []string{"trigger_type"}),
		TriggerDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "deliveries_total",
			Help:      "Total number of trigger delivery attempts by outcome",
		}, []string{"status"}),

		// Worker metrics
		BackfillJobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "backfill_jobs_total",
			Help:      "Total number of backfill jobs finished by status",
		}, []string{"status"}),
		PollSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "poll_sweeps_total",
			Help:      "Total number of poll sweeps executed",
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "poll_sweep_duration_seconds",
			Help:      "Poll sweep duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of last successful poll sweep",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// ObserveCache exports a cache's hit/miss/eviction counters and size under
// the given cache name. Values are read lazily at scrape time.
func (m *Metrics) ObserveCache(namespace, name string, c *cache.Cache) {
	if namespace == "" {
		namespace = "candlewatch"
	}
	labels := prometheus.Labels{"cache": name}

	m.CacheHits = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "cache",
		Name:        "hits_total",
		Help:        "Total number of cache hits",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Stats().Hits) })
	m.CacheMisses = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "cache",
		Name:        "misses_total",
		Help:        "Total number of cache misses",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Stats().Misses) })
	m.CacheEvictions = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "cache",
		Name:        "evictions_total",
		Help:        "Total number of cache evictions",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Stats().Evictions) })
	m.CacheSize = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "cache",
		Name:        "entries",
		Help:        "Current number of cache entries",
		ConstLabels: labels,
	}, func() float64 { return float64(c.Stats().Size) })
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCandlesUpserted adds to the upserted candle counter.
func RecordCandlesUpserted(n int) {
	DefaultMetrics.CandlesUpserted.Add(float64(n))
}

// RecordGapDetected increments the detected gap counter.
func RecordGapDetected() {
	DefaultMetrics.GapsDetected.Inc()
}

// RecordGapFilled increments the filled gap counter.
func RecordGapFilled() {
	DefaultMetrics.GapsFilled.Inc()
}

// RecordGapSkipped records a skipped gap with its reason.
func RecordGapSkipped(reason string) {
	DefaultMetrics.GapsSkipped.WithLabelValues(reason).Inc()
}

// RecordProviderFetch records one provider fetch and its latency.
func RecordProviderFetch(provider string, seconds float64, err error) {
	DefaultMetrics.ProviderFetches.WithLabelValues(provider).Inc()
	DefaultMetrics.ProviderLatency.WithLabelValues(provider).Observe(seconds)
	if err != nil {
		DefaultMetrics.ProviderFetchErrors.WithLabelValues(provider).Inc()
	}
}

// RecordRateLimited increments the provider rate-limit counter.
func RecordRateLimited(provider string) {
	DefaultMetrics.ProviderRateLimited.WithLabelValues(provider).Inc()
}

// RecordAlertTriggered records one trigger by type.
func RecordAlertTriggered(triggerType string) {
	DefaultMetrics.AlertsEvaluated.Inc()
	DefaultMetrics.AlertsTriggered.WithLabelValues(triggerType).Inc()
}

// RecordDelivery records one trigger delivery attempt outcome.
func RecordDelivery(status string) {
	DefaultMetrics.TriggerDeliveries.WithLabelValues(status).Inc()
}

// RecordBackfillJob records a finished backfill job by terminal status.
func RecordBackfillJob(status string) {
	DefaultMetrics.BackfillJobsTotal.WithLabelValues(status).Inc()
}

// RecordPollSweep records one poll sweep and its duration.
func RecordPollSweep(seconds float64) {
	DefaultMetrics.PollSweeps.Inc()
	DefaultMetrics.PollDuration.Observe(seconds)
	DefaultMetrics.LastSuccessfulPoll.SetToCurrentTime()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
