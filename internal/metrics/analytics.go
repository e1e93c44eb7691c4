package metrics

import "github.com/prometheus/client_golang/prometheus"

// Analytics engine Prometheus metrics.
var (
	AnalyticsRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "usagelens",
			Name:      "analytics_requests_total",
			Help:      "Total number of analytics API requests",
		},
		[]string{"project", "status"},
	)

	AnalyticsRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "usagelens",
			Name:      "analytics_request_duration_seconds",
			Help:      "Analytics API request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"project"},
	)

	AnalyticsRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "usagelens",
			Name:      "analytics_retries_total",
			Help:      "Total analytics API retries by reason",
		},
		[]string{"project", "reason"}, // "rate_limited" / "network"
	)

	UsageCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "usagelens",
			Name:      "usage_cache_total",
			Help:      "Usage cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	UsageCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "usagelens",
			Name:      "usage_cache_entries",
			Help:      "Number of entries currently held by the usage cache",
		},
	)
)

var analyticsMetricsRegistered bool

// RegisterAnalyticsMetrics registers Prometheus analytics metrics. Must be
// called once from main.
func RegisterAnalyticsMetrics() {
	if analyticsMetricsRegistered {
		return
	}
	prometheus.MustRegister(AnalyticsRequestsTotal)
	prometheus.MustRegister(AnalyticsRequestDuration)
	prometheus.MustRegister(AnalyticsRetriesTotal)
	prometheus.MustRegister(UsageCacheTotal)
	prometheus.MustRegister(UsageCacheEntries)
	analyticsMetricsRegistered = true
}
