package usagelens

import (
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/amberdesk/usagelens/internal/cache"
	"github.com/amberdesk/usagelens/internal/metrics"
	"github.com/amberdesk/usagelens/internal/transport/amplitude"
	"github.com/amberdesk/usagelens/internal/usecase/analytics"
)

// Option configures an Engine.
type Option func(*settings)

type settings struct {
	httpClient     *http.Client
	baseURL        string
	requestTimeout time.Duration
	maxRetries     int
	baseDelay      time.Duration
	cacheTTL       time.Duration
	concurrency    int64
	defaultLimit   int
	orgProperty    string
	logger         *zap.Logger
	clock          quartz.Clock
	cacheHitMiss   *prometheus.CounterVec
	cacheSize      prometheus.Gauge
}

func defaultSettings() settings {
	return settings{
		baseURL:      amplitude.DefaultBaseURL,
		cacheTTL:     cache.DefaultTTL,
		concurrency:  1,
		defaultLimit: analytics.DefaultLimit,
		orgProperty:  analytics.DefaultOrgProperty,
		clock:        quartz.NewReal(),
	}
}

// WithHTTPClient replaces the default HTTP client. WithRequestTimeout is
// ignored when a client is supplied.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithBaseURL points the engine at a different API host, e.g. a test server
// or a regional endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithRequestTimeout bounds a single HTTP attempt (default 30s).
func WithRequestTimeout(d time.Duration) Option {
	return func(s *settings) { s.requestTimeout = d }
}

// WithMaxRetries sets the total attempts per query, first attempt included
// (default 3).
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// WithBaseDelay sets the first retry delay; subsequent delays double
// (default 1s).
func WithBaseDelay(d time.Duration) Option {
	return func(s *settings) { s.baseDelay = d }
}

// WithCacheTTL sets how long aggregated results are memoized (default 15m).
func WithCacheTTL(d time.Duration) Option {
	return func(s *settings) { s.cacheTTL = d }
}

// WithProjectConcurrency bounds simultaneous API queries. The API
// rate-limits per project, so the default is 1 (fully sequential).
func WithProjectConcurrency(n int64) Option {
	return func(s *settings) { s.concurrency = n }
}

// WithDefaultLimit caps group-by series when a request does not (default 100).
func WithDefaultLimit(n int) Option {
	return func(s *settings) { s.defaultLimit = n }
}

// WithOrgProperty sets the property carrying the organization name
// (default "gp:organization").
func WithOrgProperty(prop string) Option {
	return func(s *settings) { s.orgProperty = prop }
}

// WithLogger attaches a zap logger (default: no logging).
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock injects the clock driving cache expiry and quarter windows.
// Intended for tests.
func WithClock(c quartz.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithCacheMetrics wires the cache to the package-level Prometheus
// collectors. Call metrics registration once in main first.
func WithCacheMetrics() Option {
	return func(s *settings) {
		s.cacheHitMiss = metrics.UsageCacheTotal
		s.cacheSize = metrics.UsageCacheEntries
	}
}
