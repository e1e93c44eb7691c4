// Package usagelens is an embeddable usage-analytics query engine for
// customer-success dashboards. It answers metric questions (unique users,
// grouped segmentation, quarterly rollups) against a rate-limited
// segmentation analytics API, memoizing aggregated results in an in-process
// TTL cache.
package usagelens

import (
	"context"
	"fmt"

	"github.com/amberdesk/usagelens/internal/cache"
	"github.com/amberdesk/usagelens/internal/domain/quarter"
	"github.com/amberdesk/usagelens/internal/transport/amplitude"
	"github.com/amberdesk/usagelens/internal/usecase/analytics"
)

// Credentials is the analytics API credential bundle. All three fields are
// required.
type Credentials struct {
	APIKey    string
	SecretKey string
	ProjectID string
}

// Engine is the public entry point. Construct one per project with New and
// share it across goroutines; all methods are safe for concurrent use.
type Engine struct {
	cache   *cache.Cache
	service *analytics.Service
}

// New creates an Engine for the given credentials.
func New(creds Credentials, opts ...Option) (*Engine, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("usagelens: api key is required")
	}
	if creds.SecretKey == "" {
		return nil, fmt.Errorf("usagelens: secret key is required")
	}
	if creds.ProjectID == "" {
		return nil, fmt.Errorf("usagelens: project id is required")
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	gateway := amplitude.NewClient(&amplitude.Config{
		BaseURL:    s.baseURL,
		APIKey:     creds.APIKey,
		SecretKey:  creds.SecretKey,
		ProjectID:  creds.ProjectID,
		Timeout:    s.requestTimeout,
		MaxRetries: s.maxRetries,
		BaseDelay:  s.baseDelay,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
	})

	store := cache.New(s.clock, s.cacheTTL, s.cacheHitMiss, s.cacheSize)

	service := analytics.NewService(analytics.Config{
		Gateway:      gateway,
		Store:        store,
		Windows:      quarter.NewCalculator(s.clock),
		Logger:       s.logger,
		ProjectID:    creds.ProjectID,
		OrgProperty:  s.orgProperty,
		TTL:          s.cacheTTL,
		Concurrency:  s.concurrency,
		DefaultLimit: s.defaultLimit,
	})

	return &Engine{cache: store, service: service}, nil
}

// Segmentation runs one grouped metric query and returns filtered, sorted
// per-label totals.
func (e *Engine) Segmentation(ctx context.Context, req SegmentationRequest) ([]Metric, error) {
	return e.service.Segmentation(ctx, req)
}

// UniqueUsers counts distinct users in the window; see UniqueUsersRequest
// for the pseudo-event selection.
func (e *Engine) UniqueUsers(ctx context.Context, req UniqueUsersRequest) (float64, error) {
	return e.service.UniqueUsers(ctx, req)
}

// UniqueUsersAcrossEvents counts users active in any of several events,
// combined as a documented max-based approximation of the true union.
func (e *Engine) UniqueUsersAcrossEvents(ctx context.Context, req AcrossEventsRequest) (float64, error) {
	return e.service.UniqueUsersAcrossEvents(ctx, req)
}

// QuarterlyRollup produces per-quarter usage, newest quarter first.
func (e *Engine) QuarterlyRollup(ctx context.Context, req QuarterlyRequest) ([]QuarterUsage, error) {
	return e.service.QuarterlyRollup(ctx, req)
}

// ResetCache drops every memoized result.
func (e *Engine) ResetCache() { e.cache.Clear() }

// SweepCache removes expired cache entries and reports how many were
// removed. Purely a memory-footprint operation.
func (e *Engine) SweepCache() int { return e.cache.Sweep() }
