// Package analytics orchestrates the inbound metric operations: cache
// lookup, quarter window computation, gateway queries under the project
// concurrency limit, aggregation, and cache store.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/amberdesk/usagelens/internal/aggregate"
	"github.com/amberdesk/usagelens/internal/cache"
	"github.com/amberdesk/usagelens/internal/domain"
)

// schemaVersion is bumped whenever the shape of any cached result changes,
// so entries written by an older build read as misses.
const schemaVersion = 1

// Cache key families, one per operation.
const (
	familySegmentation = "segmentation"
	familyUniques      = "uniques"
	familyQuarterly    = "quarterly"
)

const (
	// DefaultOrgProperty is the group property carrying the organization name.
	DefaultOrgProperty = "gp:organization"
	// DefaultLimit caps group-by series when the request does not.
	DefaultLimit = 100
	// DefaultQuarters is how many quarters a rollup covers when unspecified.
	DefaultQuarters = 3
)

// Named series inside a quarterly rollup row.
const (
	primarySeries = "primary"
	paidSeries    = "paid"
)

// Service implements the metric-retrieval operations.
type Service struct {
	gateway      Gateway
	store        Store
	windows      Windows
	sem          *semaphore.Weighted
	logger       *zap.Logger
	project      string
	orgProperty  string
	ttl          time.Duration
	defaultLimit int
}

// Config carries the service dependencies and knobs.
type Config struct {
	Gateway     Gateway
	Store       Store
	Windows     Windows
	Logger      *zap.Logger
	ProjectID   string
	OrgProperty string
	TTL         time.Duration
	// Concurrency bounds simultaneous gateway queries for this project.
	// The analytics API rate-limits per project, so the default is 1.
	Concurrency  int64
	DefaultLimit int
}

// NewService creates the orchestration service.
func NewService(cfg Config) *Service {
	orgProperty := cfg.OrgProperty
	if orgProperty == "" {
		orgProperty = DefaultOrgProperty
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		gateway:      cfg.Gateway,
		store:        cfg.Store,
		windows:      cfg.Windows,
		sem:          semaphore.NewWeighted(concurrency),
		logger:       logger,
		project:      cfg.ProjectID,
		orgProperty:  orgProperty,
		ttl:          cfg.TTL,
		defaultLimit: defaultLimit,
	}
}

// SegmentationRequest describes one grouped metric query.
type SegmentationRequest struct {
	Event   string
	Mode    domain.Mode
	GroupBy string
	Start   time.Time
	End     time.Time
	Org     string
	Limit   int
}

// UniqueUsersRequest describes a unique-user count over a date range.
// New switches from active users to first-seen users. Event overrides the
// pseudo-event when a concrete event should bound the count.
type UniqueUsersRequest struct {
	Event string
	Start time.Time
	End   time.Time
	Org   string
	New   bool
}

// AcrossEventsRequest counts users active in any of several events.
type AcrossEventsRequest struct {
	Events []string
	Start  time.Time
	End    time.Time
	Org    string
}

// QuarterlyRequest describes a per-quarter usage rollup. PaidEvent, when
// set, adds a secondary per-label series for paid-feature usage.
type QuarterlyRequest struct {
	Event     string
	Mode      domain.Mode
	GroupBy   string
	Org       string
	Quarters  int
	PaidEvent string
}

// QuarterUsage is one quarter's slice of a rollup.
type QuarterUsage struct {
	Quarter      string                    `json:"quarter"`
	DisplayLabel string                    `json:"displayLabel"`
	Start        time.Time                 `json:"start"`
	End          time.Time                 `json:"end"`
	Metrics      []domain.AggregatedMetric `json:"metrics"`
	// CombinedUniques approximates the de-duplicated user count across the
	// primary and paid queries (maximum of the two, since the API offers no
	// cross-event union). Zero unless the mode is uniques.
	CombinedUniques float64 `json:"combinedUniques"`
}

// Segmentation runs one grouped query and returns filtered, sorted
// per-label totals.
func (s *Service) Segmentation(ctx context.Context, req SegmentationRequest) ([]domain.AggregatedMetric, error) {
	if req.Event == "" {
		return nil, fmt.Errorf("%w: event is required", domain.ErrInvalidQuery)
	}
	if !req.Mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidQuery, req.Mode)
	}
	if req.GroupBy != "" && !domain.ValidPropertyRef(req.GroupBy) {
		return nil, fmt.Errorf("%w: group-by %q needs a gp:/up:/ep: prefix", domain.ErrInvalidQuery, req.GroupBy)
	}
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("%w: end precedes start", domain.ErrInvalidQuery)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}

	key := s.key(familySegmentation, req.Org, req.Event,
		fmt.Sprintf("%s|%s|%s|%s|%d",
			req.Mode, req.Start.Format("20060102"), req.End.Format("20060102"), req.GroupBy, limit))
	if v, ok := s.store.Get(key); ok {
		if cached, ok := v.([]domain.AggregatedMetric); ok {
			return cached, nil
		}
	}

	rows, err := s.fetch(ctx, domain.Query{
		Event:    req.Event,
		Mode:     req.Mode,
		Start:    req.Start,
		End:      req.End,
		GroupBy:  req.GroupBy,
		Segments: s.orgSegments(req.Org),
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	metrics := aggregate.FilterAndSort(aggregate.SumSeries(rows))
	s.store.Set(key, metrics, s.ttl)
	return metrics, nil
}

// UniqueUsers counts distinct users in the window, using the _active
// pseudo-event (or _new when req.New is set) unless a concrete event is
// given.
func (s *Service) UniqueUsers(ctx context.Context, req UniqueUsersRequest) (float64, error) {
	if req.End.Before(req.Start) {
		return 0, fmt.Errorf("%w: end precedes start", domain.ErrInvalidQuery)
	}
	event := req.Event
	if event == "" {
		event = domain.EventAnyActive
		if req.New {
			event = domain.EventNewUsers
		}
	}

	key := s.key(familyUniques, req.Org, event,
		fmt.Sprintf("%s|%s", req.Start.Format("20060102"), req.End.Format("20060102")))
	if v, ok := s.store.Get(key); ok {
		if cached, ok := v.(float64); ok {
			return cached, nil
		}
	}

	count, err := s.uniques(ctx, event, req.Start, req.End, req.Org)
	if err != nil {
		return 0, err
	}

	s.store.Set(key, count, s.ttl)
	return count, nil
}

// UniqueUsersAcrossEvents counts users active in any of the given events.
// The events are queried independently and combined as a maximum, an
// approximation of the de-duplicated count the API cannot measure directly.
func (s *Service) UniqueUsersAcrossEvents(ctx context.Context, req AcrossEventsRequest) (float64, error) {
	if len(req.Events) == 0 {
		return 0, fmt.Errorf("%w: at least one event is required", domain.ErrInvalidQuery)
	}
	if req.End.Before(req.Start) {
		return 0, fmt.Errorf("%w: end precedes start", domain.ErrInvalidQuery)
	}

	// Sort a copy so permuted event lists share one entry; the unit
	// separator keeps multi-word event names from colliding.
	events := append([]string(nil), req.Events...)
	sort.Strings(events)
	key := s.key(familyUniques, req.Org, "across:"+strings.Join(events, "\x1f"),
		fmt.Sprintf("%s|%s", req.Start.Format("20060102"), req.End.Format("20060102")))
	if v, ok := s.store.Get(key); ok {
		if cached, ok := v.(float64); ok {
			return cached, nil
		}
	}

	counts := make([]float64, 0, len(req.Events))
	for _, event := range req.Events {
		count, err := s.uniques(ctx, event, req.Start, req.End, req.Org)
		if err != nil {
			return 0, err
		}
		counts = append(counts, count)
	}
	combined := aggregate.CombineMaxAcrossQueries(counts...)

	s.store.Set(key, combined, s.ttl)
	return combined, nil
}

// QuarterlyRollup produces per-quarter usage, newest quarter first. The
// primary query drives each quarter's metrics; a paid-feature query, when
// requested, is merged per label. A failed paid query degrades to zeros so
// one flaky series cannot sink the whole report; a failed primary query
// fails the rollup.
func (s *Service) QuarterlyRollup(ctx context.Context, req QuarterlyRequest) ([]QuarterUsage, error) {
	if req.Event == "" {
		return nil, fmt.Errorf("%w: event is required", domain.ErrInvalidQuery)
	}
	if !req.Mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidQuery, req.Mode)
	}
	if req.GroupBy != "" && !domain.ValidPropertyRef(req.GroupBy) {
		return nil, fmt.Errorf("%w: group-by %q needs a gp:/up:/ep: prefix", domain.ErrInvalidQuery, req.GroupBy)
	}
	quarters := req.Quarters
	if quarters <= 0 {
		quarters = DefaultQuarters
	}

	key := s.key(familyQuarterly, req.Org, req.Event,
		fmt.Sprintf("%s|%s|%s|%d", req.Mode, req.GroupBy, req.PaidEvent, quarters))
	if v, ok := s.store.Get(key); ok {
		if cached, ok := v.([]QuarterUsage); ok {
			return cached, nil
		}
	}

	out := make([]QuarterUsage, 0, quarters)
	for i := 0; i < quarters; i++ {
		offset := -i
		window := s.windows.Range(offset)

		usage, err := s.quarterUsage(ctx, req, window.Start, window.End)
		if err != nil {
			return nil, err
		}
		usage.Quarter = window.Label
		usage.DisplayLabel = s.windows.DisplayLabel(offset)
		usage.Start = window.Start
		usage.End = window.End
		out = append(out, usage)
	}

	s.store.Set(key, out, s.ttl)
	return out, nil
}

// quarterUsage builds one quarter's metrics from the primary and optional
// paid queries.
func (s *Service) quarterUsage(ctx context.Context, req QuarterlyRequest, start, end time.Time) (QuarterUsage, error) {
	base := domain.Query{
		Mode:     req.Mode,
		Start:    start,
		End:      end,
		GroupBy:  req.GroupBy,
		Segments: s.orgSegments(req.Org),
		Limit:    s.defaultLimit,
	}

	primaryQuery := base
	primaryQuery.Event = req.Event
	primaryRows, err := s.fetch(ctx, primaryQuery)
	if err != nil {
		return QuarterUsage{}, err
	}
	primary := aggregate.SumSeries(primaryRows)

	sets := []aggregate.MetricSet{{Name: primarySeries, Metrics: primary}}

	var paid []domain.AggregatedMetric
	if req.PaidEvent != "" {
		paidQuery := base
		paidQuery.Event = req.PaidEvent
		paidRows, err := s.fetch(ctx, paidQuery)
		if err != nil {
			s.logger.Warn("Paid-feature query failed, reporting zeros",
				zap.String("event", req.PaidEvent),
				zap.Error(err),
			)
		} else {
			paid = aggregate.SumSeries(paidRows)
		}
		sets = append(sets, aggregate.MetricSet{Name: paidSeries, Metrics: paid})
	}

	merged := aggregate.MergeByLabel(sets...)
	metrics := aggregate.FilterAndSort(aggregate.PromoteTotal(merged, primarySeries))

	usage := QuarterUsage{Metrics: metrics}
	if req.Mode == domain.ModeUniques {
		usage.CombinedUniques = aggregate.CombineMaxAcrossQueries(grandTotal(primary), grandTotal(paid))
	}
	return usage, nil
}

// uniques runs one uniques query and reduces it to a single count.
func (s *Service) uniques(ctx context.Context, event string, start, end time.Time, org string) (float64, error) {
	rows, err := s.fetch(ctx, domain.Query{
		Event:    event,
		Mode:     domain.ModeUniques,
		Start:    start,
		End:      end,
		Segments: s.orgSegments(org),
	})
	if err != nil {
		return 0, err
	}
	return grandTotal(aggregate.SumSeries(rows)), nil
}

// fetch runs one gateway query under the project concurrency limit.
func (s *Service) fetch(ctx context.Context, q domain.Query) ([]domain.SeriesRow, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	return s.gateway.Segmentation(ctx, q)
}

// ResetCache drops every memoized result.
func (s *Service) ResetCache() { s.store.Clear() }

func (s *Service) orgSegments(org string) []domain.Segment {
	if org == "" {
		return nil
	}
	return []domain.Segment{domain.OrgSegment(s.orgProperty, org)}
}

func (s *Service) key(family, org, event, params string) cache.Key {
	return cache.Key{
		Project:       s.project,
		Family:        family,
		Org:           org,
		Event:         event,
		Params:        params,
		SchemaVersion: schemaVersion,
	}
}

func grandTotal(metrics []domain.AggregatedMetric) float64 {
	var total float64
	for _, m := range metrics {
		total += m.Total
	}
	return total
}
