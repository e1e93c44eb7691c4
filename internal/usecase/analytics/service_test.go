package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/amberdesk/usagelens/internal/cache"
	"github.com/amberdesk/usagelens/internal/domain"
	"github.com/amberdesk/usagelens/internal/domain/quarter"
)

// mockGateway replays canned responses keyed by event name and records
// every query it receives.
type mockGateway struct {
	responses map[string][]domain.SeriesRow
	errs      map[string]error
	queries   []domain.Query
}

func (m *mockGateway) Segmentation(_ context.Context, q domain.Query) ([]domain.SeriesRow, error) {
	m.queries = append(m.queries, q)
	if err, ok := m.errs[q.Event]; ok {
		return nil, err
	}
	return m.responses[q.Event], nil
}

func newTestService(t *testing.T, gw *mockGateway) (*Service, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	svc := NewService(Config{
		Gateway:   gw,
		Store:     cache.New(clock, 15*time.Minute, nil, nil),
		Windows:   quarter.NewCalculator(clock),
		Logger:    zap.NewNop(),
		ProjectID: "proj-1",
		TTL:       15 * time.Minute,
	})
	return svc, clock
}

func TestSegmentation_FetchesAggregatesAndCaches(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {
			{Label: "Acme", Values: []float64{1, 2, 3}},
			{Label: "(none)", Values: []float64{99}},
			{Label: "Globex", Values: []float64{10}},
		},
	}}
	svc, _ := newTestService(t, gw)

	req := SegmentationRequest{
		Event:   "document_opened",
		Mode:    domain.ModeTotals,
		GroupBy: "gp:organization",
		Start:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}

	got, err := svc.Segmentation(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Label != "Globex" || got[0].Total != 10 || got[1].Label != "Acme" || got[1].Total != 6 {
		t.Errorf("unexpected metrics: %+v", got)
	}
	if len(gw.queries) != 1 {
		t.Fatalf("expected 1 gateway query, got %d", len(gw.queries))
	}

	// Second identical call is served from the cache.
	if _, err := svc.Segmentation(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.queries) != 1 {
		t.Errorf("expected cached result, got %d gateway queries", len(gw.queries))
	}
}

func TestSegmentation_RefetchesAfterExpiry(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {{Label: "Acme", Values: []float64{5}}},
	}}
	svc, clock := newTestService(t, gw)

	req := SegmentationRequest{
		Event: "document_opened",
		Mode:  domain.ModeTotals,
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}

	if _, err := svc.Segmentation(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(15 * time.Minute)
	if _, err := svc.Segmentation(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gw.queries) != 2 {
		t.Errorf("expected a fresh fetch after TTL expiry, got %d queries", len(gw.queries))
	}
}

func TestSegmentation_Validation(t *testing.T) {
	svc, _ := newTestService(t, &mockGateway{})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  SegmentationRequest
	}{
		{"missing event", SegmentationRequest{Mode: domain.ModeTotals, Start: start, End: end}},
		{"bad mode", SegmentationRequest{Event: "e", Mode: "median", Start: start, End: end}},
		{"unprefixed group-by", SegmentationRequest{Event: "e", Mode: domain.ModeTotals, GroupBy: "organization", Start: start, End: end}},
		{"inverted range", SegmentationRequest{Event: "e", Mode: domain.ModeTotals, Start: end, End: start}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Segmentation(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestUniqueUsers_UsesPseudoEventsAndOrgSegment(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		domain.EventAnyActive: {{Label: "", Values: []float64{3, 4}}},
		domain.EventNewUsers:  {{Label: "", Values: []float64{1, 1}}},
	}}
	svc, _ := newTestService(t, gw)

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	active, err := svc.UniqueUsers(context.Background(), UniqueUsersRequest{Start: start, End: end, Org: "Acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active != 7 {
		t.Errorf("expected 7 active users, got %v", active)
	}

	fresh, err := svc.UniqueUsers(context.Background(), UniqueUsersRequest{Start: start, End: end, New: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh != 2 {
		t.Errorf("expected 2 new users, got %v", fresh)
	}

	if len(gw.queries) != 2 {
		t.Fatalf("expected 2 gateway queries, got %d", len(gw.queries))
	}
	first := gw.queries[0]
	if first.Event != domain.EventAnyActive || first.Mode != domain.ModeUniques {
		t.Errorf("unexpected first query: %+v", first)
	}
	if len(first.Segments) != 1 || first.Segments[0].Property != DefaultOrgProperty || first.Segments[0].Values[0] != "Acme" {
		t.Errorf("expected organization segment, got %+v", first.Segments)
	}
	if gw.queries[1].Event != domain.EventNewUsers {
		t.Errorf("expected _new pseudo-event, got %q", gw.queries[1].Event)
	}
}

func TestUniqueUsersAcrossEvents_CombinesAsMax(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {{Label: "", Values: []float64{40}}},
		"export_run":      {{Label: "", Values: []float64{87}}},
		"share_link":      {{Label: "", Values: []float64{12}}},
	}}
	svc, _ := newTestService(t, gw)

	got, err := svc.UniqueUsersAcrossEvents(context.Background(), AcrossEventsRequest{
		Events: []string{"document_opened", "export_run", "share_link"},
		Start:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 87 {
		t.Errorf("expected max of per-event counts (87), got %v", got)
	}
	if len(gw.queries) != 3 {
		t.Errorf("expected one query per event, got %d", len(gw.queries))
	}
}

func TestUniqueUsersAcrossEvents_PrimaryFailurePropagates(t *testing.T) {
	gw := &mockGateway{
		responses: map[string][]domain.SeriesRow{
			"document_opened": {{Label: "", Values: []float64{40}}},
		},
		errs: map[string]error{
			"export_run": &domain.RateLimitError{Body: "slow down"},
		},
	}
	svc, _ := newTestService(t, gw)

	_, err := svc.UniqueUsersAcrossEvents(context.Background(), AcrossEventsRequest{
		Events: []string{"document_opened", "export_run"},
		Start:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("expected the gateway error to propagate unmodified, got %v", err)
	}
}

func TestUniqueUsersAcrossEvents_CacheIgnoresEventOrder(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {{Label: "", Values: []float64{40}}},
		"export_run":      {{Label: "", Values: []float64{87}}},
	}}
	svc, _ := newTestService(t, gw)

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	first, err := svc.UniqueUsersAcrossEvents(context.Background(), AcrossEventsRequest{
		Events: []string{"document_opened", "export_run"},
		Start:  start,
		End:    end,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := svc.UniqueUsersAcrossEvents(context.Background(), AcrossEventsRequest{
		Events: []string{"export_run", "document_opened"},
		Start:  start,
		End:    end,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Errorf("expected identical counts, got %v and %v", first, second)
	}
	if len(gw.queries) != 2 {
		t.Errorf("expected the permuted list to share the cache entry, got %d queries", len(gw.queries))
	}
}

func TestUniqueUsersAcrossEvents_MultiWordEventNamesDoNotCollide(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"doc opened":    {{Label: "", Values: []float64{10}}},
		"export":        {{Label: "", Values: []float64{20}}},
		"doc":           {{Label: "", Values: []float64{30}}},
		"opened export": {{Label: "", Values: []float64{40}}},
	}}
	svc, _ := newTestService(t, gw)

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	// {"doc opened", "export"} and {"doc", "opened export"} must not share a
	// cache entry despite joining to the same space-separated text.
	first, err := svc.UniqueUsersAcrossEvents(context.Background(), AcrossEventsRequest{
		Events: []string{"doc opened", "export"},
		Start:  start,
		End:    end,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != 20 {
		t.Errorf("expected 20, got %v", first)
	}

	second, err := svc.UniqueUsersAcrossEvents(context.Background(), AcrossEventsRequest{
		Events: []string{"doc", "opened export"},
		Start:  start,
		End:    end,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != 40 {
		t.Errorf("expected 40, got %v", second)
	}

	if len(gw.queries) != 4 {
		t.Errorf("expected 4 gateway queries for distinct event lists, got %d", len(gw.queries))
	}
}

func TestSegmentation_MismatchedCacheShapeTriggersRefetch(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {{Label: "Acme", Values: []float64{5}}},
	}}
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	store := cache.New(clock, 15*time.Minute, nil, nil)

	svc := NewService(Config{
		Gateway:   gw,
		Store:     store,
		Windows:   quarter.NewCalculator(clock),
		Logger:    zap.NewNop(),
		ProjectID: "proj-1",
		TTL:       15 * time.Minute,
	})

	// Poison the exact key with a value of the wrong shape.
	key := svc.key(familySegmentation, "", "document_opened",
		"totals|20260101|20260215||100")
	store.Set(key, "not a metric slice", time.Hour)

	got, err := svc.Segmentation(context.Background(), SegmentationRequest{
		Event: "document_opened",
		Mode:  domain.ModeTotals,
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Total != 5 {
		t.Errorf("unexpected metrics: %+v", got)
	}
	if len(gw.queries) != 1 {
		t.Errorf("expected a refetch past the mismatched entry, got %d queries", len(gw.queries))
	}
}

func TestQuarterlyRollup_ThreeQuartersNewestFirst(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {
			{Label: "Acme", Values: []float64{40}},
			{Label: "Globex", Values: []float64{12}},
		},
	}}
	svc, _ := newTestService(t, gw)

	got, err := svc.QuarterlyRollup(context.Background(), QuarterlyRequest{
		Event:   "document_opened",
		Mode:    domain.ModeTotals,
		GroupBy: "gp:organization",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != DefaultQuarters {
		t.Fatalf("expected %d quarters, got %d", DefaultQuarters, len(got))
	}
	if got[0].Quarter != "Q1 2026" || got[1].Quarter != "Q4 2025" || got[2].Quarter != "Q3 2025" {
		t.Errorf("unexpected quarter order: %q, %q, %q", got[0].Quarter, got[1].Quarter, got[2].Quarter)
	}
	if got[0].DisplayLabel != "Q1 2026 (to date)" {
		t.Errorf("expected to-date suffix on the current quarter, got %q", got[0].DisplayLabel)
	}
	if got[1].DisplayLabel != "Q4 2025" {
		t.Errorf("expected plain label for a past quarter, got %q", got[1].DisplayLabel)
	}
	if !got[0].End.Equal(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected current quarter clamped to now, got %v", got[0].End)
	}
	if len(got[0].Metrics) != 2 || got[0].Metrics[0].Label != "Acme" {
		t.Errorf("unexpected metrics: %+v", got[0].Metrics)
	}
	if len(gw.queries) != 3 {
		t.Errorf("expected one primary query per quarter, got %d", len(gw.queries))
	}
}

func TestQuarterlyRollup_PaidQueryMergedByLabel(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {
			{Label: "Acme", Values: []float64{40}},
			{Label: "Globex", Values: []float64{12}},
		},
		"export_run": {
			{Label: "Acme", Values: []float64{7}},
		},
	}}
	svc, _ := newTestService(t, gw)

	got, err := svc.QuarterlyRollup(context.Background(), QuarterlyRequest{
		Event:     "document_opened",
		Mode:      domain.ModeUniques,
		GroupBy:   "gp:organization",
		Quarters:  1,
		PaidEvent: "export_run",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	metrics := got[0].Metrics
	if len(metrics) != 2 {
		t.Fatalf("expected 2 rows, got %+v", metrics)
	}
	if metrics[0].Label != "Acme" || metrics[0].Total != 40 || metrics[0].SecondaryTotals[paidSeries] != 7 {
		t.Errorf("unexpected merged row: %+v", metrics[0])
	}
	if v, ok := metrics[1].SecondaryTotals[paidSeries]; !ok || v != 0 {
		t.Errorf("expected explicit zero paid total for Globex, got %+v", metrics[1])
	}
	if got[0].CombinedUniques != 52 {
		t.Errorf("expected combined uniques max(52, 7) = 52, got %v", got[0].CombinedUniques)
	}
}

func TestQuarterlyRollup_PaidFailureIsNonFatal(t *testing.T) {
	gw := &mockGateway{
		responses: map[string][]domain.SeriesRow{
			"document_opened": {{Label: "Acme", Values: []float64{40}}},
		},
		errs: map[string]error{
			"export_run": &domain.APIError{Status: 500, Body: "boom"},
		},
	}
	svc, _ := newTestService(t, gw)

	got, err := svc.QuarterlyRollup(context.Background(), QuarterlyRequest{
		Event:     "document_opened",
		Mode:      domain.ModeTotals,
		Quarters:  1,
		PaidEvent: "export_run",
	})
	if err != nil {
		t.Fatalf("expected paid-query failure to be absorbed, got %v", err)
	}
	if len(got[0].Metrics) != 1 || got[0].Metrics[0].Total != 40 {
		t.Errorf("unexpected metrics: %+v", got[0].Metrics)
	}
	if v, ok := got[0].Metrics[0].SecondaryTotals[paidSeries]; !ok || v != 0 {
		t.Errorf("expected explicit zero paid total after failure, got %+v", got[0].Metrics[0])
	}
}

func TestQuarterlyRollup_PrimaryFailureIsFatal(t *testing.T) {
	gw := &mockGateway{errs: map[string]error{
		"document_opened": &domain.APIError{Status: 500, Body: "boom"},
	}}
	svc, _ := newTestService(t, gw)

	_, err := svc.QuarterlyRollup(context.Background(), QuarterlyRequest{
		Event:    "document_opened",
		Mode:     domain.ModeTotals,
		Quarters: 1,
	})
	if !errors.Is(err, domain.ErrAPI) {
		t.Errorf("expected ErrAPI, got %v", err)
	}
}

func TestQuarterlyRollup_CachedWithinTTL(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		"document_opened": {{Label: "Acme", Values: []float64{40}}},
	}}
	svc, clock := newTestService(t, gw)

	req := QuarterlyRequest{Event: "document_opened", Mode: domain.ModeTotals, Quarters: 2}

	if _, err := svc.QuarterlyRollup(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.queries) != 2 {
		t.Fatalf("expected 2 queries on miss, got %d", len(gw.queries))
	}

	clock.Advance(14 * time.Minute)
	if _, err := svc.QuarterlyRollup(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.queries) != 2 {
		t.Errorf("expected cached rollup within TTL, got %d queries", len(gw.queries))
	}
}

func TestResetCache(t *testing.T) {
	gw := &mockGateway{responses: map[string][]domain.SeriesRow{
		domain.EventAnyActive: {{Label: "", Values: []float64{3}}},
	}}
	svc, _ := newTestService(t, gw)

	req := UniqueUsersRequest{
		Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}
	if _, err := svc.UniqueUsers(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc.ResetCache()

	if _, err := svc.UniqueUsers(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.queries) != 2 {
		t.Errorf("expected refetch after reset, got %d queries", len(gw.queries))
	}
}
