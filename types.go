package usagelens

import (
	"github.com/amberdesk/usagelens/internal/domain"
	"github.com/amberdesk/usagelens/internal/usecase/analytics"
)

// Mode selects how the API aggregates an event.
type Mode = domain.Mode

// Supported metric modes.
const (
	ModeUniques = domain.ModeUniques
	ModeTotals  = domain.ModeTotals
	ModeAvg     = domain.ModeAvg
	ModePropSum = domain.ModePropSum
)

// Pseudo-events for user counts independent of a concrete event.
const (
	EventAnyActive = domain.EventAnyActive
	EventNewUsers  = domain.EventNewUsers
)

// Metric is one per-label aggregated result row.
type Metric = domain.AggregatedMetric

// Request types accepted by the Engine.
type (
	SegmentationRequest = analytics.SegmentationRequest
	UniqueUsersRequest  = analytics.UniqueUsersRequest
	AcrossEventsRequest = analytics.AcrossEventsRequest
	QuarterlyRequest    = analytics.QuarterlyRequest
)

// QuarterUsage is one quarter's slice of a rollup.
type QuarterUsage = analytics.QuarterUsage
