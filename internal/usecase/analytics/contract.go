package analytics

import (
	"context"
	"time"

	"github.com/amberdesk/usagelens/internal/cache"
	"github.com/amberdesk/usagelens/internal/domain"
	"github.com/amberdesk/usagelens/internal/domain/quarter"
)

// Gateway is the outbound analytics API surface the service consumes.
type Gateway interface {
	Segmentation(ctx context.Context, q domain.Query) ([]domain.SeriesRow, error)
}

// Store is the memoization cache surface the service consumes.
type Store interface {
	Get(key cache.Key) (any, bool)
	Set(key cache.Key, value any, ttl time.Duration)
	Clear()
}

// Windows produces calendar-quarter date ranges relative to now.
type Windows interface {
	Range(offset int) quarter.Range
	DisplayLabel(offset int) string
}
