package domain

import "strings"

// Mode is the metric aggregation mode understood by the analytics API.
type Mode string

// Metric mode constants.
const (
	// ModeUniques counts distinct users.
	ModeUniques Mode = "uniques"
	// ModeTotals counts raw event occurrences.
	ModeTotals Mode = "totals"
	ModeAvg    Mode = "avg"
	// ModePropSum sums a numeric event property.
	ModePropSum Mode = "propSum"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == ModeUniques || m == ModeTotals || m == ModeAvg || m == ModePropSum
}

// Pseudo-events understood by the analytics API for user counts.
const (
	// EventAnyActive matches any active user regardless of event.
	EventAnyActive = "_active"
	// EventNewUsers matches users seen for the first time in the window.
	EventNewUsers = "_new"
)

// Property reference prefixes for group-by and filter targets.
const (
	GroupPropertyPrefix = "gp:"
	UserPropertyPrefix  = "up:"
	EventPropertyPrefix = "ep:"
)

// ValidPropertyRef reports whether s names a group, user, or event property
// with the required prefix.
func ValidPropertyRef(s string) bool {
	return strings.HasPrefix(s, GroupPropertyPrefix) ||
		strings.HasPrefix(s, UserPropertyPrefix) ||
		strings.HasPrefix(s, EventPropertyPrefix)
}

// SeriesRow is one labeled series of an analytics API response, aligned to
// the response's shared x-axis.
type SeriesRow struct {
	Label  string
	Values []float64
}

// AggregatedMetric is a per-label reduction of one or more series rows.
// SecondaryTotals holds totals contributed by additional named queries
// merged into the same row. Never mutated after creation.
type AggregatedMetric struct {
	Label           string
	Total           float64
	SecondaryTotals map[string]float64
}
