package domain

import "time"

// Query is one segmentation request against the analytics API, expressed in
// engine terms. The transport layer owns the wire encoding.
type Query struct {
	Event   string
	Mode    Mode
	Start   time.Time
	End     time.Time
	GroupBy string // gp:/up:/ep:-prefixed property, optional
	// Segments narrow the user population (the "s" parameter), e.g. to a
	// single organization.
	Segments []Segment
	// Filters narrow the event itself (sub-property filters inside "e").
	Filters []EventFilter
	Limit   int
}

// Segment is one user-population filter.
type Segment struct {
	Property string
	Op       string
	Values   []string
}

// EventFilter is one sub-property filter applied to the queried event.
type EventFilter struct {
	Type   string // "event", "user", or "group"
	Key    string
	Op     string
	Values []string
}

// OrgSegment builds the segment filter restricting a query to one
// organization, identified by the configured organization property.
func OrgSegment(property, org string) Segment {
	return Segment{Property: property, Op: "is", Values: []string{org}}
}
