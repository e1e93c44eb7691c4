// Package quarter computes calendar-quarter reporting windows relative to
// the current instant.
package quarter

import (
	"fmt"
	"time"

	"github.com/coder/quartz"
)

// Range is one calendar-quarter window. Start is the first day of the
// quarter's first month; End is the last day of its third month, except for
// the current quarter where End is clamped to now.
type Range struct {
	Label string
	Start time.Time
	End   time.Time
}

// Calculator derives quarter windows from an injected clock so callers and
// tests share one notion of "now".
type Calculator struct {
	clock quartz.Clock
}

// NewCalculator creates a Calculator. A nil clock falls back to real time.
func NewCalculator(clock quartz.Clock) *Calculator {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Calculator{clock: clock}
}

// Range returns the quarter window at the given offset from the current
// quarter: 0 is the current quarter, -1 the previous, +1 the next. Any
// offset magnitude is valid; year boundaries are traversed as needed.
func (c *Calculator) Range(offset int) Range {
	now := c.clock.Now().UTC()
	year := now.Year()
	idx := (int(now.Month()) - 1) / 3

	idx += offset
	for idx < 0 {
		idx += 4
		year--
	}
	for idx > 3 {
		idx -= 4
		year++
	}

	startMonth := time.Month(idx*3 + 1)
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	// First day of the following quarter minus one day; time.Date
	// normalizes month overflow past December.
	end := time.Date(year, startMonth+3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	if offset == 0 && end.After(now) {
		end = now
	}

	return Range{
		Label: fmt.Sprintf("Q%d %d", idx+1, year),
		Start: start,
		End:   end,
	}
}

// DisplayLabel is the quarter label with " (to date)" appended for the
// current quarter only.
func (c *Calculator) DisplayLabel(offset int) string {
	r := c.Range(offset)
	if offset == 0 {
		return r.Label + " (to date)"
	}
	return r.Label
}
