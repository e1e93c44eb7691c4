package quarter

import (
	"testing"
	"time"

	"github.com/coder/quartz"
)

func newCalculatorAt(t *testing.T, now time.Time) *Calculator {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)
	return NewCalculator(clock)
}

func TestRange_CurrentQuarterClampedToNow(t *testing.T) {
	now := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	c := newCalculatorAt(t, now)

	r := c.Range(0)

	wantStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Errorf("expected start %v, got %v", wantStart, r.Start)
	}
	if !r.End.Equal(now) {
		t.Errorf("expected end clamped to %v, got %v", now, r.End)
	}
	if r.Label != "Q1 2026" {
		t.Errorf("expected label Q1 2026, got %q", r.Label)
	}
}

func TestRange_PreviousQuarterFullWindow(t *testing.T) {
	c := newCalculatorAt(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	r := c.Range(-1)

	wantStart := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Errorf("expected start %v, got %v", wantStart, r.Start)
	}
	if !r.End.Equal(wantEnd) {
		t.Errorf("expected end %v, got %v", wantEnd, r.End)
	}
	if r.Label != "Q4 2025" {
		t.Errorf("expected label Q4 2025, got %q", r.Label)
	}
}

func TestRange_CrossesTwoYearBoundaries(t *testing.T) {
	c := newCalculatorAt(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	r := c.Range(-5)

	wantStart := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Errorf("expected start %v, got %v", wantStart, r.Start)
	}
	if !r.End.Equal(wantEnd) {
		t.Errorf("expected end %v, got %v", wantEnd, r.End)
	}
	if r.Label != "Q4 2024" {
		t.Errorf("expected label Q4 2024, got %q", r.Label)
	}
}

func TestRange_LargeOffsetsBothDirections(t *testing.T) {
	c := newCalculatorAt(t, time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		offset    int
		wantLabel string
		wantStart time.Time
	}{
		{-9, "Q2 2024", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{-4, "Q3 2025", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{3, "Q2 2027", time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC)},
		{10, "Q1 2029", time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		r := c.Range(tc.offset)
		if r.Label != tc.wantLabel {
			t.Errorf("offset %d: expected label %q, got %q", tc.offset, tc.wantLabel, r.Label)
		}
		if !r.Start.Equal(tc.wantStart) {
			t.Errorf("offset %d: expected start %v, got %v", tc.offset, tc.wantStart, r.Start)
		}
	}
}

func TestRange_NonCurrentQuartersNeverOverlap(t *testing.T) {
	c := newCalculatorAt(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	// Adjacent offsets: each range must end before the next one starts.
	for offset := -8; offset < 0; offset++ {
		cur := c.Range(offset)
		next := c.Range(offset + 1)
		if !cur.End.Before(next.Start) {
			t.Errorf("offset %d: range %v..%v overlaps next start %v",
				offset, cur.Start, cur.End, next.Start)
		}
	}
}

func TestRange_LastDayOfQuarterNotClamped(t *testing.T) {
	// Now is past the quarter end in clock terms only when the end date is
	// after now; on the final day the clamp keeps the timestamp.
	now := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	c := newCalculatorAt(t, now)

	r := c.Range(0)
	if !r.End.Equal(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected end 2026-03-31, got %v", r.End)
	}
}

func TestRange_Q4EndDoesNotSpillIntoNextYear(t *testing.T) {
	c := newCalculatorAt(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	r := c.Range(-1) // Q4 2025
	if r.End.Year() != 2025 || r.End.Month() != time.December || r.End.Day() != 31 {
		t.Errorf("expected Q4 to end on 2025-12-31, got %v", r.End)
	}
}

func TestDisplayLabel_ToDateSuffixOnlyForCurrent(t *testing.T) {
	c := newCalculatorAt(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	if got := c.DisplayLabel(0); got != "Q1 2026 (to date)" {
		t.Errorf("expected current quarter label with suffix, got %q", got)
	}
	if got := c.DisplayLabel(-1); got != "Q4 2025" {
		t.Errorf("expected previous quarter label without suffix, got %q", got)
	}
}

func TestRange_Deterministic(t *testing.T) {
	c := newCalculatorAt(t, time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC))

	a := c.Range(-2)
	b := c.Range(-2)
	if a != b {
		t.Errorf("expected identical ranges for repeated calls, got %v vs %v", a, b)
	}
}
