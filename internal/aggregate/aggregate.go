// Package aggregate turns raw per-label time series into the per-label
// totals the dashboard renders. Every function is pure: no I/O, no clock,
// no shared state.
package aggregate

import (
	"sort"

	"github.com/amberdesk/usagelens/internal/domain"
)

// noiseLabels are group-by buckets that carry no organization or property
// value worth surfacing.
var noiseLabels = map[string]struct{}{
	"":        {},
	"(none)":  {},
	"unknown": {},
}

// MetricSet is one named collection of per-label totals, typically the
// result of a single segmentation query.
type MetricSet struct {
	Name    string
	Metrics []domain.AggregatedMetric
}

// SumSeries collapses each series row into a single per-label total.
func SumSeries(rows []domain.SeriesRow) []domain.AggregatedMetric {
	out := make([]domain.AggregatedMetric, len(rows))
	for i, row := range rows {
		var total float64
		for _, v := range row.Values {
			total += v
		}
		out[i] = domain.AggregatedMetric{Label: row.Label, Total: total}
	}
	return out
}

// MergeByLabel unions the named sets into one row per label. Each input
// set's total lands in SecondaryTotals under the set's name; a label absent
// from a set gets an explicit zero for that set's name. Total stays zero
// until PromoteTotal lifts one of the names. Labels appearing in any set
// appear in the output, and the result does not depend on set order.
func MergeByLabel(sets ...MetricSet) []domain.AggregatedMetric {
	byLabel := make(map[string]map[string]float64)
	for _, set := range sets {
		for _, m := range set.Metrics {
			totals, ok := byLabel[m.Label]
			if !ok {
				totals = make(map[string]float64)
				byLabel[m.Label] = totals
			}
			totals[set.Name] += m.Total
		}
	}
	for _, totals := range byLabel {
		for _, set := range sets {
			if _, ok := totals[set.Name]; !ok {
				totals[set.Name] = 0
			}
		}
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make([]domain.AggregatedMetric, 0, len(labels))
	for _, label := range labels {
		out = append(out, domain.AggregatedMetric{
			Label:           label,
			SecondaryTotals: byLabel[label],
		})
	}
	return out
}

// PromoteTotal lifts the named secondary series into each row's Total,
// removing it from SecondaryTotals. Rows without that name keep a zero
// Total.
func PromoteTotal(rows []domain.AggregatedMetric, name string) []domain.AggregatedMetric {
	out := make([]domain.AggregatedMetric, len(rows))
	for i, row := range rows {
		promoted := domain.AggregatedMetric{Label: row.Label, Total: row.Total}
		if len(row.SecondaryTotals) > 0 {
			promoted.SecondaryTotals = make(map[string]float64, len(row.SecondaryTotals))
			for k, v := range row.SecondaryTotals {
				if k == name {
					promoted.Total = v
					continue
				}
				promoted.SecondaryTotals[k] = v
			}
			if len(promoted.SecondaryTotals) == 0 {
				promoted.SecondaryTotals = nil
			}
		}
		out[i] = promoted
	}
	return out
}

// FilterAndSort drops noise labels and rows whose primary total is zero,
// then orders by descending total with the label as tiebreak so equal
// totals render stably.
func FilterAndSort(rows []domain.AggregatedMetric) []domain.AggregatedMetric {
	out := make([]domain.AggregatedMetric, 0, len(rows))
	for _, row := range rows {
		if _, noise := noiseLabels[row.Label]; noise {
			continue
		}
		if row.Total == 0 {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// CombineMaxAcrossQueries approximates the de-duplicated unique-user count
// across several independently measured events as the maximum of the
// per-event counts. The upstream API cannot compute a true cross-event set
// union, so this is an intentional, documented approximation rather than an
// exact count.
func CombineMaxAcrossQueries(counts ...float64) float64 {
	var max float64
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return max
}
