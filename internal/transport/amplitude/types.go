package amplitude

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/amberdesk/usagelens/internal/domain"
)

// dateFormat is the YYYYMMDD layout the API expects for start/end.
const dateFormat = "20060102"

// eventDef is the JSON value of the "e" query parameter.
type eventDef struct {
	EventType string          `json:"event_type"`
	Filters   []subpropFilter `json:"filters,omitempty"`
}

type subpropFilter struct {
	SubpropType  string   `json:"subprop_type"`
	SubpropKey   string   `json:"subprop_key"`
	SubpropOp    string   `json:"subprop_op"`
	SubpropValue []string `json:"subprop_value"`
}

// segmentDef is one element of the "s" query parameter array.
type segmentDef struct {
	Prop   string   `json:"prop"`
	Op     string   `json:"op"`
	Values []string `json:"values"`
}

// segmentationResponse is the consumed subset of the API response; the
// engine never assumes more fields than these.
type segmentationResponse struct {
	Data segmentationData `json:"data"`
}

type segmentationData struct {
	Series       [][]float64 `json:"series"`
	SeriesLabels []string    `json:"seriesLabels"`
	XValues      []string    `json:"xValues"`
}

// encodeSegmentation renders a domain query as events/segmentation query
// parameters.
func encodeSegmentation(q domain.Query) (url.Values, error) {
	ev := eventDef{EventType: q.Event}
	for _, f := range q.Filters {
		ev.Filters = append(ev.Filters, subpropFilter{
			SubpropType:  f.Type,
			SubpropKey:   f.Key,
			SubpropOp:    f.Op,
			SubpropValue: f.Values,
		})
	}
	eJSON, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event definition: %w", err)
	}

	v := url.Values{}
	v.Set("e", string(eJSON))
	v.Set("m", string(q.Mode))
	v.Set("start", q.Start.Format(dateFormat))
	v.Set("end", q.End.Format(dateFormat))
	if q.GroupBy != "" {
		v.Set("g", q.GroupBy)
	}
	if len(q.Segments) > 0 {
		segs := make([]segmentDef, len(q.Segments))
		for i, s := range q.Segments {
			segs[i] = segmentDef{Prop: s.Property, Op: s.Op, Values: s.Values}
		}
		sJSON, err := json.Marshal(segs)
		if err != nil {
			return nil, fmt.Errorf("encode segment filters: %w", err)
		}
		v.Set("s", string(sJSON))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v, nil
}
