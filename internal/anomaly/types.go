package anomaly

// MetricKey names one numeric field tracked for anomaly detection
type MetricKey string

// DataPoint is a single position of a Series
type DataPoint struct {
	Label  string                `json:"label"`
	Values map[MetricKey]float64 `json:"values"`
	// Attrs holds non-numeric fields kept from the input so that a request
	// for one of them can be reported as non-numeric instead of missing
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Series is an ordered sequence of data points; order encodes adjacency
type Series []DataPoint

// ZScoreTable holds one z-score per Series position
type ZScoreTable []float64

// Segment is an inclusive [Start, End] run of flagged positions
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of positions covered by the segment
func (s Segment) Len() int {
	return s.End - s.Start + 1
}

// Edge is an adjacent pair of positions with at least one flagged end
type Edge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Stats summarizes one metric over the whole series
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"` // population standard deviation
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// MetricResult is the per-key output of a computation
type MetricResult struct {
	Key      MetricKey   `json:"key"`
	Stats    Stats       `json:"stats"`
	ZScores  ZScoreTable `json:"z_scores"`
	Flags    []bool      `json:"flags"`
	Segments []Segment   `json:"segments"`
	Edges    []Edge      `json:"edges,omitempty"`
}

// FlaggedCount returns the number of flagged positions
func (m *MetricResult) FlaggedCount() int {
	count := 0
	for _, f := range m.Flags {
		if f {
			count++
		}
	}
	return count
}

// Result maps every tracked key to its tables and segments
type Result struct {
	Keys      []MetricKey                 `json:"keys"`
	Threshold float64                     `json:"threshold"`
	Length    int                         `json:"length"`
	Metrics   map[MetricKey]*MetricResult `json:"metrics"`
	Warnings  []error                     `json:"-"`
}

// Metric returns the result for key, or nil if the key was not tracked
func (r *Result) Metric(key MetricKey) *MetricResult {
	if r == nil {
		return nil
	}
	return r.Metrics[key]
}

// Empty reports whether the computation ran over an empty series
func (r *Result) Empty() bool {
	return r == nil || r.Length == 0
}

// HasAnomalies reports whether any key has at least one segment
func (r *Result) HasAnomalies() bool {
	if r == nil {
		return false
	}
	for _, m := range r.Metrics {
		if len(m.Segments) > 0 {
			return true
		}
	}
	return false
}
