package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/sawpanic/anomscan/internal/anomaly"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// computeOutput is the JSON document printed by compute
type computeOutput struct {
	Source string `json:"source"`
	*anomaly.Result
	Labels   []string `json:"labels,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func writeResult(w io.Writer, format, source string, points anomaly.Series, result *anomaly.Result) error {
	if format == formatTable {
		return writeTable(w, source, points, result)
	}

	out := computeOutput{Source: source, Result: result}
	for _, p := range points {
		if p.Label != "" {
			out.Labels = labels(points)
			break
		}
	}
	for _, warning := range result.Warnings {
		out.Warnings = append(out.Warnings, warning.Error())
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeTable(w io.Writer, source string, points anomaly.Series, result *anomaly.Result) error {
	fmt.Fprintf(w, "Source: %s  Points: %d  Threshold: |z| > %g\n", source, result.Length, result.Threshold)
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %v\n", warning)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Key\tMean\tStdDev\tFlagged\tSegments")
	fmt.Fprintln(tw, "---\t----\t------\t-------\t--------")
	for _, key := range result.Keys {
		m := result.Metrics[key]
		fmt.Fprintf(tw, "%s\t%.4g\t%.4g\t%d\t%d\n", key, m.Stats.Mean, m.Stats.StdDev, m.FlaggedCount(), len(m.Segments))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !result.HasAnomalies() {
		fmt.Fprintln(w, "\nNo anomalous segments.")
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Key\tStart\tEnd\tFrom\tTo\tPeak |z|")
	fmt.Fprintln(tw, "---\t-----\t---\t----\t--\t--------")
	for _, key := range result.Keys {
		m := result.Metrics[key]
		for _, seg := range m.Segments {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%.3f\n",
				key, seg.Start, seg.End,
				labelAt(points, seg.Start), labelAt(points, seg.End),
				peak(m.ZScores, seg))
		}
	}
	return tw.Flush()
}

func labels(points anomaly.Series) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Label
	}
	return out
}

func labelAt(points anomaly.Series, i int) string {
	if i < 0 || i >= len(points) || points[i].Label == "" {
		return fmt.Sprintf("#%d", i)
	}
	return points[i].Label
}

// peak returns the largest |z| inside seg
func peak(z anomaly.ZScoreTable, seg anomaly.Segment) float64 {
	best := 0.0
	for _, v := range z[seg.Start : seg.End+1] {
		best = math.Max(best, math.Abs(v))
	}
	return best
}
