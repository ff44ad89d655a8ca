package anomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Summarize computes whole-series statistics using the population standard
// deviation (sum of squared deviations divided by n)
func Summarize(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}

	stats := Stats{Count: n, Min: values[0], Max: values[0]}
	for _, v := range values {
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}

	// A constant series has no spread; rounding in the mean must not leak a
	// tiny non-zero deviation
	if stats.Min == stats.Max {
		stats.Mean = stats.Min
		return stats
	}

	stats.Mean, stats.StdDev = stat.PopMeanStdDev(values, nil)

	return stats
}

// ZScores returns (v - mean) / stdDev for every value, or all zeros when the
// standard deviation is zero
func ZScores(values []float64, stats Stats) ZScoreTable {
	table := make(ZScoreTable, len(values))
	if stats.StdDev == 0 {
		return table
	}
	for i, v := range values {
		table[i] = (v - stats.Mean) / stats.StdDev
	}
	return table
}

// Flagged reports whether z lies strictly beyond the threshold
func Flagged(z, threshold float64) bool {
	return math.Abs(z) > threshold
}

// Flags marks every position of the table whose z-score is flagged
func Flags(z ZScoreTable, threshold float64) []bool {
	flags := make([]bool, len(z))
	for i, v := range z {
		flags[i] = Flagged(v, threshold)
	}
	return flags
}
