package anomaly

// ExtractSegments groups consecutive flagged positions of z into maximal
// inclusive runs, in ascending order of Start. The result is never nil.
func ExtractSegments(z ZScoreTable, threshold float64) []Segment {
	segments := make([]Segment, 0)
	start := -1

	for i, v := range z {
		if Flagged(v, threshold) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			segments = append(segments, Segment{Start: start, End: i - 1})
			start = -1
		}
	}

	// Run still open at the end of the series
	if start >= 0 {
		segments = append(segments, Segment{Start: start, End: len(z) - 1})
	}

	return segments
}

// ExtractEdges returns every adjacent pair (i, i+1) where either end is
// flagged. Unlike segments, an isolated outlier lights up both of its
// connecting edges.
func ExtractEdges(z ZScoreTable, threshold float64) []Edge {
	edges := make([]Edge, 0)
	for i := 0; i+1 < len(z); i++ {
		if Flagged(z[i], threshold) || Flagged(z[i+1], threshold) {
			edges = append(edges, Edge{From: i, To: i + 1})
		}
	}
	return edges
}

// Slice returns the portion of the series covered by seg, for consumers that
// draw highlighted regions. It returns nil when seg is out of range.
func (s Series) Slice(seg Segment) Series {
	if seg.Start < 0 || seg.End >= len(s) || seg.Start > seg.End {
		return nil
	}
	return s[seg.Start : seg.End+1]
}
