package selection

// MinMaxScale rescales scores linearly into [0..1].
//
// When every score is equal the range is degenerate and every unit maps to
// 0, so relevance stops discriminating and redundancy alone decides.
func MinMaxScale(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / span
	}
	return out
}
