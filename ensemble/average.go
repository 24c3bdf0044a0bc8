// Package ensemble combines per-sentence scores from several scorers.
package ensemble

import (
	"fmt"
	"math"

	"github.com/doujins-org/summarykit/selection"
)

// Average returns the elementwise mean of the score sets.
// Returns nil if sets is empty. All sets must have the same length and only
// finite values.
func Average(sets ...[]float64) ([]float64, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	n := len(sets[0])
	sum := make([]float64, n)
	for si, set := range sets {
		if len(set) != n {
			return nil, fmt.Errorf("%w: score set %d has %d scores, want %d", selection.ErrInvalidArgument, si, len(set), n)
		}
		for i, v := range set {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: score set %d entry %d is not finite", selection.ErrInvalidArgument, si, i)
			}
			sum[i] += v
		}
	}
	inv := 1.0 / float64(len(sets))
	for i := range sum {
		sum[i] *= inv
	}
	return sum, nil
}

// Weighted returns Σ w_k·set_k / Σ w_k. Weights must be positive and match
// the number of sets.
func Weighted(weights []float64, sets ...[]float64) ([]float64, error) {
	if len(weights) != len(sets) {
		return nil, fmt.Errorf("%w: %d weights for %d score sets", selection.ErrInvalidArgument, len(weights), len(sets))
	}
	if len(sets) == 0 {
		return nil, nil
	}
	var total float64
	scaled := make([][]float64, len(sets))
	for k, w := range weights {
		if !(w > 0) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight %d must be positive and finite", selection.ErrInvalidArgument, k)
		}
		total += w
		scaled[k] = make([]float64, len(sets[k]))
		for i, v := range sets[k] {
			scaled[k][i] = v * w
		}
	}
	sum, err := Average(scaled...)
	if err != nil {
		return nil, err
	}
	f := float64(len(sets)) / total
	for i := range sum {
		sum[i] *= f
	}
	return sum, nil
}
