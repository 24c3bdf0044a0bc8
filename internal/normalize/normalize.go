package normalize

import "math"

// L2NormalizeInPlace normalizes vec to unit L2 norm.
// If vec is empty or all zeros, it is left unchanged.
func L2NormalizeInPlace(vec []float32) {
	if len(vec) == 0 {
		return
	}
	var sumSq float64
	for _, v := range vec {
		f := float64(v)
		sumSq += f * f
	}
	if sumSq <= 0 {
		return
	}
	invNorm := float32(1.0 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= invNorm
	}
}

// L2Normalized returns a float64 unit-length copy of vec and reports whether
// vec had a non-zero norm. Zero vectors come back as all zeros.
func L2Normalized(vec []float32) ([]float64, bool) {
	out := make([]float64, len(vec))
	var sumSq float64
	for i, v := range vec {
		f := float64(v)
		out[i] = f
		sumSq += f * f
	}
	if sumSq <= 0 {
		return out, false
	}
	inv := 1.0 / math.Sqrt(sumSq)
	for i := range out {
		out[i] *= inv
	}
	return out, true
}
