// Package similarity computes pairwise similarity matrices over candidate
// sentences.
//
// The selection loop only needs `sim(i, j)` in [0..1]; how it is produced is
// up to the Measure. The default is a binary bag-of-words cosine, but a
// precomputed embedding set (see Vectors) or any pairwise Func can be swapped in.
package similarity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrLengthMismatch is returned when a Measure is asked for a matrix over a
// different number of texts than it was built for.
var ErrLengthMismatch = errors.New("similarity: length mismatch")

// Measure builds the full pairwise similarity matrix for one candidate set.
type Measure interface {
	Matrix(texts []string) (*Matrix, error)
}

// Matrix is a symmetric n×n similarity matrix with values in [0..1].
type Matrix struct {
	n   int
	sym *mat.SymDense
}

// NewMatrix returns an all-zero n×n matrix.
func NewMatrix(n int) *Matrix {
	if n <= 0 {
		return &Matrix{}
	}
	return &Matrix{n: n, sym: mat.NewSymDense(n, nil)}
}

// N returns the matrix dimension.
func (m *Matrix) N() int {
	if m == nil {
		return 0
	}
	return m.n
}

// At returns sim(i, j).
func (m *Matrix) At(i, j int) float64 {
	return m.sym.At(i, j)
}

// Set stores v at (i, j) and (j, i), clamped into [0..1].
func (m *Matrix) Set(i, j int, v float64) {
	m.sym.SetSym(i, j, clamp01(v))
}

// Func adapts a plain pairwise function to a Measure. The diagonal is fixed
// at 1 and fn is called once per unordered pair.
type Func func(a, b string) float64

func (fn Func) Matrix(texts []string) (*Matrix, error) {
	if fn == nil {
		return nil, fmt.Errorf("similarity func is nil")
	}
	m := NewMatrix(len(texts))
	for i := range texts {
		m.Set(i, i, 1)
		for j := i + 1; j < len(texts); j++ {
			m.Set(i, j, fn(texts[i], texts[j]))
		}
	}
	return m, nil
}

// cosineFromGram turns a Gram matrix (rows·rowsᵀ) into cosine similarities.
// Rows with zero norm are dissimilar to everything, including themselves.
func cosineFromGram(g *mat.SymDense) *Matrix {
	n := g.SymmetricDim()
	out := NewMatrix(n)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		norms[i] = sqrt(g.At(i, i))
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if norms[i] == 0 || norms[j] == 0 {
				continue
			}
			out.Set(i, j, g.At(i, j)/(norms[i]*norms[j]))
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
