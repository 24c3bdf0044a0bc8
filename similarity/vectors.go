package similarity

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/doujins-org/summarykit/internal/normalize"
)

// Vectors is a Measure over precomputed embeddings, one per text, in the
// same order as the texts passed to Matrix.
//
// Cosine similarity below zero is clamped to 0 so the redundancy penalty
// never turns into a bonus.
type Vectors [][]float32

func (v Vectors) Matrix(texts []string) (*Matrix, error) {
	if len(v) != len(texts) {
		return nil, fmt.Errorf("%w: %d vectors for %d texts", ErrLengthMismatch, len(v), len(texts))
	}
	n := len(v)
	if n == 0 {
		return NewMatrix(0), nil
	}
	dim := len(v[0])
	if dim == 0 {
		return NewMatrix(n), nil
	}

	x := mat.NewDense(n, dim, nil)
	for i, vec := range v {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dims, want %d", ErrLengthMismatch, i, len(vec), dim)
		}
		unit, _ := normalize.L2Normalized(vec)
		x.SetRow(i, unit)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, x)
	return cosineFromGram(&gram), nil
}
