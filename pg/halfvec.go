package pg

import (
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"
)

// HalfvecType returns the SQL type name for a halfvec of the given dimension.
func HalfvecType(dim int) string {
	return fmt.Sprintf("halfvec(%d)", dim)
}

func toHalfvec(vec []float32) pgvector.HalfVector {
	return pgvector.NewHalfVector(vec)
}

func fromHalfvec(v pgvector.HalfVector) []float32 {
	src := v.Slice()
	out := make([]float32, len(src))
	copy(out, src)
	return out
}
