package selection

import (
	"errors"
	"fmt"
	"math"

	"github.com/doujins-org/summarykit/similarity"
)

// Order controls how MMR reports its picks.
type Order int

const (
	// OrderSelected keeps the order in which sentences were chosen
	// (most relevant first).
	OrderSelected Order = iota
	// OrderDocument sorts the chosen sentences back into document order.
	OrderDocument
)

func (o Order) String() string {
	switch o {
	case OrderSelected:
		return "selected"
	case OrderDocument:
		return "document"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder accepts "selected" or "document". Empty means OrderSelected.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "selected":
		return OrderSelected, nil
	case "document":
		return OrderDocument, nil
	}
	return OrderSelected, fmt.Errorf("%w: unknown order %q", ErrInvalidArgument, s)
}

type MMROptions struct {
	// MaxFraction of the source document's characters the summary may use.
	MaxFraction float64

	// Lambda in [0..1]. Higher means "more relevance, less diversity".
	Lambda float64

	// MinWords is the minimum CountWords a sentence needs to be eligible.
	MinWords int

	// Similarity builds the pairwise matrix. nil means BagOfWords{}.
	Similarity similarity.Measure

	Order Order
}

// DefaultMMROptions returns a 15% budget, lambda 0.7, and a 5-word minimum.
func DefaultMMROptions() MMROptions {
	return MMROptions{
		MaxFraction: 0.15,
		Lambda:      0.7,
		MinWords:    5,
		Order:       OrderSelected,
	}
}

// MMR applies Maximal Marginal Relevance to pick summary sentences.
//
// docChars is the character count of the full source document; the budget
// is int(docChars * MaxFraction). Each round picks the eligible sentence
// maximizing
//
//	Lambda*relevance(i) - (1-Lambda)*max(sim(i, s) for s in selected)
//
// where relevance is the min-max rescaled score. A sentence is eligible when
// it was not picked yet, has at least MinWords words, carries no
// SectionHeaderMarker, and fits in the remaining budget. Ties go to the
// lower index. Selection stops when nothing is eligible.
func MMR(texts []string, scores []float64, docChars int, opts MMROptions) (Selection, error) {
	if err := validateScores(texts, scores); err != nil {
		return nil, err
	}
	lambda := opts.Lambda
	if math.IsNaN(lambda) || lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("%w: lambda %v outside [0,1]", ErrInvalidArgument, lambda)
	}
	if opts.MinWords < 0 {
		return nil, fmt.Errorf("%w: min words %d is negative", ErrInvalidArgument, opts.MinWords)
	}

	maxChars := FractionBudget(docChars, opts.MaxFraction)
	if maxChars <= 0 || len(texts) == 0 {
		return Selection{}, nil
	}

	n := len(texts)
	chars := make([]int, n)
	eligible := make([]bool, n)
	anyEligible := false
	for i, t := range texts {
		chars[i] = Chars(t)
		eligible[i] = chars[i] <= maxChars && CountWords(t) >= opts.MinWords && !HasStructuralMarker(t)
		anyEligible = anyEligible || eligible[i]
	}
	if !anyEligible {
		return Selection{}, nil
	}

	measure := opts.Similarity
	if measure == nil {
		measure = similarity.BagOfWords{}
	}
	sims, err := measure.Matrix(texts)
	if errors.Is(err, similarity.ErrLengthMismatch) {
		return nil, fmt.Errorf("%w: build similarity matrix: %w", ErrInvalidArgument, err)
	}
	if err != nil {
		return nil, fmt.Errorf("build similarity matrix: %w", err)
	}
	if sims.N() != n {
		return nil, fmt.Errorf("%w: similarity matrix is %dx%d for %d texts", ErrInvalidArgument, sims.N(), sims.N(), n)
	}

	relevance := MinMaxScale(scores)

	// redundancy[i] tracks max sim(i, s) over the selected set so far.
	redundancy := make([]float64, n)
	used := make([]bool, n)
	selected := make(Selection, 0)
	cur := 0

	for cur <= maxChars {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i := 0; i < n; i++ {
			if used[i] || !eligible[i] {
				continue
			}
			if !fits(cur, chars[i], maxChars) {
				continue
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy[i]
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}

		used[bestIdx] = true
		cur += chars[bestIdx]
		selected = append(selected, Unit{Index: bestIdx, Text: texts[bestIdx]})

		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			if s := sims.At(i, bestIdx); s > redundancy[i] {
				redundancy[i] = s
			}
		}
	}

	if opts.Order == OrderDocument {
		return selected.InDocumentOrder(), nil
	}
	return selected, nil
}
