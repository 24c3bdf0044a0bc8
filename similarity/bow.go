package similarity

import (
	"math"
	"regexp"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/doujins-org/summarykit/internal/textnormalize"
)

// tokenPattern matches words of two or more letter/number/underscore runes.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// BagOfWords is a binary bag-of-words cosine Measure.
//
// The vocabulary is derived only from the texts passed to Matrix; nothing is
// learned across calls.
type BagOfWords struct {
	// Fold transliterates to ASCII before tokenizing, so "café" and "cafe"
	// share a vocabulary entry.
	Fold bool
}

// Tokens returns the lowercased tokens of text in order of appearance.
func (b BagOfWords) Tokens(text string) []string {
	if b.Fold {
		text = textnormalize.Fold(text)
	} else {
		text = textnormalize.Lower(text)
	}
	return tokenPattern.FindAllString(text, -1)
}

func (b BagOfWords) Matrix(texts []string) (*Matrix, error) {
	n := len(texts)
	if n == 0 {
		return NewMatrix(0), nil
	}

	docs := make([]map[string]struct{}, n)
	vocab := map[string]int{}
	for i, t := range texts {
		set := map[string]struct{}{}
		for _, tok := range b.Tokens(t) {
			set[tok] = struct{}{}
			vocab[tok] = 0
		}
		docs[i] = set
	}
	if len(vocab) == 0 {
		return NewMatrix(n), nil
	}

	// Stable column order keeps the Gram computation reproducible.
	terms := make([]string, 0, len(vocab))
	for term := range vocab {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for col, term := range terms {
		vocab[term] = col
	}

	x := mat.NewDense(n, len(terms), nil)
	for i, set := range docs {
		for tok := range set {
			x.Set(i, vocab[tok], 1)
		}
	}

	var gram mat.SymDense
	gram.SymOuterK(1, x)
	return cosineFromGram(&gram), nil
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
