// Package selection picks summary sentences from scored candidates under a
// character budget.
//
// Two strategies share the same budget-filling contract:
//   - Greedy: highest score first, output in document order.
//   - MMR: relevance traded against redundancy with already-picked sentences.
//
// Both are pure functions of their inputs: no I/O, no shared state.
package selection

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// SectionHeaderMarker flags structural (non-prose) sentences that must never
// appear in a summary.
const SectionHeaderMarker = "<SECTION-HEADER>"

// ErrInvalidArgument marks caller contract violations (mismatched lengths,
// non-finite scores, out-of-range parameters).
var ErrInvalidArgument = errors.New("invalid argument")

// Unit is one candidate sentence and its 0-based position in the document.
type Unit struct {
	Index int
	Text  string
}

// Selection is an ordered list of picked units.
type Selection []Unit

// Indices returns the document positions of the selected units, in
// selection order.
func (s Selection) Indices() []int {
	out := make([]int, len(s))
	for i, u := range s {
		out[i] = u.Index
	}
	return out
}

// Texts returns the selected sentences, in selection order.
func (s Selection) Texts() []string {
	out := make([]string, len(s))
	for i, u := range s {
		out[i] = u.Text
	}
	return out
}

// Join concatenates the selected sentences with a single space.
func (s Selection) Join() string {
	return strings.Join(s.Texts(), " ")
}

// InDocumentOrder returns a copy sorted by Index ascending.
func (s Selection) InDocumentOrder() Selection {
	out := make(Selection, len(s))
	copy(out, s)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Chars returns the length of text in characters (Unicode code points).
func Chars(text string) int {
	return utf8.RuneCountInString(text)
}

func validateScores(texts []string, scores []float64) error {
	if len(texts) != len(scores) {
		return fmt.Errorf("%w: %d texts but %d scores", ErrInvalidArgument, len(texts), len(scores))
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: score %d is not finite (%v)", ErrInvalidArgument, i, s)
		}
	}
	return nil
}
