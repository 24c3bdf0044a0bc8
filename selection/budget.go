package selection

import "math"

// SeparatorChars is the inter-sentence space counted by the greedy selector
// for every accepted sentence.
const SeparatorChars = 1

// FractionBudget derives a character budget from the full source document
// length. Fractions are truncated toward zero; non-positive inputs give 0.
func FractionBudget(docChars int, fraction float64) int {
	if docChars <= 0 || fraction <= 0 || math.IsNaN(fraction) {
		return 0
	}
	v := float64(docChars) * fraction
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// DocumentChars returns the length of the sentences joined by single spaces,
// the fallback source length when the caller does not know it.
func DocumentChars(texts []string) int {
	if len(texts) == 0 {
		return 0
	}
	total := 0
	for _, t := range texts {
		total += Chars(t)
	}
	return total + (len(texts)-1)*SeparatorChars
}

// fits reports whether adding size to used stays within budget.
func fits(used, size, budget int) bool {
	return used+size <= budget
}
