package selection

import "sort"

// Greedy fills budget with the highest-scoring sentences and returns them in
// document order.
//
// Each accepted sentence costs its length plus SeparatorChars. A sentence
// that would overflow the budget is skipped, and the scan continues so that
// shorter, lower-scored sentences can still fill the remainder. Ties in
// score go to the earlier sentence.
func Greedy(texts []string, scores []float64, budget int) (Selection, error) {
	if err := validateScores(texts, scores); err != nil {
		return nil, err
	}
	if budget <= 0 || len(texts) == 0 {
		return Selection{}, nil
	}

	order := make([]int, len(texts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	picked := make([]int, 0, len(texts))
	total := 0
	for _, i := range order {
		size := Chars(texts[i]) + SeparatorChars
		if !fits(total, size, budget) {
			continue
		}
		picked = append(picked, i)
		total += size
	}

	sort.Ints(picked)
	out := make(Selection, len(picked))
	for k, i := range picked {
		out[k] = Unit{Index: i, Text: texts[i]}
	}
	return out, nil
}
