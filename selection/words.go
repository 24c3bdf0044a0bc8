package selection

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z]+`)

// CountWords counts alphabetic words of at least two ASCII letters.
// Numbers, single letters, and punctuation do not count.
func CountWords(text string) int {
	return len(wordPattern.FindAllStringIndex(text, -1))
}

// HasStructuralMarker reports whether text carries SectionHeaderMarker.
func HasStructuralMarker(text string) bool {
	return strings.Contains(text, SectionHeaderMarker)
}
