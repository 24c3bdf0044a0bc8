package textnormalize

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// Fold prepares sentence text for bag-of-words vocabulary building:
// - Unicode NFKC
// - transliteration to ASCII (best-effort)
// - lowercase
//
// Punctuation is left in place; tokenizers decide what a word is.
func Fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = unidecode.Unidecode(s)
	return strings.ToLower(s)
}

// Lower applies NFKC and lowercasing without transliteration.
func Lower(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToLower(norm.NFKC.String(s))
}
