// Package textnorm folds strings for accent- and case-insensitive matching of
// Spanish subject names.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Fold lowercases s and strips combining marks, so "Matemática" and
// "matematica" compare equal. Invalid input falls back to a plain lowercase.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return lower.String(strings.TrimSpace(out))
}

// Words splits the folded string into letter and digit runs.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HasWord reports whether word appears as a whole word in haystack.
func HasWord(haystack, word string) bool {
	w := Fold(word)
	if w == "" {
		return false
	}
	for _, candidate := range Words(haystack) {
		if candidate == w {
			return true
		}
	}
	return false
}

// ContainsAny reports whether the folded haystack contains any folded needle.
func ContainsAny(haystack string, needles ...string) bool {
	h := Fold(haystack)
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(h, Fold(n)) {
			return true
		}
	}
	return false
}
