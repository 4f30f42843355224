// ABOUTME: Text normalization shared by the area matcher and triage
// ABOUTME: Lowercases and strips combining marks so "Declaración" matches "declaracion"

package areas

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s and removes diacritics.
func Normalize(s string) string {
	lower := strings.ToLower(s)
	// transform.Chain keeps internal state, so build one per call
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, lower)
	if err != nil {
		return lower
	}
	return folded
}

// Tokens splits normalized text into words of at least minLen runes.
func Tokens(s string, minLen int) []string {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minLen {
			out = append(out, f)
		}
	}
	return out
}

// HasWord reports whether any token starts with word, so "impuesto" matches
// "impuestos" but "iva" does not match "derivar".
func HasWord(tokens []string, word string) bool {
	for _, tok := range tokens {
		if strings.HasPrefix(tok, word) {
			return true
		}
	}
	return false
}
