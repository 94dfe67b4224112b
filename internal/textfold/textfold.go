// Package textfold normalizes Spanish free text for rule matching.
// All functions are pure and deterministic.
package textfold

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns s decomposed with NFKD, stripped of combining marks and
// lowercased, with runs of whitespace collapsed to a single space.
// "Votaremos A FAVOR de la Ley" and "votaremos a favor de la ley" fold
// to the same string; so do "jamás" and "jamas".
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		// The chain only fails on invalid transformer state, never on input.
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// ContainsAll reports whether every term (already folded) occurs in folded.
// An empty term list never matches.
func ContainsAll(folded string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	for _, term := range terms {
		if term == "" || !strings.Contains(folded, term) {
			return false
		}
	}
	return true
}
