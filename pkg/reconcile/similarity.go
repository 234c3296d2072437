package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Match grades how closely two free-text fields agree.
type Match int

const (
	MatchNone Match = iota
	MatchPartial
	MatchExact
)

// Similarity compares two independently entered strings. Any metric with
// this shape can replace the defaults through ScorerOption.
type Similarity func(a, b string) Match

// NormalizeName case-folds s and drops everything that is not a letter or a
// digit, so "ACME Corp." and "acme corp" compare equal.
func NormalizeName(s string) string {
	folded := cases.Fold().String(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeCode case-folds a formula code. Punctuation is significant in
// mix codes ("B25-XL"), so only surrounding space is removed.
func NormalizeCode(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// NameSimilarity is exact on equal normalized names and partial when one
// contains the other. An empty side never matches.
func NameSimilarity(a, b string) Match {
	return containment(NormalizeName(a), NormalizeName(b))
}

func CodeSimilarity(a, b string) Match {
	return containment(NormalizeCode(a), NormalizeCode(b))
}

func containment(a, b string) Match {
	if a == "" || b == "" {
		return MatchNone
	}
	if a == b {
		return MatchExact
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return MatchPartial
	}
	return MatchNone
}
