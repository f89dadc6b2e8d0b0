// Package textutil holds the tokenization shared by evidence re-ranking
// and stance alignment.
package textutil

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase tokens: runs of letters/digits for
// Latin text, individual runes for CJK. CJK has no word boundaries, so
// per-rune tokens give a usable overlap signal without a segmenter.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// Overlap computes the fraction of a's unique tokens that also occur in b,
// in [0,1]. Asymmetric on purpose: the claim is a, the evidence is b, and
// we ask how much of the claim the evidence covers.
func Overlap(a, b string) float64 {
	aTokens := Tokenize(a)
	if len(aTokens) == 0 {
		return 0
	}
	bSet := make(map[string]bool)
	for _, tok := range Tokenize(b) {
		bSet[tok] = true
	}
	unique := make(map[string]bool)
	matched := 0
	for _, tok := range aTokens {
		if unique[tok] {
			continue
		}
		unique[tok] = true
		if bSet[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(unique))
}

// NormalizeKey lowercases and keeps only letters, digits, and CJK runes.
// Used as a deduplication key.
func NormalizeKey(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Han, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
