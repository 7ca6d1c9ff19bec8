package store

import (
	"regexp"
	"strings"
)

var (
	punctRe = regexp.MustCompile(`[^\w\s]`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeName lowercases a name, strips punctuation, and collapses
// whitespace so "Chicken Breast!" and "chicken  breast" dedupe to the same
// ingredient.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = punctRe.ReplaceAllString(n, "")
	n = spaceRe.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}
