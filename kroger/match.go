package kroger

import "strings"

// Similarity scores two strings in [0, 1] as twice the longest common
// subsequence over the combined length. Used to match purchase descriptions
// against ingredient names.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

// NameInDescription reports whether an ingredient name plausibly appears in
// a purchase description: the whole name as a substring, or any word of the
// name longer than three characters.
func NameInDescription(name, description string) bool {
	name = strings.ToLower(name)
	description = strings.ToLower(description)
	if name == "" || description == "" {
		return false
	}
	if strings.Contains(description, name) {
		return true
	}
	for _, word := range strings.Fields(name) {
		if len(word) > 3 && strings.Contains(description, word) {
			return true
		}
	}
	return false
}
