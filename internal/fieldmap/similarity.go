package fieldmap

import (
	"regexp"
	"strings"
)

var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeKey lower-cases a field name, collapses every run of
// non-alphanumeric characters to a single "_" and trims leading and
// trailing underscores. It is idempotent.
func NormalizeKey(name string) string {
	key := nonAlnumRE.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(key, "_")
}

// compactKey drops the separators from a normalized key so that type hints
// match across spellings like "e_mail" and "zip_code".
func compactKey(norm string) string {
	return strings.ReplaceAll(norm, "_", "")
}

// Similarity scores two field names in [0, 1] as one minus the Levenshtein
// distance over the longer length, computed on the normalized names. When
// the shorter name is a prefix or whole "_"-delimited tokens of the longer
// one and covers at least a third of it, the score is at least 0.8 plus a
// share of the length ratio, so "full_name" still lands close to "name"
// while "employer_name" does not.
func Similarity(a, b string) float64 {
	return similarityNormalized(NormalizeKey(a), NormalizeKey(b))
}

func similarityNormalized(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	maxLen := len(ar)
	if len(br) > maxLen {
		maxLen = len(br)
	}
	if maxLen == 0 {
		return 1
	}

	score := 1 - float64(levenshtein(ar, br))/float64(maxLen)

	short, long := ar, br
	if len(short) > len(long) {
		short, long = long, short
	}
	if containsKey(string(long), string(short)) && 3*len(short) >= len(long) {
		if c := 0.8 + 0.2*float64(len(short))/float64(len(long)); c > score {
			score = c
		}
	}
	return score
}

// containsKey reports whether short is a prefix of long or a run of whole
// tokens in it.
func containsKey(long, short string) bool {
	if short == "" {
		return false
	}
	return strings.HasPrefix(long, short) || strings.Contains("_"+long+"_", "_"+short+"_")
}

// Levenshtein returns the edit distance between a and b with unit-cost
// insertions, deletions and substitutions.
func Levenshtein(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minInt(del, minInt(ins, sub))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
