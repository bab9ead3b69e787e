package names

import (
	"sort"

	"github.com/agnivade/levenshtein"

	"github.com/shrimpsizemoose/taslim/internal/models"
)

const DefaultThreshold = 0.80

type Match struct {
	Student    models.Student
	Similarity float64
}

// Similarity is 1 - dist/max(|a|,|b|) over runes of the normalized forms.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// FindMatches returns roster entries with similarity >= threshold, best first.
// Equal scores keep roster order, so the result is deterministic.
func FindMatches(name string, roster []models.Student, threshold float64) []Match {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var matches []Match
	for _, st := range roster {
		stored := st.NormalizedName
		if stored == "" {
			stored = st.FullName
		}
		sim := Similarity(name, stored)
		if sim >= threshold {
			matches = append(matches, Match{Student: st, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// ExactMatch returns the first roster entry whose normalized name equals name's.
func ExactMatch(matches []Match) (*Match, bool) {
	if len(matches) > 0 && matches[0].Similarity == 1.0 {
		return &matches[0], true
	}
	return nil, false
}

func Suggestions(matches []Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Student.FullName)
	}
	return out
}
