// Package names normalizes Arabic student names and matches them against a
// section roster.
package names

import (
	"fmt"
	"strings"
	"unicode"
)

var letterFolds = map[rune]rune{
	'أ': 'ا',
	'إ': 'ا',
	'آ': 'ا',
	'ٱ': 'ا',
	'ة': 'ه',
	'ى': 'ي',
	'ئ': 'ي',
	'ؤ': 'و',
}

const tatweel = '\u0640'

func isDiacritic(r rune) bool {
	return (r >= '\u064B' && r <= '\u065F') || r == '\u0670'
}

func isArabicLetter(r rune) bool {
	return unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r)
}

// Normalize folds hamza/ta-marbuta/alef-maqsura variants, drops harakat and
// tatweel, keeps only letters and single spaces, and lowercases Latin residue.
func Normalize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))

	pendingSpace := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			pendingSpace = sb.Len() > 0
			continue
		}
		if isDiacritic(r) || r == tatweel {
			continue
		}
		if folded, ok := letterFolds[r]; ok {
			r = folded
		}
		if !unicode.IsLetter(r) {
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

const (
	MinNameTokens       = 3
	PreferredNameTokens = 4
	minTokenRunes       = 2
)

// ValidateFullName requires at least three tokens of two or more letters and
// at least one Arabic letter. It reports whether the preferred four-part form
// was given.
func ValidateFullName(name string) (bool, error) {
	normalized := Normalize(name)
	tokens := strings.Fields(normalized)
	if len(tokens) < MinNameTokens {
		return false, fmt.Errorf("name must have at least %d parts, got %d", MinNameTokens, len(tokens))
	}

	hasArabic := false
	for _, tok := range tokens {
		if len([]rune(tok)) < minTokenRunes {
			return false, fmt.Errorf("name part %q is too short", tok)
		}
		for _, r := range tok {
			if isArabicLetter(r) {
				hasArabic = true
				break
			}
		}
	}
	if !hasArabic {
		return false, fmt.Errorf("name must contain Arabic letters")
	}

	return len(tokens) >= PreferredNameTokens, nil
}
