// Package textnorm normalizes Arabic and Latin chat text for matching.
package textnorm

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var letterMap = map[rune]rune{
	'ٱ': 'ا',
	'ى': 'ي',
	'ة': 'ه',
	'گ': 'ك',
	'ک': 'ك',
	'ی': 'ي',
}

// Normalize case-folds s, strips diacritics and tatweel, unifies Arabic
// letter variants, maps Arabic-Indic digits to ASCII and collapses
// punctuation into single spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == 'ـ':
			continue
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case letterMap[r] != 0:
			b.WriteRune(letterMap[r])
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Words splits normalized text into words without dropping anything.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

// Tokens returns the content words of s: normalized, stemmed and with
// stop-words removed.
func Tokens(s string) []string {
	words := Words(s)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		w = Stem(w)
		if w == "" || stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

var articlePrefixes = []string{"وال", "بال", "فال", "كال", "لل", "ال"}

// Stem strips a leading Arabic definite article when enough of the word
// remains. Latin words are returned unchanged.
func Stem(w string) string {
	if !HasArabic(w) {
		return w
	}
	for _, p := range articlePrefixes {
		if strings.HasPrefix(w, p) {
			rest := strings.TrimPrefix(w, p)
			if len([]rune(rest)) >= 3 {
				return rest
			}
		}
	}
	return w
}

// IsStopWord reports whether a normalized word carries no content.
func IsStopWord(w string) bool {
	return stopWords[w]
}

// HasArabic reports whether s contains Arabic script.
func HasArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}

// NumericChoice parses a message that is only a small number, such as a
// menu selection. Arabic-Indic digits are accepted.
func NumericChoice(s string) (int, bool) {
	n := Normalize(s)
	if n == "" || len(n) > 3 {
		return 0, false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ContainsPhrase reports whether the normalized phrase occurs in the
// normalized text on word boundaries.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
