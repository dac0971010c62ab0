// Package textmatch provides case-insensitive substring and word matching
// over Unicode text. Folding uses full Unicode case folding, so German
// umlauts and sharp s compare correctly in both needles and haystacks.
package textmatch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Fold returns the case-folded form of s. Whitespace and punctuation are kept
// as-is; a non-breaking space stays distinct from an ASCII space.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

// Set is an immutable list of folded needles.
type Set struct {
	needles []string
}

// NewSet folds and stores the non-empty needles in order.
func NewSet(needles ...string) Set {
	out := make([]string, 0, len(needles))
	for _, n := range needles {
		if n = Fold(n); strings.TrimSpace(n) != "" {
			out = append(out, n)
		}
	}
	return Set{needles: out}
}

func (s Set) Empty() bool { return len(s.needles) == 0 }

func (s Set) Len() int { return len(s.needles) }

// Needles returns the folded needles.
func (s Set) Needles() []string { return s.needles }

// Match reports whether text contains any needle.
func (s Set) Match(text string) bool {
	return s.MatchFolded(Fold(text))
}

// MatchFolded is Match for text that is already folded.
func (s Set) MatchFolded(folded string) bool {
	_, ok := s.firstIn(folded)
	return ok
}

// FirstMatch returns the first needle, in set order, found in text.
func (s Set) FirstMatch(text string) (string, bool) {
	return s.firstIn(Fold(text))
}

func (s Set) firstIn(folded string) (string, bool) {
	if folded == "" {
		return "", false
	}
	for _, n := range s.needles {
		if strings.Contains(folded, n) {
			return n, true
		}
	}
	return "", false
}

// CountMatching returns how many texts contain at least one needle.
func (s Set) CountMatching(texts []string) int {
	count := 0
	for _, t := range texts {
		if s.Match(t) {
			count++
		}
	}
	return count
}

// MatchNumeric is Match with digit boundaries: a needle that starts or ends
// with a digit only matches where the neighbouring character is not a digit,
// so "über 3" does not fire on "über 30".
func (s Set) MatchNumeric(text string) bool {
	folded := Fold(text)
	for _, n := range s.needles {
		if containsNumeric(folded, n) {
			return true
		}
	}
	return false
}

func containsNumeric(haystack, needle string) bool {
	first, _ := utf8.DecodeRuneInString(needle)
	last, _ := utf8.DecodeLastRuneInString(needle)
	for offset := 0; offset <= len(haystack)-len(needle); {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(needle)
		ok := true
		if unicode.IsDigit(first) && start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(haystack[:start])
			ok = !unicode.IsDigit(prev)
		}
		if ok && unicode.IsDigit(last) && end < len(haystack) {
			next, _ := utf8.DecodeRuneInString(haystack[end:])
			ok = !unicode.IsDigit(next)
		}
		if ok {
			return true
		}
		offset = start + 1
	}
	return false
}

// MatchWord reports whether any needle appears as a whole word in text.
func (s Set) MatchWord(text string) bool {
	words := Words(text)
	for _, w := range words {
		for _, n := range s.needles {
			if w == n {
				return true
			}
		}
	}
	return false
}

// HasPrefixWord reports whether text starts with any needle followed by a
// word boundary.
func (s Set) HasPrefixWord(text string) bool {
	folded := strings.TrimLeftFunc(Fold(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	for _, n := range s.needles {
		if !strings.HasPrefix(folded, n) {
			continue
		}
		rest := folded[len(n):]
		if rest == "" {
			return true
		}
		r := []rune(rest)[0]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Words splits folded text into letter/digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Sentences splits text on sentence terminators and line breaks.
func Sentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', '\n', ';', ':':
			return true
		}
		return false
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
