package ingest

import "unicode/utf8"

// Garbage tags substituted for tokens that look like OCR or encoding noise.
const (
	JunkZero       = "JUNK_ZERO"
	JunkAlphanum   = "JUNK_ALPHANUM"
	Number         = "NUMBER"
	JunkRepetition = "JUNK_REPETITION"
)

var garbageTags = map[string]struct{}{
	JunkZero:       {},
	JunkAlphanum:   {},
	Number:         {},
	JunkRepetition: {},
}

// IsGarbage reports whether label is one of the garbage tags.
func IsGarbage(label string) bool {
	_, ok := garbageTags[label]
	return ok
}

// Classify maps a token to itself or to a garbage tag.
//
// Rules are applied in order and the first match wins:
//
//	JUNK_ZERO        starts with '0'
//	JUNK_ALPHANUM    longer than 6 and mixes digits with non-digits
//	NUMBER           longer than 3 and starts with '3'..'9'
//	JUNK_REPETITION  a character repeated 4 or more times in a row
//
// The alphanumeric rule runs before the number rule so that long mixed
// tokens are not filed as numbers. Ordinals such as "4th" and decades such
// as "1990s" survive unchanged.
func Classify(token string) string {
	if token == "" {
		return token
	}
	first, _ := utf8.DecodeRuneInString(token)
	if first == '0' {
		return JunkZero
	}

	n := utf8.RuneCountInString(token)
	if n > 6 && mixesDigits(token) {
		return JunkAlphanum
	}
	if n > 3 && first >= '3' && first <= '9' {
		return Number
	}
	if hasRun(token, 4) {
		return JunkRepetition
	}
	return token
}

// mixesDigits reports whether a digit is adjacent to a non-digit anywhere in s.
func mixesDigits(s string) bool {
	var prev rune
	started := false
	for _, r := range s {
		if started && isDigit(prev) != isDigit(r) {
			return true
		}
		prev = r
		started = true
	}
	return false
}

// hasRun reports whether some character occurs at least n times consecutively.
func hasRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if run > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
