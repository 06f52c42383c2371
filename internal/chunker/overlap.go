package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// anchorWords is the longest run of trailing words used to locate the end
// of an overlap in the next output.
const anchorWords = 4

var wordParams = levenshtein.NewParams().MaxCost(1)

// word is a lowercased run of letters or digits and the byte offset just
// past it in the source string.
type word struct {
	text string
	end  int
}

func words(s string) []word {
	var out []word
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, word{text: strings.ToLower(s[start:i]), end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, word{text: strings.ToLower(s[start:]), end: len(s)})
	}
	return out
}

// sameWord tolerates one edit in words of four runes or more, so a token the
// model corrected in only one copy of the overlap still lines up. Numbers
// must match exactly.
func sameWord(a, b string) bool {
	if a == b {
		return true
	}
	if utf8.RuneCountInString(a) < 4 || utf8.RuneCountInString(b) < 4 {
		return false
	}
	if strings.IndexFunc(a, unicode.IsDigit) >= 0 || strings.IndexFunc(b, unicode.IsDigit) >= 0 {
		return false
	}
	return levenshtein.Distance(a, b, wordParams) <= 1
}

func sameRun(a, b []word) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameWord(a[i].text, b[i].text) {
			return false
		}
	}
	return true
}

// containsRun reports whether needle occurs as a contiguous run in hay.
func containsRun(hay, needle []word) bool {
	for i := 0; i+len(needle) <= len(hay); i++ {
		if sameRun(hay[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

// overlapEnd returns the offset in out just past the text that repeats the
// end of prev. n is the number of words in the source overlap. The last
// words of prev are searched for in the first 2n words of out, preferring
// the match that ends nearest to n. Without a match the first n words are
// taken as the overlap.
func overlapEnd(prev, out string, n int) int {
	if n <= 0 {
		return 0
	}
	pw, ow := words(prev), words(out)
	if len(ow) == 0 {
		return 0
	}
	window := min(len(ow), 2*n+anchorWords)
	for m := min(anchorWords, n, len(pw)); m >= min(2, n) && m > 0; m-- {
		anchor := pw[len(pw)-m:]
		best := -1
		for end := m; end <= window; end++ {
			if !sameRun(anchor, ow[end-m:end]) {
				continue
			}
			if best < 0 || distance(end, n) < distance(best, n) {
				best = end
			}
		}
		if best > 0 {
			return skipSeparator(out, ow[best-1].end)
		}
	}
	if n >= len(ow) {
		return len(out)
	}
	return skipSeparator(out, ow[n-1].end)
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// skipSeparator advances pos past the punctuation and spaces that close a
// repeated passage, up to and including one line break.
func skipSeparator(s string, pos int) int {
	for pos < len(s) {
		r, size := utf8.DecodeRuneInString(s[pos:])
		switch {
		case r == '\n':
			return pos + size
		case unicode.IsSpace(r) || strings.ContainsRune(".,;:!?)]»", r):
			pos += size
		default:
			return pos
		}
	}
	return pos
}

// Join appends b to a, dropping the longest run of words at the start of b
// that repeats the end of a. When either text already contains the other,
// the longer one is returned unchanged.
func Join(a, b string) string {
	aw, bw := words(a), words(b)
	switch {
	case containsRun(aw, bw):
		return a
	case containsRun(bw, aw):
		return b
	}
	pos := 0
	for k := min(len(aw), len(bw)); k > 0; k-- {
		if sameRun(aw[len(aw)-k:], bw[:k]) {
			pos = skipSeparator(b, bw[k-1].end)
			break
		}
	}
	rest := strings.TrimLeftFunc(b[pos:], unicode.IsSpace)
	if rest == "" {
		return a
	}
	return strings.TrimRightFunc(a, unicode.IsSpace) + " " + rest
}
