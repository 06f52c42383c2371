package correction

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var ligatures = strings.NewReplacer(
	"ﬀ", "ff",
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬅ", "st",
	"ﬆ", "st",
)

var (
	// a lowercase word broken across lines with a hyphen
	hyphenBreak = regexp.MustCompile(`(\p{Ll})-[ \t]*\r?\n[ \t]*(\p{Ll})`)
	inlineSpace = regexp.MustCompile(`[ \t\x{00A0}]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	mixedDigits = regexp.MustCompile(`\b[0-9OolI]*[0-9][0-9OolI]*\b`)
)

var digitLookalikes = strings.NewReplacer("O", "0", "o", "0", "l", "1", "I", "1")

// Normalize applies the text-level heuristics: NFC composition, ligature
// expansion, de-hyphenation of line-broken words, whitespace collapsing and
// digit look-alike repair inside numbers.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = ligatures.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = FixDigits(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(inlineSpace.ReplaceAllString(line, " "), unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")
	return blankLines.ReplaceAllString(text, "\n\n")
}

// FixDigits replaces letters that OCR confuses with digits (O, o, l, I)
// inside tokens that otherwise consist of digits: "2O24" becomes "2024" and
// "l5" becomes "15".
func FixDigits(text string) string {
	return mixedDigits.ReplaceAllStringFunc(text, digitLookalikes.Replace)
}
