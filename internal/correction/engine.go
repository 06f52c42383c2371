package correction

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Result is the output of one correction pass.
type Result struct {
	Text    string
	Applied []model.AppliedCorrection
}

// Counts tallies applied corrections by entry key, suitable for persisting
// occurrence counts.
func (r Result) Counts() map[string]int {
	if len(r.Applied) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, a := range r.Applied {
		counts[a.Key]++
	}
	return counts
}

// Engine applies heuristics and dictionary corrections to OCR text.
type Engine struct {
	dict      *Dictionary
	minLength int
}

// NewEngine creates an engine over dict. Tokens with minLength runes or
// fewer are never corrected.
func NewEngine(dict *Dictionary, cfg config.CorrectionConfig) *Engine {
	return &Engine{dict: dict, minLength: cfg.MinTokenLength}
}

// Dictionary returns the engine's dictionary.
func (e *Engine) Dictionary() *Dictionary {
	return e.dict
}

// Suggest returns the corrected form of a single token, carrying the first
// character's case of the original onto the replacement.
func (e *Engine) Suggest(token string) (string, bool) {
	m, ok := e.suggest(strings.TrimSpace(token))
	if !ok {
		return "", false
	}
	return m.Replacement, true
}

func (e *Engine) suggest(token string) (Match, bool) {
	if utf8.RuneCountInString(token) <= e.minLength || !hasLetter(token) || isAllUpper(token) {
		return Match{}, false
	}
	m, ok := e.dict.Nearest(strings.ToLower(token))
	if !ok {
		return Match{}, false
	}
	m.Replacement = carryCase(token, m.Replacement)
	if m.Replacement == token {
		return Match{}, false
	}
	return m, true
}

// Correct normalizes text with the heuristics, then substitutes dictionary
// matches token by token. Each applied correction increments its entry's
// occurrence count in the dictionary.
func (e *Engine) Correct(text string) Result {
	text = Normalize(text)

	var (
		b       strings.Builder
		applied []model.AppliedCorrection
	)
	b.Grow(len(text))

	start := -1
	flush := func(end int) {
		tok := text[start:end]
		if m, ok := e.suggest(tok); ok {
			applied = append(applied, model.AppliedCorrection{
				Original:    tok,
				Replacement: m.Replacement,
				Key:         m.Key,
				Offset:      start,
			})
			e.dict.Increment(m.Key, 1)
			b.WriteString(m.Replacement)
		} else {
			b.WriteString(tok)
		}
		start = -1
	}

	for i, r := range text {
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			flush(i)
		}
		b.WriteRune(r)
	}
	if start >= 0 {
		flush(len(text))
	}

	if len(applied) > 0 {
		zap.L().Debug("correction: applied dictionary corrections", zap.Int("count", len(applied)))
	}
	return Result{Text: b.String(), Applied: applied}
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// isAllUpper reports whether every letter in s is upper case.
func isAllUpper(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// carryCase applies the case of original's first rune to replacement's
// first rune.
func carryCase(original, replacement string) string {
	or, _ := utf8.DecodeRuneInString(original)
	rr, size := utf8.DecodeRuneInString(replacement)
	if rr == utf8.RuneError {
		return replacement
	}
	var first rune
	if unicode.IsUpper(or) {
		first = unicode.ToUpper(rr)
	} else {
		first = unicode.ToLower(rr)
	}
	return string(first) + replacement[size:]
}
