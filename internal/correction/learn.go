package correction

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// resyncWindow is how far the aligner looks ahead to recover from inserted
// or dropped tokens.
const resyncWindow = 3

// Miner derives candidate corrections by aligning raw OCR text with an
// AI-corrected rendition of the same text.
type Miner struct {
	MaxDistance int
	MinLength   int
}

// Mine returns automatic, inactive correction entries for token pairs that
// differ within the edit-distance bound. Occurrences counts how often each
// pair was seen in this text.
func (m Miner) Mine(raw, corrected string) []model.CorrectionEntry {
	a := tokens(Normalize(raw))
	b := tokens(Normalize(corrected))
	params := levenshtein.NewParams().MaxCost(m.MaxDistance)

	type pair struct{ from, to string }
	seen := make(map[pair]*model.CorrectionEntry)

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if m.candidate(a[i], b[j], params) {
			p := pair{strings.ToLower(a[i]), b[j]}
			if e, ok := seen[p]; ok {
				e.Occurrences++
			} else {
				seen[p] = &model.CorrectionEntry{
					Token:       a[i],
					Display:     a[i],
					Replacement: b[j],
					Occurrences: 1,
					Origin:      model.CorrectionAutomatic,
				}
			}
			i++
			j++
			continue
		}
		di, dj := resync(a, b, i, j)
		i += di
		j += dj
	}

	out := make([]model.CorrectionEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, model.NormalizeCorrection(*e))
	}
	sort.Slice(out, func(x, y int) bool { return out[x].Token < out[y].Token })
	return out
}

func (m Miner) candidate(from, to string, params *levenshtein.Params) bool {
	if utf8.RuneCountInString(from) <= m.MinLength || !hasLetter(from) || isAllUpper(from) {
		return false
	}
	if strings.EqualFold(from, to) {
		return false
	}
	return levenshtein.Distance(strings.ToLower(from), strings.ToLower(to), params) <= m.MaxDistance
}

// resync finds the smallest skip on either side that realigns the streams.
func resync(a, b []string, i, j int) (int, int) {
	for k := 1; k <= resyncWindow; k++ {
		if i+k < len(a) && a[i+k] == b[j] {
			return k, 0
		}
		if j+k < len(b) && a[i] == b[j+k] {
			return 0, k
		}
	}
	return 1, 1
}

func tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return !isTokenRune(r) })
}
