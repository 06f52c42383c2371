// Package correction normalizes OCR noise in legal text using a dictionary
// of verified replacements and a handful of linguistic heuristics.
package correction

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Dictionary maps garbled tokens to verified replacements. Every entry's
// token and replacement are both lookup forms: a token that equals an
// entry's replacement is already correct.
//
// A Dictionary is safe for concurrent use.
type Dictionary struct {
	maxDistance int

	mu      sync.RWMutex
	entries map[string]*model.CorrectionEntry // by token
	forms   map[string]string                 // lowercase form -> entry token
	byLen   map[int][]string                  // rune length -> forms
}

// NewDictionary builds a dictionary from entries. Entries that do not apply
// (automatic and not yet promoted) are ignored. maxDistance bounds fuzzy
// matching; zero disables it.
func NewDictionary(entries []model.CorrectionEntry, maxDistance int) *Dictionary {
	d := &Dictionary{
		maxDistance: maxDistance,
		entries:     make(map[string]*model.CorrectionEntry),
		forms:       make(map[string]string),
		byLen:       make(map[int][]string),
	}
	for _, e := range entries {
		d.Add(e)
	}
	return d
}

// Add inserts or replaces an entry. Non-applying entries are ignored.
func (d *Dictionary) Add(e model.CorrectionEntry) {
	e = model.NormalizeCorrection(e)
	if e.Token == "" || e.Replacement == "" || !e.Applies() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry := e
	d.entries[e.Token] = &entry
	d.addForm(e.Token, e.Token)
	d.addForm(strings.ToLower(e.Replacement), e.Token)
}

func (d *Dictionary) addForm(form, token string) {
	if prev, ok := d.forms[form]; ok {
		// A token entry wins over a replacement form of another entry.
		if prev == form || token != form {
			return
		}
		d.forms[form] = token
		return
	}
	d.forms[form] = token
	n := utf8.RuneCountInString(form)
	d.byLen[n] = append(d.byLen[n], form)
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Lookup returns the entry for token (case-insensitive exact match).
func (d *Dictionary) Lookup(token string) (model.CorrectionEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return model.CorrectionEntry{}, false
	}
	return *e, true
}

// Match is a dictionary hit for a token.
type Match struct {
	Key         string // token of the entry that produced the match
	Replacement string // replacement in the entry's casing
	Distance    int
}

// Nearest finds the replacement for the lowercase token, if any. A token
// that already equals a verified replacement yields no match.
func (d *Dictionary) Nearest(lower string) (Match, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if key, ok := d.forms[lower]; ok {
		e := d.entries[key]
		if strings.ToLower(e.Replacement) == lower {
			return Match{}, false
		}
		return Match{Key: key, Replacement: e.Replacement}, true
	}
	if d.maxDistance <= 0 {
		return Match{}, false
	}

	params := levenshtein.NewParams().MaxCost(d.maxDistance)
	folded := Fold(lower)
	n := utf8.RuneCountInString(lower)

	var (
		best      Match
		bestFold  bool
		bestCount int
		found     bool
	)
	for l := n - d.maxDistance; l <= n+d.maxDistance; l++ {
		for _, form := range d.byLen[l] {
			dist := levenshtein.Distance(lower, form, params)
			if dist > d.maxDistance {
				continue
			}
			e := d.entries[d.forms[form]]
			sameFold := Fold(form) == folded
			better := !found ||
				dist < best.Distance ||
				(dist == best.Distance && sameFold && !bestFold) ||
				(dist == best.Distance && sameFold == bestFold && e.Occurrences > bestCount) ||
				(dist == best.Distance && sameFold == bestFold && e.Occurrences == bestCount && e.Token < best.Key)
			if better {
				best = Match{Key: e.Token, Replacement: e.Replacement, Distance: dist}
				bestFold = sameFold
				bestCount = e.Occurrences
				found = true
			}
		}
	}
	if !found || strings.ToLower(best.Replacement) == lower {
		return Match{}, false
	}
	return best, true
}

// Increment adds delta to the in-memory occurrence count of the entry,
// clamping at zero.
func (d *Dictionary) Increment(key string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok {
		e.Occurrences += delta
		if e.Occurrences < 0 {
			e.Occurrences = 0
		}
	}
}

// Entries returns a snapshot of all entries sorted by token.
func (d *Dictionary) Entries() []model.CorrectionEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.CorrectionEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Fold lowercases s and strips combining marks, so "Ministère" and
// "ministere" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(out)
}
