// Package parser segments corrected legal text into numbered articles and
// document metadata, and scores how trustworthy the segmentation is.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Anomaly labels recorded on extraction results.
const (
	AnomalyTruncatedLast = "truncated_last_article"
	AnomalyNumberingGap  = "numbering_gap"
	AnomalyDuplicate     = "duplicate_article"
	AnomalyShortArticle  = "short_article"
	AnomalyNoClosing     = "missing_closing_formula"
)

// Confidence weights.
const (
	weightDensity   = 0.5
	weightMetadata  = 0.25
	weightAnomalies = 0.25
	anomalyPenalty  = 0.15
)

// Parser is the deterministic pattern-based extractor.
type Parser struct {
	re              *compiled
	expectedChars   int
	minArticleChars int
}

// New creates a parser from config, loading the pattern file when one is
// set. Invalid patterns are configuration errors.
func New(cfg config.ParserConfig) (*Parser, error) {
	patterns := DefaultPatterns()
	if cfg.PatternsFile != "" {
		var err error
		if patterns, err = LoadPatterns(cfg.PatternsFile); err != nil {
			return nil, err
		}
	}
	return NewWithPatterns(patterns, cfg)
}

// NewWithPatterns creates a parser from an explicit pattern set.
func NewWithPatterns(p Patterns, cfg config.ParserConfig) (*Parser, error) {
	re, err := p.compile()
	if err != nil {
		return nil, err
	}
	expected := cfg.ExpectedCharsPerArticle
	if expected <= 0 {
		expected = 600
	}
	return &Parser{re: re, expectedChars: expected, minArticleChars: cfg.MinArticleChars}, nil
}

// Parse extracts articles and metadata from text. Text without article
// markers yields zero articles and zero confidence, not an error.
func (p *Parser) Parse(text string) model.ExtractionResult {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	res := model.ExtractionResult{
		Method:      model.MethodPattern,
		Articles:    []model.Article{},
		ExtractedAt: time.Now().UTC(),
	}

	bodyEnd := len(text)
	closingAt := -1
	markers := p.re.article.FindAllStringSubmatchIndex(text, -1)
	searchFrom := 0
	if len(markers) > 0 {
		searchFrom = markers[0][0]
	}
	if loc := p.re.closing.FindStringIndex(text[searchFrom:]); loc != nil {
		closingAt = searchFrom + loc[0]
		bodyEnd = closingAt
	}

	numbers := make([]string, 0, len(markers))
	for i, m := range markers {
		if m[0] >= bodyEnd {
			break
		}
		end := bodyEnd
		if i+1 < len(markers) && markers[i+1][0] < bodyEnd {
			end = markers[i+1][0]
		}
		number := text[m[2]:m[3]]
		numbers = append(numbers, number)
		res.Articles = append(res.Articles, model.Article{
			Index:  len(res.Articles) + 1,
			Number: number,
			Text:   strings.TrimSpace(text[m[1]:end]),
		})
	}

	header := text
	if len(markers) > 0 {
		header = text[:markers[0][0]]
	}
	tail := ""
	if closingAt >= 0 {
		tail = text[closingAt:]
	}

	res.Metadata = model.Metadata{
		Title:         firstMatch(p.re.title, header, text),
		PromulgatedOn: firstMatch(p.re.date, tail, text),
		City:          firstMatch(p.re.city, tail),
		Signatories:   allMatches(p.re.signatory, tail),
	}

	if len(res.Articles) > 0 {
		res.Anomalies = p.anomalies(res.Articles, numbers, closingAt >= 0)
		bodyStart := markers[0][0]
		res.Confidence = p.confidence(len(res.Articles), bodyEnd-bodyStart, res.Metadata, len(res.Anomalies))
	}
	return res
}

func (p *Parser) anomalies(articles []model.Article, numbers []string, closed bool) []string {
	var out []string

	prev := 0
	seen := make(map[int]bool, len(numbers))
	for _, raw := range numbers {
		n, ok := articleNumber(raw)
		if !ok {
			continue
		}
		if seen[n] {
			out = append(out, fmt.Sprintf("%s:%d", AnomalyDuplicate, n))
		} else if n != prev+1 {
			out = append(out, fmt.Sprintf("%s:%d->%d", AnomalyNumberingGap, prev, n))
		}
		seen[n] = true
		prev = n
	}

	for _, a := range articles[:len(articles)-1] {
		if utf8.RuneCountInString(a.Text) < p.minArticleChars {
			out = append(out, fmt.Sprintf("%s:%d", AnomalyShortArticle, a.Index))
		}
	}

	last := articles[len(articles)-1].Text
	if utf8.RuneCountInString(last) < p.minArticleChars || !p.re.terminals.MatchString(last) {
		out = append(out, AnomalyTruncatedLast)
	}
	if !closed {
		out = append(out, AnomalyNoClosing)
	}
	return out
}

// densityTolerance is the factor by which the article count may deviate
// from the expected count before density starts to cost confidence.
const densityTolerance = 4.0

// confidence blends article density against the expected article length,
// metadata coverage, and a penalty per anomaly.
func (p *Parser) confidence(articles, bodyChars int, md model.Metadata, anomalies int) float64 {
	expected := math.Max(1, float64(bodyChars)/float64(p.expectedChars))
	ratio := float64(articles) / expected
	density := 1.0
	switch {
	case ratio < 1/densityTolerance:
		density = ratio * densityTolerance
	case ratio > densityTolerance:
		density = densityTolerance / ratio
	}

	coverage := float64(md.FieldsPopulated()) / 4
	clean := math.Max(0, 1-anomalyPenalty*float64(anomalies))

	c := weightDensity*density + weightMetadata*coverage + weightAnomalies*clean
	return math.Round(model.ClampConfidence(c)*1000) / 1000
}

// articleNumber converts a printed marker to its ordinal.
func articleNumber(raw string) (int, bool) {
	switch strings.ToLower(raw) {
	case "1er", "premier":
		return 1, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// firstMatch returns the first capture of the first pattern that matches,
// trying each input in order.
func firstMatch(patterns []*regexp.Regexp, inputs ...string) string {
	for _, in := range inputs {
		if in == "" {
			continue
		}
		for _, re := range patterns {
			if m := re.FindStringSubmatch(in); m != nil {
				return strings.TrimSpace(m[1])
			}
		}
	}
	return ""
}

func allMatches(patterns []*regexp.Regexp, input string) []string {
	if input == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(input, -1) {
			v := strings.TrimSpace(m[1])
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
