package parser

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Patterns is the configurable marker set. Every expression must have one
// capture group holding the extracted value, except Closing which only
// marks where the article body ends.
type Patterns struct {
	Article   string   `yaml:"article"`
	Closing   string   `yaml:"closing"`
	Title     []string `yaml:"title"`
	Date      []string `yaml:"date"`
	City      []string `yaml:"city"`
	Signatory []string `yaml:"signatory"`
	Terminals string   `yaml:"terminals"`
}

const months = `janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[uû]t|septembre|octobre|novembre|d[ée]cembre`

// DefaultPatterns returns markers for French-language legal texts.
func DefaultPatterns() Patterns {
	return Patterns{
		Article: `(?im)^[ \t]*Art(?:icle|\.)[ \t]+(1er|premier|\d+)[ \t]*(?:[:.\-–][ \t]*|$)`,
		Closing: `(?im)^[ \t]*Fait[ \t]+(?:à|a)[ \t]+`,
		Title: []string{
			`(?m)^[ \t]*((?:LOI|D[EÉ]CRET|ARR[EÊ]T[EÉ]|ORDONNANCE)[ \t]+N[°o]?[ \t]*\S.*)$`,
		},
		Date: []string{
			`(?i)Fait[ \t]+(?:à|a)[ \t]+[^,\n]+,?[ \t]+le[ \t]+(\d{1,2}(?:er)?[ \t]+(?:` + months + `)[ \t]+\d{4})`,
			`(?i)\bdu[ \t]+(\d{1,2}(?:er)?[ \t]+(?:` + months + `)[ \t]+\d{4})`,
		},
		City: []string{
			`(?i:fait[ \t]+(?:à|a))[ \t]+(\p{Lu}[\p{L}'\-]*(?:[ \t]\p{Lu}[\p{L}'\-]*)*)`,
		},
		Signatory: []string{
			`(?m)^[ \t]*(\p{Lu}[\p{Ll}'\-]+(?:[ \t]+\p{Lu}[\p{Ll}'\-]+)*[ \t]+\p{Lu}{2,}(?:[ \t\-]\p{Lu}{2,})*)[ \t]*$`,
		},
		Terminals: `[.;:!?»)]$`,
	}
}

// LoadPatterns reads a YAML pattern file. Keys left empty keep their
// default expressions.
func LoadPatterns(path string) (Patterns, error) {
	p := DefaultPatterns()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, model.ConfigError(model.CodeInternal, eris.Wrapf(err, "parser: read patterns %s", path))
	}
	var override Patterns
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, model.ConfigError(model.CodeInternal, eris.Wrapf(err, "parser: parse patterns %s", path))
	}
	if override.Article != "" {
		p.Article = override.Article
	}
	if override.Closing != "" {
		p.Closing = override.Closing
	}
	if len(override.Title) > 0 {
		p.Title = override.Title
	}
	if len(override.Date) > 0 {
		p.Date = override.Date
	}
	if len(override.City) > 0 {
		p.City = override.City
	}
	if len(override.Signatory) > 0 {
		p.Signatory = override.Signatory
	}
	if override.Terminals != "" {
		p.Terminals = override.Terminals
	}
	return p, nil
}

type compiled struct {
	article   *regexp.Regexp
	closing   *regexp.Regexp
	title     []*regexp.Regexp
	date      []*regexp.Regexp
	city      []*regexp.Regexp
	signatory []*regexp.Regexp
	terminals *regexp.Regexp
}

func (p Patterns) compile() (*compiled, error) {
	var c compiled
	var err error
	if c.article, err = compileOne("article", p.Article, 1); err != nil {
		return nil, err
	}
	if c.closing, err = compileOne("closing", p.Closing, 0); err != nil {
		return nil, err
	}
	if c.terminals, err = compileOne("terminals", p.Terminals, 0); err != nil {
		return nil, err
	}
	if c.title, err = compileAll("title", p.Title); err != nil {
		return nil, err
	}
	if c.date, err = compileAll("date", p.Date); err != nil {
		return nil, err
	}
	if c.city, err = compileAll("city", p.City); err != nil {
		return nil, err
	}
	if c.signatory, err = compileAll("signatory", p.Signatory); err != nil {
		return nil, err
	}
	return &c, nil
}

func compileOne(name, expr string, minGroups int) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, model.ConfigError(model.CodeInternal, eris.Errorf("parser: %s pattern is empty", name))
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, model.ConfigError(model.CodeInternal, eris.Wrapf(err, "parser: invalid %s pattern", name))
	}
	if re.NumSubexp() < minGroups {
		return nil, model.ConfigError(model.CodeInternal, eris.Errorf("parser: %s pattern needs a capture group", name))
	}
	return re, nil
}

func compileAll(name string, exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := compileOne(name, expr, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
