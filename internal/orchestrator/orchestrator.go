// Package orchestrator selects the extraction method for each document: AI
// correction or full AI extraction when a provider is available, with the
// deterministic pattern parser always computed as the fallback.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/ai"
	"github.com/sells-group/lawdoc-cli/internal/chunker"
	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/correction"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/parser"
)

// AI modes.
const (
	ModeCorrect = "correct"
	ModeFull    = "full"
)

const defaultPagesPerRequest = 4

// Input is the text available for one document. PageImages lists the
// rendered page files, in page order, when the document has them.
type Input struct {
	Document      model.Document
	RawText       string
	CorrectedText string
	PageImages    []string
}

// Candidate is one method's attempt. Err is set when the method failed.
type Candidate struct {
	Method   string
	Provider string
	Result   model.ExtractionResult
	Err      error
}

// Outcome is the orchestrator's decision for one document.
type Outcome struct {
	Best       model.ExtractionResult
	Provider   string
	Candidates []Candidate
	// Learned holds correction candidates mined from AI-corrected text.
	Learned []model.CorrectionEntry
}

// Orchestrator runs extraction methods and picks the most confident result.
type Orchestrator struct {
	parser    *parser.Parser
	providers []ai.Provider
	miner     correction.Miner
	cfg       config.OrchestratorConfig
	mode      string
	cpus      func() int
}

// New builds an orchestrator. Providers are tried in order.
func New(p *parser.Parser, providers []ai.Provider, cfg config.OrchestratorConfig, mode string, miner correction.Miner) *Orchestrator {
	if mode == "" {
		mode = ModeCorrect
	}
	return &Orchestrator{
		parser:    p,
		providers: providers,
		miner:     miner,
		cfg:       cfg,
		mode:      mode,
		cpus:      runtime.NumCPU,
	}
}

// Run extracts one document. It fails only when every method failed.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Outcome, error) {
	start := time.Now()
	log := zap.L().With(zap.String("document_id", in.Document.ID))

	patterns, parseQuality := o.patternCandidates(in)

	var out Outcome
	switch {
	case parseQuality > o.cfg.AcceptPatternAbove:
		log.Debug("orchestrator: pattern result accepted without ai", zap.Float64("parse_quality", parseQuality))
	case !o.hasCapacity():
		log.Debug("orchestrator: skipping ai, insufficient local capacity",
			zap.Int("cpus", o.cpus()), zap.Int("min_cpus", o.cfg.MinCPUsForAI))
	default:
		out.Candidates, out.Learned = o.runAI(ctx, in, articleFloor(patterns))
	}
	out.Candidates = append(out.Candidates, patterns...)

	best, ok := selectBest(out.Candidates)
	if !ok {
		err := failure(out.Candidates)
		log.Warn("orchestrator: every method failed", zap.Error(err), zap.Int("candidates", len(out.Candidates)))
		return out, err
	}
	out.Best = best.Result
	out.Provider = best.Provider

	log.Info("orchestrator: method selected",
		zap.String("method", best.Method),
		zap.String("provider", best.Provider),
		zap.Float64("confidence", best.Result.Confidence),
		zap.Int("articles", len(best.Result.Articles)),
		zap.Int("candidates", len(out.Candidates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Enrich runs only the AI methods, for documents whose stored result is
// below the enrichment threshold. The error is AI_UNAVAILABLE when no
// provider could be used.
func (o *Orchestrator) Enrich(ctx context.Context, in Input) (Outcome, error) {
	if !o.hasCapacity() {
		return Outcome{}, model.TransientError(model.CodeAIUnavailable,
			eris.Errorf("orchestrator: %d cpus below ai threshold %d", o.cpus(), o.cfg.MinCPUsForAI))
	}
	patterns, _ := o.patternCandidates(in)
	var out Outcome
	out.Candidates, out.Learned = o.runAI(ctx, in, articleFloor(patterns))
	best, ok := selectBest(out.Candidates)
	if !ok {
		if len(out.Candidates) == 0 {
			return out, model.TransientError(model.CodeAIUnavailable, eris.New("orchestrator: no ai provider available"))
		}
		return out, failure(out.Candidates)
	}
	out.Best = best.Result
	out.Provider = best.Provider
	return out, nil
}

func (o *Orchestrator) hasCapacity() bool {
	return len(o.providers) > 0 && o.cpus() >= o.cfg.MinCPUsForAI
}

// patternCandidates parses the raw and dictionary-corrected text. It also
// returns the best raw parse quality, used to decide whether AI is needed.
func (o *Orchestrator) patternCandidates(in Input) ([]Candidate, float64) {
	var out []Candidate
	quality := 0.0
	add := func(method, text string, lo, hi float64) {
		if strings.TrimSpace(text) == "" {
			return
		}
		res := o.parser.Parse(text)
		res.DocumentID = in.Document.ID
		res.Method = method
		quality = math.Max(quality, res.Confidence)
		c := Candidate{Method: method}
		if len(res.Articles) == 0 {
			c.Err = model.DataError(model.CodeNoArticles, eris.Errorf("orchestrator: %s found no article markers", method))
		} else {
			res.Confidence = band(lo, hi, res.Confidence)
			c.Result = res
		}
		out = append(out, c)
	}
	add(model.MethodPatternCorrections, in.CorrectedText, o.cfg.CorrectedBandLow, o.cfg.CorrectedBandHigh)
	add(model.MethodPattern, in.RawText, o.cfg.OCRBandLow, o.cfg.OCRBandHigh)
	return out, quality
}

// runAI probes providers in order and extracts with the first available
// one. A provider whose call fails is recorded and the next one is tried.
// floor is the article count the pattern parser reached on the same text.
func (o *Orchestrator) runAI(ctx context.Context, in Input, floor int) ([]Candidate, []model.CorrectionEntry) {
	var out []Candidate
	for _, p := range o.providers {
		a := p.Probe(ctx)
		if !a.OK() {
			zap.L().Info("orchestrator: ai provider unavailable",
				zap.String("document_id", in.Document.ID),
				zap.String("provider", p.Name()),
				zap.String("reason", a.Reason),
			)
			continue
		}

		var c Candidate
		var learned []model.CorrectionEntry
		if o.mode == ModeFull {
			c = o.extractFull(ctx, p, in)
		} else {
			c, learned = o.correctWithAI(ctx, p, in, floor)
		}
		out = append(out, c)
		if c.Err == nil {
			return out, learned
		}
		zap.L().Warn("orchestrator: ai extraction failed",
			zap.String("document_id", in.Document.ID),
			zap.String("provider", p.Name()),
			zap.String("method", c.Method),
			zap.String("error_code", model.CodeOf(c.Err)),
			zap.Error(c.Err),
		)
	}
	return out, nil
}

// correctWithAI sends the text through the provider chunk by chunk, then
// parses the recombined text with the pattern parser. A corrected text that
// parses to fewer articles than the uncorrected one lost content and is
// rejected.
func (o *Orchestrator) correctWithAI(ctx context.Context, p ai.Provider, in Input, floor int) (Candidate, []model.CorrectionEntry) {
	c := Candidate{Method: model.MethodAICorrectedOCR, Provider: p.Name()}
	source := in.CorrectedText
	if strings.TrimSpace(source) == "" {
		source = in.RawText
	}

	chunks := o.splitter(p).Split(source)
	outputs := make([]string, len(chunks))
	for i, ch := range chunks {
		reply, err := p.Complete(ctx, ai.Request{DocumentID: in.Document.ID, System: correctSystemPrompt, Prompt: ch.Text})
		if err != nil {
			c.Err = err
			return c, nil
		}
		if utf8.RuneCountInString(reply) < utf8.RuneCountInString(ch.Text)/2 {
			c.Err = model.DataError(model.CodeAIFailed, eris.Errorf("orchestrator: chunk %d shrank from %d to %d chars", i, len(ch.Text), len(reply)))
			return c, nil
		}
		outputs[i] = reply
	}
	text := chunker.Merge(chunks, outputs)

	res := o.parser.Parse(text)
	if len(res.Articles) == 0 {
		c.Err = model.DataError(model.CodeNoArticles, eris.New("orchestrator: ai-corrected text has no article markers"))
		return c, nil
	}
	if len(res.Articles) < floor {
		c.Err = model.DataError(model.CodeAIFailed, eris.Errorf("orchestrator: ai-corrected text has %d articles, pattern parser found %d", len(res.Articles), floor))
		return c, nil
	}
	res.DocumentID = in.Document.ID
	res.Method = c.Method
	res.Confidence = model.ClampConfidence(o.cfg.AICorrectedConfidence)
	c.Result = res

	var learned []model.CorrectionEntry
	if in.RawText != "" {
		learned = o.miner.Mine(in.RawText, text)
	}
	return c, learned
}

// extractFull asks the provider for the structure directly. Providers with
// vision read the rendered pages when they exist; otherwise the text is sent
// chunk by chunk.
func (o *Orchestrator) extractFull(ctx context.Context, p ai.Provider, in Input) Candidate {
	if len(in.PageImages) > 0 && p.Vision() {
		c, err := o.extractPages(ctx, p, in)
		if err == nil {
			return c
		}
		zap.L().Warn("orchestrator: page images unreadable, extracting from text",
			zap.String("document_id", in.Document.ID), zap.Error(err))
	}

	c := Candidate{Method: model.MethodAIFull, Provider: p.Name()}
	source := in.CorrectedText
	if strings.TrimSpace(source) == "" {
		source = in.RawText
	}

	chunks := o.splitter(p).Split(source)
	docs := make([]aiDocument, 0, len(chunks))
	for _, ch := range chunks {
		reply, err := p.Complete(ctx, ai.Request{DocumentID: in.Document.ID, System: fullSystemPrompt, Prompt: ch.Text})
		if err != nil {
			c.Err = err
			return c
		}
		doc, err := parseAIDocument(reply)
		if err != nil {
			c.Err = err
			return c
		}
		docs = append(docs, doc)
	}

	return o.fullResult(c, in, docs)
}

// extractPages sends the page images in batches of pages_per_request. The
// error is set only when a page file cannot be read.
func (o *Orchestrator) extractPages(ctx context.Context, p ai.Provider, in Input) (Candidate, error) {
	c := Candidate{Method: model.MethodAIFull, Provider: p.Name()}
	batch := o.cfg.PagesPerRequest
	if batch <= 0 {
		batch = defaultPagesPerRequest
	}

	total := len(in.PageImages)
	docs := make([]aiDocument, 0, (total+batch-1)/batch)
	for first := 0; first < total; first += batch {
		last := min(first+batch, total)
		images := make([]ai.Image, 0, last-first)
		for _, path := range in.PageImages[first:last] {
			data, err := os.ReadFile(path)
			if err != nil {
				return c, eris.Wrapf(err, "orchestrator: read page image %s", path)
			}
			images = append(images, ai.Image{MediaType: "image/png", Data: data})
		}
		reply, err := p.Complete(ctx, ai.Request{
			DocumentID: in.Document.ID,
			System:     pagesSystemPrompt,
			Prompt:     fmt.Sprintf("Pages %d to %d of %d.", first+1, last, total),
			Images:     images,
		})
		if err != nil {
			c.Err = err
			return c, nil
		}
		doc, err := parseAIDocument(reply)
		if err != nil {
			c.Err = err
			return c, nil
		}
		docs = append(docs, doc)
	}
	return o.fullResult(c, in, docs), nil
}

func (o *Orchestrator) fullResult(c Candidate, in Input, docs []aiDocument) Candidate {
	res := mergeDocuments(docs)
	if len(res.Articles) == 0 {
		c.Err = model.DataError(model.CodeNoArticles, eris.New("orchestrator: ai extraction returned no articles"))
		return c
	}
	res.DocumentID = in.Document.ID
	res.Method = c.Method
	res.Confidence = model.ClampConfidence(o.cfg.AIFullConfidence)
	res.ExtractedAt = time.Now().UTC()
	c.Result = res
	return c
}

// splitter sizes chunks to the smaller of the configured chunk size and the
// provider's input limit.
func (o *Orchestrator) splitter(p ai.Provider) chunker.Splitter {
	size := o.cfg.ChunkSize
	if limit := p.MaxInputChars(); limit > 0 && (size <= 0 || limit < size) {
		size = limit
	}
	return chunker.New(size, o.cfg.ChunkOverlap)
}

// articleFloor is the largest article count among successful pattern
// candidates.
func articleFloor(cands []Candidate) int {
	n := 0
	for _, c := range cands {
		if c.Err == nil {
			n = max(n, len(c.Result.Articles))
		}
	}
	return n
}

// selectBest returns the successful candidate with the highest confidence;
// earlier candidates win ties.
func selectBest(cands []Candidate) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range cands {
		if c.Err != nil {
			continue
		}
		if !found || c.Result.Confidence > best.Result.Confidence {
			best = c
			found = true
		}
	}
	return best, found
}

// failure summarizes failed candidates. It is NO_ARTICLES when no method
// found any article, EXTRACTION_FAILED otherwise.
func failure(cands []Candidate) error {
	code := model.CodeNoArticles
	var parts []string
	for _, c := range cands {
		if model.CodeOf(c.Err) != model.CodeNoArticles {
			code = model.CodeExtractionFailed
		}
		parts = append(parts, c.Method+": "+model.CodeOf(c.Err))
	}
	if len(cands) == 0 {
		code = model.CodeExtractionFailed
		parts = append(parts, "no input text")
	}
	return model.DataError(code, eris.Errorf("orchestrator: no method succeeded (%s)", strings.Join(parts, "; ")))
}

// band maps a parse quality in [0, 1] into the [lo, hi] confidence band.
func band(lo, hi, quality float64) float64 {
	c := lo + (hi-lo)*model.ClampConfidence(quality)
	return math.Round(c*1000) / 1000
}
