package stages

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/correction"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/orchestrator"
	"github.com/sells-group/lawdoc-cli/internal/parser"
	"github.com/sells-group/lawdoc-cli/internal/stage"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

// Extractor is the part of the orchestrator the structuring stages use.
type Extractor interface {
	Run(ctx context.Context, in orchestrator.Input) (orchestrator.Outcome, error)
	Enrich(ctx context.Context, in orchestrator.Input) (orchestrator.Outcome, error)
}

func newOrchestrator(env *Env) (*orchestrator.Orchestrator, error) {
	p, err := parser.New(env.Config.Parser)
	if err != nil {
		return nil, err
	}
	providers, err := env.providers()
	if err != nil {
		return nil, err
	}
	miner := correction.Miner{
		MaxDistance: env.Config.Correction.MaxEditDistance,
		MinLength:   env.Config.Correction.MinTokenLength,
	}
	return orchestrator.New(p, providers, env.Config.Orchestrator, env.Config.AI.Mode, miner), nil
}

// Extract structures each corrected document into articles and metadata
// and writes the JSON artifact. A targeted retry of a failed document needs
// its corrected text.
func Extract(x Extractor, st store.Store, layout artifact.Layout) stage.Definition {
	return stage.Definition{
		Name:    NameExtract,
		Inputs:  []model.Status{model.StatusTextCorrected},
		Success: model.StatusStructured,
		Failure: model.StatusFailedExtraction,
		// A document that failed in correct has no corrected text yet and
		// must go back through correct first.
		Eligible: func(d model.Document) bool {
			return d.Status != model.StatusFailedExtraction || d.CorrectedTextPath != ""
		},
		Transform: func(ctx context.Context, it *stage.Item) error {
			in, err := readInput(it.Doc, layout)
			if err != nil {
				return err
			}
			out, err := x.Run(ctx, in)
			if err != nil {
				return err
			}
			if err := writeResult(it, layout, out.Best); err != nil {
				return err
			}
			recordLearned(it, st, out.Learned)
			return nil
		},
	}
}

// Enrich reruns the AI methods for structured documents whose confidence
// is below threshold. The JSON artifact is replaced only by a more
// confident result; the flag is set either way.
func Enrich(x Extractor, st store.Store, layout artifact.Layout, threshold float64) stage.Definition {
	return stage.Definition{
		Name:         NameEnrich,
		Inputs:       []model.Status{model.StatusStructured},
		MissingFlags: model.Flags(model.FlagAIEnriched),
		Eligible: func(d model.Document) bool {
			return d.Confidence < threshold
		},
		Transform: func(ctx context.Context, it *stage.Item) error {
			in, err := readInput(it.Doc, layout)
			if err != nil {
				return err
			}
			out, err := x.Enrich(ctx, in)
			if err != nil {
				return err
			}
			if out.Best.Confidence > it.Doc.Confidence {
				if err := writeResult(it, layout, out.Best); err != nil {
					return err
				}
			} else {
				zap.L().Info("enrich: ai result not more confident, keeping existing",
					zap.String("document_id", it.Doc.ID),
					zap.Float64("confidence", it.Doc.Confidence),
					zap.Float64("ai_confidence", out.Best.Confidence),
				)
			}
			it.Doc.Flags = it.Doc.Flags.With(model.FlagAIEnriched)
			recordLearned(it, st, out.Learned)
			return nil
		},
	}
}

// Consolidate validates each structured JSON artifact and indexes its
// articles in the store.
func Consolidate() stage.Definition {
	return stage.Definition{
		Name:    NameConsolidate,
		Inputs:  []model.Status{model.StatusStructured},
		Success: model.StatusConsolidated,
		Failure: model.StatusFailedConsolidation,
		Transform: func(_ context.Context, it *stage.Item) error {
			var res model.ExtractionResult
			if err := artifact.ReadJSON(it.Doc.JSONPath, &res); err != nil {
				return err
			}
			if err := validateResult(it.Doc.ID, res); err != nil {
				return err
			}
			it.Articles = res.Articles
			return nil
		},
	}
}

// readInput loads the raw OCR text and, when present, the corrected text and
// the rendered page list. A corrected text or page directory that cannot be
// read is ignored.
func readInput(d model.Document, layout artifact.Layout) (orchestrator.Input, error) {
	raw, err := artifact.ReadText(d.TextPath)
	if err != nil {
		return orchestrator.Input{}, err
	}
	in := orchestrator.Input{Document: d, RawText: raw}
	if d.CorrectedTextPath != "" {
		corrected, err := artifact.ReadText(d.CorrectedTextPath)
		if err != nil {
			zap.L().Warn("stages: corrected text unreadable, using raw text",
				zap.String("document_id", d.ID), zap.Error(err))
		} else {
			in.CorrectedText = corrected
		}
	}
	if d.Flags.Has(model.FlagImagesRendered) {
		pages, err := artifact.PageImages(layout.ImagesDir(d.Identity()))
		if err != nil {
			zap.L().Warn("stages: page images unreadable, using text only",
				zap.String("document_id", d.ID), zap.Error(err))
		}
		in.PageImages = pages
	}
	return in, nil
}

func writeResult(it *stage.Item, layout artifact.Layout, res model.ExtractionResult) error {
	res.DocumentID = it.Doc.ID
	path := layout.JSONPath(it.Doc.Identity())
	if err := artifact.WriteJSON(path, res); err != nil {
		return err
	}
	it.Doc.JSONPath = path
	it.Doc.SetConfidence(res.Confidence)
	it.Doc.Method = res.Method
	return nil
}

// recordLearned stores mined corrections as automatic entries once the
// document's outcome is persisted, then adds their occurrences.
func recordLearned(it *stage.Item, st store.Store, learned []model.CorrectionEntry) {
	if len(learned) == 0 {
		return
	}
	it.AfterApply(func(ctx context.Context) error {
		deltas := make(map[string]int, len(learned))
		for _, e := range learned {
			n := e.Occurrences
			e.Occurrences = 0
			e.Origin = model.CorrectionAutomatic
			e.Active = false
			if err := st.UpsertCorrection(ctx, e); err != nil {
				return err
			}
			deltas[model.NormalizeCorrection(e).Token] += max(n, 1)
		}
		return st.AdjustCorrectionCounts(ctx, deltas)
	})
}

// validateResult checks a stored extraction before its articles are indexed.
func validateResult(id string, res model.ExtractionResult) error {
	if res.DocumentID != "" && res.DocumentID != id {
		return model.DataError(model.CodeMalformedJSON, eris.Errorf("consolidate: json belongs to %s", res.DocumentID))
	}
	if len(res.Articles) == 0 {
		return model.DataError(model.CodeNoArticles, eris.New("consolidate: json has no articles"))
	}
	for i, a := range res.Articles {
		if a.Index != i+1 {
			return model.DataError(model.CodeMalformedJSON, eris.Errorf("consolidate: article %d has index %d", i+1, a.Index))
		}
		if strings.TrimSpace(a.Text) == "" {
			return model.DataError(model.CodeMalformedJSON, eris.Errorf("consolidate: article %d is empty", a.Index))
		}
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return model.DataError(model.CodeMalformedJSON, eris.Errorf("consolidate: confidence %.3f out of range", res.Confidence))
	}
	return nil
}
