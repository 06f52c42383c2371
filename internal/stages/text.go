package stages

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/correction"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/ocr"
	"github.com/sells-group/lawdoc-cli/internal/raster"
	"github.com/sells-group/lawdoc-cli/internal/stage"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

// OCR extracts the raw text of each downloaded PDF.
func OCR(x ocr.Extractor, layout artifact.Layout) stage.Definition {
	return stage.Definition{
		Name:    NameOCR,
		Inputs:  []model.Status{model.StatusDownloaded},
		Success: model.StatusOCRExtracted,
		Failure: model.StatusFailedOCR,
		Transform: func(ctx context.Context, it *stage.Item) error {
			if err := artifact.Verify(it.Doc.PDFPath); err != nil {
				return err
			}
			text, err := x.ExtractText(ctx, it.Doc.PDFPath)
			if err != nil {
				return err
			}
			path := layout.TextPath(it.Doc.Identity())
			if err := artifact.WriteFile(path, []byte(text)); err != nil {
				return err
			}
			it.Doc.TextPath = path
			return nil
		},
	}
}

// Images renders every page of a document's PDF. It only sets a flag and
// never moves the status.
func Images(r raster.Rasterizer, layout artifact.Layout) stage.Definition {
	return stage.Definition{
		Name: NameImages,
		Inputs: []model.Status{
			model.StatusDownloaded,
			model.StatusOCRExtracted,
			model.StatusTextCorrected,
			model.StatusStructured,
			model.StatusConsolidated,
		},
		MissingFlags: model.Flags(model.FlagImagesRendered),
		Transform: func(ctx context.Context, it *stage.Item) error {
			if err := artifact.Verify(it.Doc.PDFPath); err != nil {
				return err
			}
			pages, err := r.Render(ctx, it.Doc.PDFPath, layout.ImagesDir(it.Doc.Identity()))
			if err != nil {
				return err
			}
			if it.Doc.PageCount > 0 && pages != it.Doc.PageCount {
				zap.L().Warn("images: rendered page count differs from pdf",
					zap.String("document_id", it.Doc.ID),
					zap.Int("rendered", pages),
					zap.Int("pages", it.Doc.PageCount),
				)
			}
			it.Doc.Flags = it.Doc.Flags.With(model.FlagImagesRendered)
			return nil
		},
	}
}

// LoadCorrectionEngine imports the optional seed file into the store and
// builds the correction engine from the stored dictionary. A seed file that
// cannot be loaded is a configuration error.
func LoadCorrectionEngine(ctx context.Context, st store.Store, cfg config.CorrectionConfig) (*correction.Engine, error) {
	if cfg.SeedFile != "" {
		seeds, err := correction.LoadSeeds(cfg.SeedFile)
		if err != nil {
			return nil, model.ConfigError(model.CodeInternal, err)
		}
		if _, err := st.ImportCorrections(ctx, seeds); err != nil {
			return nil, eris.Wrap(err, "stages: import correction seeds")
		}
	}
	entries, err := st.ListCorrections(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "stages: load correction dictionary")
	}
	dict := correction.NewDictionary(entries, cfg.MaxEditDistance)
	zap.L().Info("stages: correction dictionary loaded", zap.Int("entries", dict.Len()))
	return correction.NewEngine(dict, cfg), nil
}

// Correct applies the correction engine to each document's OCR text and
// persists the occurrence counts of the corrections it applied.
func Correct(eng *correction.Engine, st store.Store, layout artifact.Layout) stage.Definition {
	return stage.Definition{
		Name:    NameCorrect,
		Inputs:  []model.Status{model.StatusOCRExtracted},
		Success: model.StatusTextCorrected,
		Failure: model.StatusFailedExtraction,
		Transform: func(ctx context.Context, it *stage.Item) error {
			text, err := artifact.ReadText(it.Doc.TextPath)
			if err != nil {
				return err
			}
			res := eng.Correct(text)
			path := layout.CorrectedTextPath(it.Doc.Identity())
			if err := artifact.WriteFile(path, []byte(res.Text)); err != nil {
				return err
			}
			it.Doc.CorrectedTextPath = path

			if counts := res.Counts(); len(counts) > 0 {
				it.AfterApply(func(ctx context.Context) error {
					return st.AdjustCorrectionCounts(ctx, counts)
				})
			}
			zap.L().Debug("correct: document corrected",
				zap.String("document_id", it.Doc.ID),
				zap.Int("corrections", len(res.Applied)),
			)
			return nil
		},
	}
}
