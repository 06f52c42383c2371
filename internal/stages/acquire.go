package stages

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/fetcher"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/pdfcheck"
	"github.com/sells-group/lawdoc-cli/internal/stage"
)

// Stage names.
const (
	NameFetch       = "fetch"
	NameDownload    = "download"
	NameOCR         = "ocr"
	NameImages      = "images"
	NameCorrect     = "correct"
	NameExtract     = "extract"
	NameEnrich      = "enrich"
	NameConsolidate = "consolidate"
)

// Fetch confirms that each discovered document's source URL answers.
func Fetch(f fetcher.Fetcher) stage.Definition {
	return stage.Definition{
		Name:    NameFetch,
		Inputs:  []model.Status{model.StatusDiscovered},
		Success: model.StatusFetched,
		Failure: model.StatusFailedFetch,
		Transform: func(ctx context.Context, it *stage.Item) error {
			if it.Doc.SourceURL == "" {
				return model.DataError(model.CodeFetchUnreachable, eris.New("fetch: document has no source url"))
			}
			info, err := f.Check(ctx, it.Doc.SourceURL)
			if err != nil {
				return err
			}
			if !info.LooksLikePDF() {
				zap.L().Warn("fetch: source does not advertise a pdf",
					zap.String("document_id", it.Doc.ID),
					zap.String("content_type", info.ContentType),
				)
			}
			return nil
		},
	}
}

// Download stores the source PDF under the artifact layout, validates it,
// and records its hash and page count.
func Download(f fetcher.Fetcher, layout artifact.Layout) stage.Definition {
	return stage.Definition{
		Name:    NameDownload,
		Inputs:  []model.Status{model.StatusFetched},
		Success: model.StatusDownloaded,
		Failure: model.StatusFailedDownload,
		Transform: func(ctx context.Context, it *stage.Item) error {
			path := layout.PDFPath(it.Doc.Identity())
			if _, err := f.DownloadToFile(ctx, it.Doc.SourceURL, path); err != nil {
				return err
			}

			rep, err := pdfcheck.Inspect(path)
			if err != nil {
				if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
					zap.L().Warn("download: remove rejected pdf", zap.String("path", path), zap.Error(rmErr))
				}
				return err
			}

			if it.Doc.ContentHash != "" && it.Doc.ContentHash != rep.Hash {
				zap.L().Info("download: source content changed",
					zap.String("document_id", it.Doc.ID),
					zap.String("previous_hash", it.Doc.ContentHash),
					zap.String("hash", rep.Hash),
				)
			}
			it.Doc.PDFPath = path
			it.Doc.ContentHash = rep.Hash
			it.Doc.PageCount = rep.PageCount
			return nil
		},
	}
}
