// Package ocr extracts raw text from PDF files.
package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Extractor extracts text content from PDF files. Failures are
// *model.StageError values that distinguish corrupted input from an engine
// that could not start.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// NewExtractor creates an Extractor based on config. Configuration
// problems are reported as config errors.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath, timeout), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, model.ConfigError(model.CodeOCREngineInit, eris.New("ocr: mistral provider requires mistral_api_key"))
		}
		return NewMistral(cfg.MistralKey, cfg.MistralModel, timeout), nil
	default:
		return nil, model.ConfigError(model.CodeOCREngineInit, eris.Errorf("ocr: unknown provider %q", cfg.Provider))
	}
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutError classifies a context failure as an OCR timeout.
func timeoutError(ctx context.Context, pdfPath string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.TransientError(model.CodeOCRTimeout, eris.Errorf("ocr: timed out extracting %s", pdfPath))
	}
	return model.TransientError(model.CodeOCRTimeout, eris.Wrapf(ctx.Err(), "ocr: extraction of %s cancelled", pdfPath))
}

// checkText rejects extractions that produced no visible characters.
func checkText(text, pdfPath string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", model.DataError(model.CodeOCREmptyText, eris.Errorf("ocr: no text extracted from %s", pdfPath))
	}
	return text, nil
}
