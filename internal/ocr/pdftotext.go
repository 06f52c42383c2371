package ocr

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// pdftotext exits with 1 when it cannot open or parse the input document.
const pdftotextExitOpenError = 1

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
	timeout time.Duration
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string, timeout time.Duration) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, timeout: timeout}
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", timeoutError(ctx, pdfPath)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == pdftotextExitOpenError {
			return "", model.DataError(model.CodeOCRCorruptInput,
				eris.Wrapf(err, "ocr: pdftotext rejected %s: %s", pdfPath, stderr.String()))
		}
		return "", model.TransientError(model.CodeOCREngineInit,
			eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, stderr.String()))
	}

	return checkText(stdout.String(), pdfPath)
}
