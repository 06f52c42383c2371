// Package raster renders PDF pages to PNG images.
package raster

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Rasterizer renders every page of a PDF into outDir as page-XXXX.png and
// returns the number of pages written.
type Rasterizer interface {
	Render(ctx context.Context, pdfPath, outDir string) (int, error)
}

// PdfToPpm renders pages with the poppler pdftoppm CLI.
type PdfToPpm struct {
	binPath string
	dpi     int
}

// NewPdfToPpm creates a PdfToPpm rasterizer from config.
func NewPdfToPpm(cfg config.RasterConfig) *PdfToPpm {
	bin := cfg.PdfToPpmPath
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 200
	}
	return &PdfToPpm{binPath: bin, dpi: dpi}
}

// pdftoppm zero-pads the page suffix to the width of the page count.
var renderedName = regexp.MustCompile(`^raw-(\d+)\.png$`)

// Render renders into a scratch directory beside outDir and renames the
// results into place, so a failed run never leaves a partial page set.
func (p *PdfToPpm) Render(ctx context.Context, pdfPath, outDir string) (int, error) {
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return 0, eris.Wrapf(err, "raster: mkdir %s", parent)
	}
	scratch, err := os.MkdirTemp(parent, ".render-*")
	if err != nil {
		return 0, eris.Wrap(err, "raster: create scratch dir")
	}
	defer os.RemoveAll(scratch) //nolint:errcheck

	cmd := exec.CommandContext(ctx, p.binPath,
		"-png",
		"-r", strconv.Itoa(p.dpi),
		pdfPath,
		filepath.Join(scratch, "raw"),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, model.TransientError(model.CodeInternal, eris.Wrapf(ctx.Err(), "raster: pdftoppm timed out for %s", pdfPath))
		}
		return 0, model.DataError(model.CodeCorruptPDF, eris.Wrapf(err, "raster: pdftoppm failed for %s: %s", pdfPath, stderr.String()))
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return 0, eris.Wrap(err, "raster: read scratch dir")
	}
	pages := make(map[int]string)
	for _, e := range entries {
		m := renderedName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pages[n] = e.Name()
	}
	if len(pages) == 0 {
		return 0, model.DataError(model.CodeEmptyArtifact, eris.Errorf("raster: pdftoppm produced no pages for %s", pdfPath))
	}

	if err := os.RemoveAll(outDir); err != nil {
		return 0, eris.Wrapf(err, "raster: clear %s", outDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "raster: mkdir %s", outDir)
	}

	numbers := make([]int, 0, len(pages))
	for n := range pages {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		src := filepath.Join(scratch, pages[n])
		dst := filepath.Join(outDir, artifact.PageImageName(n))
		if err := os.Rename(src, dst); err != nil {
			return 0, eris.Wrapf(err, "raster: move page %d", n)
		}
	}
	return len(numbers), nil
}
