// Package artifact owns the on-disk layout of pipeline artifacts and the
// checks that decide whether an artifact is usable.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Layout maps document identities to artifact paths.
type Layout struct {
	PDFRoot    string
	ImagesRoot string
	TextRoot   string
	JSONRoot   string
}

// NewLayout builds a Layout from the paths config.
func NewLayout(cfg config.PathsConfig) Layout {
	return Layout{
		PDFRoot:    cfg.PDFRoot,
		ImagesRoot: cfg.ImagesRoot,
		TextRoot:   cfg.TextRoot,
		JSONRoot:   cfg.JSONRoot,
	}
}

// PDFPath returns {pdf-root}/{type}/{id}.pdf.
func (l Layout) PDFPath(id model.Identity) string {
	return filepath.Join(l.PDFRoot, string(id.Type), id.String()+".pdf")
}

// TextPath returns {text-root}/{type}/{id}.txt.
func (l Layout) TextPath(id model.Identity) string {
	return filepath.Join(l.TextRoot, string(id.Type), id.String()+".txt")
}

// CorrectedTextPath returns {text-root}/{type}/{id}.corrected.txt.
func (l Layout) CorrectedTextPath(id model.Identity) string {
	return filepath.Join(l.TextRoot, string(id.Type), id.String()+".corrected.txt")
}

// JSONPath returns {json-root}/{type}/{id}.json.
func (l Layout) JSONPath(id model.Identity) string {
	return filepath.Join(l.JSONRoot, string(id.Type), id.String()+".json")
}

// ImagesDir returns {images-root}/{id}.
func (l Layout) ImagesDir(id model.Identity) string {
	return filepath.Join(l.ImagesRoot, id.String())
}

// PageImageName returns the file name of a 1-based page image.
func PageImageName(page int) string {
	return fmt.Sprintf("page-%04d.png", page)
}

// Verify checks that path names a non-empty regular file. Failures are
// data errors coded ARTIFACT_MISSING or EMPTY_ARTIFACT.
func Verify(path string) error {
	if path == "" {
		return model.DataError(model.CodeArtifactMissing, eris.New("artifact: no path recorded"))
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.DataError(model.CodeArtifactMissing, eris.Errorf("artifact: %s does not exist", path))
	}
	if err != nil {
		return model.TransientError(model.CodeInternal, eris.Wrapf(err, "artifact: stat %s", path))
	}
	if !info.Mode().IsRegular() {
		return model.DataError(model.CodeArtifactMissing, eris.Errorf("artifact: %s is not a regular file", path))
	}
	if info.Size() == 0 {
		return model.DataError(model.CodeEmptyArtifact, eris.Errorf("artifact: %s is empty", path))
	}
	return nil
}

// CountPageImages returns how many page-XXXX.png files dir holds. A missing
// directory counts as zero.
func CountPageImages(dir string) (int, error) {
	pages, err := PageImages(dir)
	return len(pages), err
}

// PageImages returns the paths of the page-XXXX.png files in dir in page
// order. A missing directory yields none.
func PageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", dir)
	}
	var pages []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "page-") && strings.HasSuffix(e.Name(), ".png") {
			pages = append(pages, filepath.Join(dir, e.Name()))
		}
	}
	return pages, nil
}

// WriteFile writes data atomically: a temp file in the target directory is
// renamed into place so readers never observe a partial artifact.
func WriteFile(path string, data []byte) error {
	_, err := WriteStream(path, bytes.NewReader(data))
	return err
}

// WriteStream copies r into path atomically and returns the bytes written.
func WriteStream(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "artifact: mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return 0, eris.Wrapf(err, "artifact: create temp for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close() //nolint:errcheck
		return n, eris.Wrapf(err, "artifact: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrapf(err, "artifact: close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, eris.Wrapf(err, "artifact: rename into %s", path)
	}
	return n, nil
}

// ReadText reads a verified text artifact.
func ReadText(path string) (string, error) {
	if err := Verify(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "artifact: read %s", path)
	}
	return string(data), nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "artifact: marshal %s", path)
	}
	return WriteFile(path, append(data, '\n'))
}

// ReadJSON verifies and decodes a JSON artifact. Undecodable content is a
// MALFORMED_JSON data error.
func ReadJSON(path string, v any) error {
	if err := Verify(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return model.DataError(model.CodeMalformedJSON, eris.Wrapf(err, "artifact: decode %s", path))
	}
	return nil
}
