// Package pdfcheck validates downloaded PDFs and fingerprints their content.
package pdfcheck

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

func init() {
	// Keep pdfcpu from creating its config directory under $HOME.
	pdfmodel.ConfigPath = "disable"
}

// Report describes a validated PDF.
type Report struct {
	Size      int64
	PageCount int
	Hash      string // hex sha256 of the file bytes
}

func configuration() *pdfmodel.Configuration {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return conf
}

// Inspect validates the PDF at path and returns its size, page count, and
// content hash. An empty file is EMPTY_ARTIFACT; a file pdfcpu cannot
// validate is CORRUPT_PDF.
func Inspect(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, model.DataError(model.CodeArtifactMissing, eris.Wrapf(err, "pdfcheck: open %s", path))
		}
		return Report{}, eris.Wrapf(err, "pdfcheck: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return Report{}, eris.Wrapf(err, "pdfcheck: stat %s", path)
	}
	if info.Size() == 0 {
		return Report{}, model.DataError(model.CodeEmptyArtifact, eris.Errorf("pdfcheck: %s is empty", path))
	}

	hash, err := hashReader(f)
	if err != nil {
		return Report{}, eris.Wrapf(err, "pdfcheck: hash %s", path)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Report{}, eris.Wrapf(err, "pdfcheck: rewind %s", path)
	}
	if err := api.Validate(f, configuration()); err != nil {
		return Report{}, model.DataError(model.CodeCorruptPDF, eris.Wrapf(err, "pdfcheck: validate %s", path))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Report{}, eris.Wrapf(err, "pdfcheck: rewind %s", path)
	}
	pages, err := api.PageCount(f, configuration())
	if err != nil {
		return Report{}, model.DataError(model.CodeCorruptPDF, eris.Wrapf(err, "pdfcheck: page count %s", path))
	}
	if pages == 0 {
		return Report{}, model.DataError(model.CodeCorruptPDF, eris.Errorf("pdfcheck: %s has no pages", path))
	}

	return Report{Size: info.Size(), PageCount: pages, Hash: hash}, nil
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "pdfcheck: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return hashReader(f)
}

// VerifyHash recomputes the file hash and compares it with want.
func VerifyHash(path, want string) error {
	got, err := HashFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return model.DataError(model.CodeHashMismatch, eris.Errorf("pdfcheck: %s hash %s, recorded %s", path, got, want))
	}
	return nil
}

func hashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
