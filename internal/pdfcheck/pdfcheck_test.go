package pdfcheck

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

func TestInspect_ValidPDF(t *testing.T) {
	data := minimalPDF()
	path := writePDF(t, data)

	report, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PageCount)
	assert.Equal(t, int64(len(data)), report.Size)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), report.Hash)
}

func TestInspect_Empty(t *testing.T) {
	_, err := Inspect(writePDF(t, nil))
	require.Error(t, err)
	assert.Equal(t, model.CodeEmptyArtifact, model.CodeOf(err))
	assert.Equal(t, model.KindData, model.KindOf(err))
}

func TestInspect_Corrupt(t *testing.T) {
	_, err := Inspect(writePDF(t, []byte("<html>Service indisponible</html>")))
	require.Error(t, err)
	assert.Equal(t, model.CodeCorruptPDF, model.CodeOf(err))
}

func TestInspect_Missing(t *testing.T) {
	_, err := Inspect(filepath.Join(t.TempDir(), "absent.pdf"))
	require.Error(t, err)
	assert.Equal(t, model.CodeArtifactMissing, model.CodeOf(err))
}

func TestVerifyHash(t *testing.T) {
	data := minimalPDF()
	path := writePDF(t, data)
	sum := sha256.Sum256(data)

	assert.NoError(t, VerifyHash(path, hex.EncodeToString(sum[:])))

	err := VerifyHash(path, "deadbeef")
	require.Error(t, err)
	assert.Equal(t, model.CodeHashMismatch, model.CodeOf(err))
}
