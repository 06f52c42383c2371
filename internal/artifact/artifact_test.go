package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

func TestLayout_Paths(t *testing.T) {
	l := NewLayout(config.PathsConfig{PDFRoot: "pdf", ImagesRoot: "img", TextRoot: "txt", JSONRoot: "json"})
	id := model.Identity{Type: model.DocumentTypeLoi, Year: 2024, Number: 15}

	assert.Equal(t, filepath.Join("pdf", "loi", "loi-2024-15.pdf"), l.PDFPath(id))
	assert.Equal(t, filepath.Join("txt", "loi", "loi-2024-15.txt"), l.TextPath(id))
	assert.Equal(t, filepath.Join("txt", "loi", "loi-2024-15.corrected.txt"), l.CorrectedTextPath(id))
	assert.Equal(t, filepath.Join("json", "loi", "loi-2024-15.json"), l.JSONPath(id))
	assert.Equal(t, filepath.Join("img", "loi-2024-15"), l.ImagesDir(id))
	assert.Equal(t, "page-0007.png", PageImageName(7))
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "a.txt")
	empty := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	assert.NoError(t, Verify(full))
	assert.Equal(t, model.CodeEmptyArtifact, model.CodeOf(Verify(empty)))
	assert.Equal(t, model.CodeArtifactMissing, model.CodeOf(Verify(filepath.Join(dir, "missing.txt"))))
	assert.Equal(t, model.CodeArtifactMissing, model.CodeOf(Verify(dir)))
	assert.Equal(t, model.CodeArtifactMissing, model.CodeOf(Verify("")))
	assert.Equal(t, model.KindData, model.KindOf(Verify("")))
}

func TestWriteFile_CreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loi", "nested", "loi-2024-15.txt")
	require.NoError(t, WriteFile(path, []byte("Article 1er")))

	text, err := ReadText(path)
	require.NoError(t, err)
	assert.Equal(t, "Article 1er", text)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not linger")
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	in := model.ExtractionResult{DocumentID: "loi-2024-15", Method: model.MethodPattern, Confidence: 0.6,
		Articles: []model.Article{{Index: 1, Number: "1er", Text: "Texte"}}}
	require.NoError(t, WriteJSON(path, in))

	var out model.ExtractionResult
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in.DocumentID, out.DocumentID)
	assert.Equal(t, in.Articles, out.Articles)
}

func TestReadJSON_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var out model.ExtractionResult
	err := ReadJSON(path, &out)
	require.Error(t, err)
	assert.Equal(t, model.CodeMalformedJSON, model.CodeOf(err))
}

func TestCountPageImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page-0001.png", "page-0002.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	n, err := CountPageImages(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CountPageImages(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPageImages_Ordered(t *testing.T) {
	dir := t.TempDir()
	for _, page := range []int{10, 2, 1} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, PageImageName(page)), []byte("png"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thumb.jpg"), []byte("x"), 0o644))

	pages, err := PageImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "page-0001.png"),
		filepath.Join(dir, "page-0002.png"),
		filepath.Join(dir, "page-0010.png"),
	}, pages)
}
