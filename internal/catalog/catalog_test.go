package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Documents")
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "docs.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestRead_YAML(t *testing.T) {
	path := writeFile(t, "docs.yaml", `documents:
  - type: loi
    year: 2024
    number: 15
    url: https://sgg.gouv.bj/doc/loi-2024-15
  - type: decret
    year: 2023
    number: 7
    url: https://sgg.gouv.bj/doc/decret-2023-7
`)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Type: "loi", Year: 2024, Number: 15, URL: "https://sgg.gouv.bj/doc/loi-2024-15"}, entries[0])
	assert.Equal(t, "decret", entries[1].Type)
}

func TestRead_CSV(t *testing.T) {
	path := writeFile(t, "docs.csv", "Type,Year,Number,URL\nloi,2024,15,https://a\n,,,\ndecret, 2023, 7,https://b\n")

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2, "blank rows are skipped")
	assert.Equal(t, Entry{Type: "loi", Year: 2024, Number: 15, URL: "https://a"}, entries[0])
	assert.Equal(t, Entry{Type: "decret", Year: 2023, Number: 7, URL: "https://b"}, entries[1])
}

func TestRead_CSVWithIDColumn(t *testing.T) {
	path := writeFile(t, "docs.csv", "id,url\nloi-2024-15,https://a\narrete-2022-3,https://c\n")

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Type: "loi", Year: 2024, Number: 15, URL: "https://a"}, entries[0])
	assert.Equal(t, Entry{Type: "arrete", Year: 2022, Number: 3, URL: "https://c"}, entries[1])
}

func TestRead_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"type", "year", "number", "url"},
		{"ordonnance", "2021", "4", "https://d"},
		{"loi", "2024", "15", "https://a"},
	})

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Type: "ordonnance", Year: 2021, Number: 4, URL: "https://d"}, entries[0])
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unsupported extension", "docs.txt", "loi", "unsupported file type"},
		{"empty yaml", "docs.yaml", "documents: []\n", "lists no documents"},
		{"bad yaml", "docs.yaml", "documents: [\n", "parse"},
		{"header only", "docs.csv", "type,year,number,url\n", "lists no documents"},
		{"no url column", "docs.csv", "type,year,number\nloi,2024,1\n", "no url column"},
		{"no identity columns", "docs.csv", "url\nhttps://a\n", "needs an id column"},
		{"bad year", "docs.csv", "type,year,number,url\nloi,abc,1,https://a\n", "row 2: year"},
		{"bad id", "docs.csv", "id,url\nloi-2024,https://a\n", "row 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(writeFile(t, tt.file, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Read(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}

func TestDocuments(t *testing.T) {
	docs, err := Documents([]Entry{
		{Type: "loi", Year: 2024, Number: 15, URL: "https://a"},
		{Type: "LOI", Year: 2024, Number: 15, URL: "https://b"},
		{Type: "arrete", Year: 2022, Number: 3, URL: " https://c "},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2, "duplicates collapse")
	assert.Equal(t, "loi-2024-15", docs[0].ID)
	assert.Equal(t, "https://a", docs[0].SourceURL)
	assert.Equal(t, model.StatusDiscovered, docs[0].Status)
	assert.Equal(t, "arrete-2022-3", docs[1].ID)
	assert.Equal(t, "https://c", docs[1].SourceURL)
}

func TestDocuments_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{"unknown type", Entry{Type: "circulaire", Year: 2024, Number: 1, URL: "https://a"}, "unknown type"},
		{"no url", Entry{Type: "loi", Year: 2024, Number: 1}, "url is required"},
		{"bad year", Entry{Type: "loi", Year: 24, Number: 1, URL: "https://a"}, "document 1"},
		{"bad number", Entry{Type: "loi", Year: 2024, Number: 0, URL: "https://a"}, "document 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Documents([]Entry{tt.entry})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRegister(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	docs, err := Documents([]Entry{
		{Type: "loi", Year: 2024, Number: 1, URL: "https://a"},
		{Type: "loi", Year: 2024, Number: 2, URL: "https://b"},
	})
	require.NoError(t, err)

	created, err := Register(ctx, st, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = Register(ctx, st, docs)
	require.NoError(t, err)
	assert.Zero(t, created, "existing documents are left untouched")

	got, err := st.GetDocument(ctx, "loi-2024-2")
	require.NoError(t, err)
	assert.Equal(t, "https://b", got.SourceURL)
}
