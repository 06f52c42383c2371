// Package catalog reads lists of documents to register and creates their
// DISCOVERED records. Lists may be YAML, CSV, or XLSX.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

// Entry is one document to register.
type Entry struct {
	Type   string `yaml:"type"`
	Year   int    `yaml:"year"`
	Number int    `yaml:"number"`
	URL    string `yaml:"url"`
}

// yamlFile is the YAML layout:
//
//	documents:
//	  - type: loi
//	    year: 2024
//	    number: 15
//	    url: https://sgg.gouv.bj/doc/loi-2024-15
type yamlFile struct {
	Documents []Entry `yaml:"documents"`
}

// Read loads entries from path, choosing the format by extension.
func Read(path string) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = readYAML(path)
	case ".csv":
		entries, err = readCSV(path)
	case ".xlsx":
		entries, err = readXLSX(path)
	default:
		return nil, eris.Errorf("catalog: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, eris.Errorf("catalog: %s lists no documents", path)
	}
	return entries, nil
}

func readYAML(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	return f.Documents, nil
}

// Documents validates every entry before anything is written. Entries
// naming the same document collapse to the first.
func Documents(entries []Entry) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		typ := model.DocumentType(strings.ToLower(strings.TrimSpace(e.Type)))
		if !typ.Valid() {
			return nil, eris.Errorf("catalog: document %d: unknown type %q", i+1, e.Type)
		}
		url := strings.TrimSpace(e.URL)
		if url == "" {
			return nil, eris.Errorf("catalog: document %d: url is required", i+1)
		}
		doc, err := model.NewDocument(model.Identity{Type: typ, Year: e.Year, Number: e.Number}, url)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: document %d", i+1)
		}
		if seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		docs = append(docs, doc)
	}
	return docs, nil
}

// Register creates the documents that do not exist yet and returns how many
// were created.
func Register(ctx context.Context, st store.Store, docs []model.Document) (int, error) {
	created := 0
	for _, d := range docs {
		ok, err := st.CreateDocument(ctx, d)
		if err != nil {
			return created, eris.Wrapf(err, "catalog: register %s", d.ID)
		}
		if ok {
			created++
		}
	}
	return created, nil
}
