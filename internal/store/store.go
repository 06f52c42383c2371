// Package store persists document records, indexed articles, and the
// correction dictionary.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/db"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

const defaultListLimit = 100

// DocumentFilter narrows a document listing. Zero fields match everything.
type DocumentFilter struct {
	Statuses []model.Status `json:"statuses,omitempty"`
	ID       string         `json:"id,omitempty"`
	// MissingFlags matches documents lacking at least one of these flags.
	MissingFlags model.Flags `json:"missing_flags,omitempty"`
	// AfterID is a keyset cursor; results are ordered by id.
	AfterID       string    `json:"after_id,omitempty"`
	UpdatedBefore time.Time `json:"updated_before,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

func (f DocumentFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Outcome is the new state of one document computed from a snapshot.
// Document.Version must be the version that snapshot was read at.
type Outcome struct {
	Document model.Document
	// Articles, when non-nil, replace the document's indexed articles.
	Articles []model.Article
}

// ApplyReport summarizes one ApplyOutcomes call.
type ApplyReport struct {
	Applied int      `json:"applied"`
	Stale   []string `json:"stale,omitempty"`
}

// Store defines the persistence interface for the conversion pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc model.Document) (bool, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	ApplyOutcomes(ctx context.Context, outcomes []Outcome) (ApplyReport, error)

	// Articles
	ListArticles(ctx context.Context, documentID string) ([]model.Article, error)
	SearchArticles(ctx context.Context, query string, limit int) ([]model.ArticleHit, error)

	// Corrections
	ListCorrections(ctx context.Context) ([]model.CorrectionEntry, error)
	UpsertCorrection(ctx context.Context, entry model.CorrectionEntry) error
	ImportCorrections(ctx context.Context, entries []model.CorrectionEntry) (int, error)
	AdjustCorrectionCounts(ctx context.Context, deltas map[string]int) error
	PromoteCorrections(ctx context.Context, minOccurrences int) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "lawdoc.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

// likePattern escapes LIKE metacharacters in q and wraps it for substring
// matching with ESCAPE '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func statusStrings(ss []model.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

const documentColumns = `id, type, year, number, source_url, status, flags,
	pdf_path, text_path, corrected_text_path, json_path, content_hash, page_count,
	error_code, error_message, confidence, method, version, created_at, updated_at`

func scanDocument(row scannable) (*model.Document, error) {
	var (
		d      model.Document
		typ    string
		status string
		flags  int64
	)
	err := row.Scan(&d.ID, &typ, &d.Year, &d.Number, &d.SourceURL, &status, &flags,
		&d.PDFPath, &d.TextPath, &d.CorrectedTextPath, &d.JSONPath, &d.ContentHash, &d.PageCount,
		&d.ErrorCode, &d.ErrorMessage, &d.Confidence, &d.Method, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Type = model.DocumentType(typ)
	d.Status = model.Status(status)
	d.Flags = model.Flags(flags)
	return &d, nil
}

func scanCorrection(row scannable) (model.CorrectionEntry, error) {
	var (
		e      model.CorrectionEntry
		origin string
	)
	err := row.Scan(&e.Token, &e.Display, &e.Replacement, &e.Occurrences, &origin, &e.Active, &e.UpdatedAt)
	e.Origin = model.CorrectionOrigin(origin)
	return e, err
}
