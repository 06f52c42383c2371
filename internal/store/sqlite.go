package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers, which is what chunk
	// persistence requires.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL,
	year                INTEGER NOT NULL,
	number              INTEGER NOT NULL,
	source_url          TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'discovered',
	flags               INTEGER NOT NULL DEFAULT 0,
	pdf_path            TEXT NOT NULL DEFAULT '',
	text_path           TEXT NOT NULL DEFAULT '',
	corrected_text_path TEXT NOT NULL DEFAULT '',
	json_path           TEXT NOT NULL DEFAULT '',
	content_hash        TEXT NOT NULL DEFAULT '',
	page_count          INTEGER NOT NULL DEFAULT 0,
	error_code          TEXT NOT NULL DEFAULT '',
	error_message       TEXT NOT NULL DEFAULT '',
	confidence          REAL NOT NULL DEFAULT 0 CHECK (confidence >= 0 AND confidence <= 1),
	method              TEXT NOT NULL DEFAULT '',
	version             INTEGER NOT NULL DEFAULT 1,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS articles (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	number      TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	PRIMARY KEY (document_id, idx)
);

CREATE TABLE IF NOT EXISTS corrections (
	token       TEXT PRIMARY KEY,
	display     TEXT NOT NULL,
	replacement TEXT NOT NULL,
	occurrences INTEGER NOT NULL DEFAULT 0 CHECK (occurrences >= 0),
	origin      TEXT NOT NULL DEFAULT 'reviewed',
	active      INTEGER NOT NULL DEFAULT 1,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, id);
CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
CREATE INDEX IF NOT EXISTS idx_corrections_origin ON corrections(origin, active);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, d model.Document) (bool, error) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, type, year, number, source_url, status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		d.ID, string(d.Type), d.Year, d.Number, d.SourceURL, string(model.StatusDiscovered), d.CreatedAt, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert document %s", d.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	var args []any

	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(`, ?`, len(filter.Statuses)-1) + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.ID != "" {
		query += ` AND id = ?`
		args = append(args, filter.ID)
	}
	if filter.MissingFlags != 0 {
		query += ` AND (flags & ?) != ?`
		args = append(args, int64(filter.MissingFlags), int64(filter.MissingFlags))
	}
	if filter.AfterID != "" {
		query += ` AND id > ?`
		args = append(args, filter.AfterID)
	}
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, filter.UpdatedBefore.UTC())
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

// ApplyOutcomes writes every outcome in one transaction. An outcome whose
// document version moved since it was read is skipped and reported stale.
func (s *SQLiteStore) ApplyOutcomes(ctx context.Context, outcomes []Outcome) (ApplyReport, error) {
	var report ApplyReport
	if len(outcomes) == 0 {
		return report, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, eris.Wrap(err, "sqlite: begin apply")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, o := range outcomes {
		d := o.Document
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET
				status = ?, flags = ?, pdf_path = ?, text_path = ?, corrected_text_path = ?, json_path = ?,
				content_hash = ?, page_count = ?, error_code = ?, error_message = ?, confidence = ?, method = ?,
				version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ?`,
			string(d.Status), int64(d.Flags), d.PDFPath, d.TextPath, d.CorrectedTextPath, d.JSONPath,
			d.ContentHash, d.PageCount, d.ErrorCode, d.ErrorMessage, model.ClampConfidence(d.Confidence), d.Method,
			now, d.ID, d.Version,
		)
		if err != nil {
			return ApplyReport{}, eris.Wrapf(err, "sqlite: apply outcome %s", d.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ApplyReport{}, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			report.Stale = append(report.Stale, d.ID)
			continue
		}

		if o.Articles != nil {
			if err := replaceArticlesSQLite(ctx, tx, d.ID, o.Articles); err != nil {
				return ApplyReport{}, err
			}
		}
		report.Applied++
	}

	if err := tx.Commit(); err != nil {
		return ApplyReport{}, eris.Wrap(err, "sqlite: commit apply")
	}
	return report, nil
}

func replaceArticlesSQLite(ctx context.Context, tx *sql.Tx, documentID string, articles []model.Article) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE document_id = ?`, documentID); err != nil {
		return eris.Wrapf(err, "sqlite: clear articles %s", documentID)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO articles (document_id, idx, number, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare article insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, a := range articles {
		if _, err := stmt.ExecContext(ctx, documentID, a.Index, a.Number, a.Text); err != nil {
			return eris.Wrapf(err, "sqlite: insert article %s/%d", documentID, a.Index)
		}
	}
	return nil
}

func (s *SQLiteStore) ListArticles(ctx context.Context, documentID string) ([]model.Article, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, number, text FROM articles WHERE document_id = ? ORDER BY idx`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list articles %s", documentID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Article
	for rows.Next() {
		var a model.Article
		if err := rows.Scan(&a.Index, &a.Number, &a.Text); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan article")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list articles iterate")
}

func (s *SQLiteStore) SearchArticles(ctx context.Context, query string, limit int) ([]model.ArticleHit, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, idx, number, text FROM articles
		 WHERE text LIKE ? ESCAPE '\'
		 ORDER BY document_id, idx LIMIT ?`,
		likePattern(query), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search articles")
	}
	defer rows.Close() //nolint:errcheck

	var hits []model.ArticleHit
	for rows.Next() {
		var h model.ArticleHit
		if err := rows.Scan(&h.DocumentID, &h.Article.Index, &h.Article.Number, &h.Article.Text); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan article hit")
		}
		hits = append(hits, h)
	}
	return hits, eris.Wrap(rows.Err(), "sqlite: search articles iterate")
}

func (s *SQLiteStore) ListCorrections(ctx context.Context) ([]model.CorrectionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, display, replacement, occurrences, origin, active, updated_at FROM corrections ORDER BY token`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CorrectionEntry
	for rows.Next() {
		e, err := scanCorrection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list corrections iterate")
}

// sqliteUpsertCorrection keeps a reviewed entry's replacement when an
// automatic entry collides with it, and never lowers counts or deactivates.
const sqliteUpsertCorrection = `
INSERT INTO corrections (token, display, replacement, occurrences, origin, active, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(token) DO UPDATE SET
	replacement = CASE WHEN excluded.origin = 'reviewed' OR corrections.origin = 'automatic'
		THEN excluded.replacement ELSE corrections.replacement END,
	origin      = CASE WHEN corrections.origin = 'reviewed' THEN 'reviewed' ELSE excluded.origin END,
	active      = MAX(corrections.active, excluded.active),
	occurrences = MAX(corrections.occurrences, excluded.occurrences),
	updated_at  = excluded.updated_at`

func (s *SQLiteStore) UpsertCorrection(ctx context.Context, entry model.CorrectionEntry) error {
	e := model.NormalizeCorrection(entry)
	if e.Token == "" || e.Replacement == "" {
		return eris.New("sqlite: correction needs token and replacement")
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsertCorrection,
		e.Token, e.Display, e.Replacement, e.Occurrences, string(e.Origin), e.Active, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: upsert correction %s", e.Token)
}

func (s *SQLiteStore) ImportCorrections(ctx context.Context, entries []model.CorrectionEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	n := 0
	for _, entry := range entries {
		e := model.NormalizeCorrection(entry)
		if e.Token == "" || e.Replacement == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertCorrection,
			e.Token, e.Display, e.Replacement, e.Occurrences, string(e.Origin), e.Active, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import correction %s", e.Token)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return n, nil
}

func (s *SQLiteStore) AdjustCorrectionCounts(ctx context.Context, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin adjust")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for token, delta := range deltas {
		if _, err := tx.ExecContext(ctx,
			`UPDATE corrections SET occurrences = MAX(0, occurrences + ?), updated_at = ? WHERE token = ?`,
			delta, now, strings.ToLower(strings.TrimSpace(token))); err != nil {
			return eris.Wrapf(err, "sqlite: adjust correction %s", token)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit adjust")
}

func (s *SQLiteStore) PromoteCorrections(ctx context.Context, minOccurrences int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE corrections SET active = 1, updated_at = ?
		 WHERE origin = 'automatic' AND active = 0 AND occurrences >= ?`,
		time.Now().UTC(), minOccurrences)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: promote corrections")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}
