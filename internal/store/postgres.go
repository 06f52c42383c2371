package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/db"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts db.PoolOptions) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (confidence >= 0 AND confidence <= 1),
	method              TEXT NOT NULL DEFAULT '',
	version             BIGINT NOT NULL DEFAULT 1,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
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
	active      BOOLEAN NOT NULL DEFAULT true,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, id);
CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
CREATE INDEX IF NOT EXISTS idx_corrections_origin ON corrections(origin, active);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, d model.Document) (bool, error) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, type, year, number, source_url, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, string(d.Type), d.Year, d.Number, d.SourceURL, string(model.StatusDiscovered), d.CreatedAt, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert document %s", d.ID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE true`
	args := []any{}
	argIdx := 1

	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, statusStrings(filter.Statuses))
		argIdx++
	}
	if filter.ID != "" {
		query += fmt.Sprintf(` AND id = $%d`, argIdx)
		args = append(args, filter.ID)
		argIdx++
	}
	if filter.MissingFlags != 0 {
		query += fmt.Sprintf(` AND (flags & $%d) <> $%d`, argIdx, argIdx)
		args = append(args, int32(filter.MissingFlags))
		argIdx++
	}
	if filter.AfterID != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, filter.AfterID)
		argIdx++
	}
	if !filter.UpdatedBefore.IsZero() {
		query += fmt.Sprintf(` AND updated_at < $%d`, argIdx)
		args = append(args, filter.UpdatedBefore.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.Status(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

const postgresApplyOutcome = `UPDATE documents SET
	status = $1, flags = $2, pdf_path = $3, text_path = $4, corrected_text_path = $5, json_path = $6,
	content_hash = $7, page_count = $8, error_code = $9, error_message = $10, confidence = $11, method = $12,
	version = version + 1, updated_at = $13
 WHERE id = $14 AND version = $15`

var articleColumns = []string{"document_id", "idx", "number", "text"}

// ApplyOutcomes writes every outcome in one transaction. An outcome whose
// document version moved since it was read is skipped and reported stale.
func (s *PostgresStore) ApplyOutcomes(ctx context.Context, outcomes []Outcome) (ApplyReport, error) {
	var report ApplyReport
	if len(outcomes) == 0 {
		return report, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return report, eris.Wrap(err, "postgres: begin apply")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, o := range outcomes {
		d := o.Document
		tag, err := tx.Exec(ctx, postgresApplyOutcome,
			string(d.Status), int32(d.Flags), d.PDFPath, d.TextPath, d.CorrectedTextPath, d.JSONPath,
			d.ContentHash, d.PageCount, d.ErrorCode, d.ErrorMessage, model.ClampConfidence(d.Confidence), d.Method,
			now, d.ID, d.Version,
		)
		if err != nil {
			return ApplyReport{}, eris.Wrapf(err, "postgres: apply outcome %s", d.ID)
		}
		if tag.RowsAffected() == 0 {
			report.Stale = append(report.Stale, d.ID)
			continue
		}

		if o.Articles != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM articles WHERE document_id = $1`, d.ID); err != nil {
				return ApplyReport{}, eris.Wrapf(err, "postgres: clear articles %s", d.ID)
			}
			rows := make([][]any, len(o.Articles))
			for i, a := range o.Articles {
				rows[i] = []any{d.ID, a.Index, a.Number, a.Text}
			}
			if _, err := db.CopyRows(ctx, tx, "articles", articleColumns, rows); err != nil {
				return ApplyReport{}, eris.Wrapf(err, "postgres: index articles %s", d.ID)
			}
		}
		report.Applied++
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyReport{}, eris.Wrap(err, "postgres: commit apply")
	}
	return report, nil
}

func (s *PostgresStore) ListArticles(ctx context.Context, documentID string) ([]model.Article, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idx, number, text FROM articles WHERE document_id = $1 ORDER BY idx`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list articles %s", documentID)
	}
	defer rows.Close()

	var out []model.Article
	for rows.Next() {
		var a model.Article
		if err := rows.Scan(&a.Index, &a.Number, &a.Text); err != nil {
			return nil, eris.Wrap(err, "postgres: scan article")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list articles iterate")
}

func (s *PostgresStore) SearchArticles(ctx context.Context, query string, limit int) ([]model.ArticleHit, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, idx, number, text FROM articles
		 WHERE text ILIKE $1
		 ORDER BY document_id, idx LIMIT $2`,
		likePattern(query), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search articles")
	}
	defer rows.Close()

	var hits []model.ArticleHit
	for rows.Next() {
		var h model.ArticleHit
		if err := rows.Scan(&h.DocumentID, &h.Article.Index, &h.Article.Number, &h.Article.Text); err != nil {
			return nil, eris.Wrap(err, "postgres: scan article hit")
		}
		hits = append(hits, h)
	}
	return hits, eris.Wrap(rows.Err(), "postgres: search articles iterate")
}

func (s *PostgresStore) ListCorrections(ctx context.Context) ([]model.CorrectionEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token, display, replacement, occurrences, origin, active, updated_at FROM corrections ORDER BY token`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var out []model.CorrectionEntry
	for rows.Next() {
		e, err := scanCorrection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

// Conflict resolution shared by single upserts and bulk imports: reviewed
// replacements win over automatic ones, counts never decrease.
var correctionMerge = map[string]string{
	"replacement": `CASE WHEN EXCLUDED.origin = 'reviewed' OR "corrections".origin = 'automatic' THEN EXCLUDED.replacement ELSE "corrections".replacement END`,
	"origin":      `CASE WHEN "corrections".origin = 'reviewed' THEN 'reviewed' ELSE EXCLUDED.origin END`,
	"active":      `"corrections".active OR EXCLUDED.active`,
	"occurrences": `GREATEST("corrections".occurrences, EXCLUDED.occurrences)`,
}

var correctionSpec = db.UpsertSpec{
	Table:        "corrections",
	Columns:      []string{"token", "display", "replacement", "occurrences", "origin", "active", "updated_at"},
	ConflictKeys: []string{"token"},
	Merge:        correctionMerge,
	Keep:         []string{"display"},
}

func (s *PostgresStore) UpsertCorrection(ctx context.Context, entry model.CorrectionEntry) error {
	e := model.NormalizeCorrection(entry)
	if e.Token == "" || e.Replacement == "" {
		return eris.New("postgres: correction needs token and replacement")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO corrections (token, display, replacement, occurrences, origin, active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (token) DO UPDATE SET
			replacement = `+correctionMerge["replacement"]+`,
			origin = `+correctionMerge["origin"]+`,
			active = `+correctionMerge["active"]+`,
			occurrences = `+correctionMerge["occurrences"]+`,
			updated_at = EXCLUDED.updated_at`,
		e.Token, e.Display, e.Replacement, e.Occurrences, string(e.Origin), e.Active, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert correction %s", e.Token)
}

// ImportCorrections loads a dictionary seed through the COPY-based bulk
// upsert.
func (s *PostgresStore) ImportCorrections(ctx context.Context, entries []model.CorrectionEntry) (int, error) {
	now := time.Now().UTC()
	seen := make(map[string]bool, len(entries))
	rows := make([][]any, 0, len(entries))
	for _, entry := range entries {
		e := model.NormalizeCorrection(entry)
		// ON CONFLICT cannot touch the same row twice in one statement.
		if e.Token == "" || e.Replacement == "" || seen[e.Token] {
			continue
		}
		seen[e.Token] = true
		rows = append(rows, []any{e.Token, e.Display, e.Replacement, e.Occurrences, string(e.Origin), e.Active, now})
	}

	if _, err := db.BulkUpsert(ctx, s.pool, correctionSpec, rows); err != nil {
		return 0, eris.Wrap(err, "postgres: import corrections")
	}
	return len(rows), nil
}

func (s *PostgresStore) AdjustCorrectionCounts(ctx context.Context, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(deltas))
	amounts := make([]int32, 0, len(deltas))
	for token, delta := range deltas {
		tokens = append(tokens, strings.ToLower(strings.TrimSpace(token)))
		amounts = append(amounts, int32(delta))
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE corrections c
		 SET occurrences = GREATEST(0, c.occurrences + d.delta), updated_at = now()
		 FROM unnest($1::text[], $2::int[]) AS d(token, delta)
		 WHERE c.token = d.token`,
		tokens, amounts)
	return eris.Wrap(err, "postgres: adjust correction counts")
}

func (s *PostgresStore) PromoteCorrections(ctx context.Context, minOccurrences int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE corrections SET active = true, updated_at = now()
		 WHERE origin = 'automatic' AND NOT active AND occurrences >= $1`,
		minOccurrences)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: promote corrections")
	}
	return int(tag.RowsAffected()), nil
}
