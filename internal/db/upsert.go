package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec describes a bulk upsert into one table.
type UpsertSpec struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns supplied by each row
	ConflictKeys []string // unique constraint columns
	// Merge overrides the SET expression per column. Columns absent from
	// Merge are overwritten with the incoming value.
	Merge map[string]string
	// Keep lists non-key columns left untouched on conflict.
	Keep []string
}

// BulkUpsert stages rows in a temp table with COPY and merges them into the
// target with INSERT ... ON CONFLICT inside a single transaction.
func BulkUpsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := spec.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := spec.stagingTable()
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), sanitizeTable(spec.Table))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", spec.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, spec.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into staging for %s", spec.Table)
	}

	tag, err := tx.Exec(ctx, spec.mergeStatement(staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", spec.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func (s UpsertSpec) validate() error {
	if s.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(s.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(s.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (s UpsertSpec) stagingTable() string {
	return "_staging_" + strings.ReplaceAll(s.Table, ".", "_")
}

// mergeStatement renders the INSERT ... SELECT ... ON CONFLICT statement.
func (s UpsertSpec) mergeStatement(staging string) string {
	skip := make(map[string]bool, len(s.ConflictKeys)+len(s.Keep))
	for _, k := range s.ConflictKeys {
		skip[k] = true
	}
	for _, k := range s.Keep {
		skip[k] = true
	}

	var sets []string
	for _, col := range s.Columns {
		if skip[col] {
			continue
		}
		ident := pgx.Identifier{col}.Sanitize()
		expr, ok := s.Merge[col]
		if !ok {
			expr = "EXCLUDED." + ident
		}
		sets = append(sets, ident+" = "+expr)
	}

	cols := quoteAndJoin(s.Columns)
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		sanitizeTable(s.Table), cols, cols, pgx.Identifier{staging}.Sanitize(), quoteAndJoin(s.ConflictKeys))
	if len(sets) == 0 {
		return stmt + " DO NOTHING"
	}
	return stmt + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// CopyRows bulk-inserts rows with the COPY protocol through a pool or an
// open transaction.
func CopyRows(ctx context.Context, dst Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := dst.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}
	return n, nil
}

func identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
