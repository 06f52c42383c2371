package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var correctionSpec = UpsertSpec{
	Table:        "corrections",
	Columns:      []string{"token", "display", "replacement", "occurrences"},
	ConflictKeys: []string{"token"},
	Merge:        map[string]string{"occurrences": `GREATEST("corrections"."occurrences", EXCLUDED."occurrences")`},
	Keep:         []string{"display"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, correctionSpec, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidSpec(t *testing.T) {
	rows := [][]any{{"a", "b"}}

	_, err := BulkUpsert(context.Background(), nil, UpsertSpec{Columns: []string{"a"}, ConflictKeys: []string{"a"}}, rows)
	assert.ErrorContains(t, err, "no table specified")

	_, err = BulkUpsert(context.Background(), nil, UpsertSpec{Table: "t", ConflictKeys: []string{"a"}}, rows)
	assert.ErrorContains(t, err, "no columns specified")

	_, err = BulkUpsert(context.Background(), nil, UpsertSpec{Table: "t", Columns: []string{"a"}}, rows)
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestUpsertSpec_MergeStatement(t *testing.T) {
	got := correctionSpec.mergeStatement("_staging_corrections")
	assert.Equal(t,
		`INSERT INTO "corrections" ("token", "display", "replacement", "occurrences") `+
			`SELECT "token", "display", "replacement", "occurrences" FROM "_staging_corrections" `+
			`ON CONFLICT ("token") DO UPDATE SET "replacement" = EXCLUDED."replacement", `+
			`"occurrences" = GREATEST("corrections"."occurrences", EXCLUDED."occurrences")`,
		got)
}

func TestUpsertSpec_MergeStatementKeysOnly(t *testing.T) {
	spec := UpsertSpec{Table: "lawdoc.tags", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	got := spec.mergeStatement(spec.stagingTable())
	assert.Equal(t, `INSERT INTO "lawdoc"."tags" ("id") SELECT "id" FROM "_staging_lawdoc_tags" ON CONFLICT ("id") DO NOTHING`, got)
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{
		{"ministere", "Ministere", "ministère", 3},
		{"artic1e", "artic1e", "article", 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_staging_corrections" (LIKE "corrections" INCLUDING DEFAULTS) ON COMMIT DROP`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_corrections"}, correctionSpec.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "corrections"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, correctionSpec, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_corrections"}, correctionSpec.Columns).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, correctionSpec, [][]any{{"a", "a", "b", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into staging for corrections")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"lawdoc", "articles"}, []string{"document_id", "idx"}).WillReturnResult(3)

	n, err := CopyRows(context.Background(), mock, "lawdoc.articles", []string{"document_id", "idx"},
		[][]any{{"loi-2024-15", 1}, {"loi-2024-15", 2}, {"loi-2024-15", 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())

	n, err = CopyRows(context.Background(), nil, "articles", nil, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestConnect_BadConnString(t *testing.T) {
	_, err := Connect(context.Background(), "://not a url", PoolOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: parse config")
}
