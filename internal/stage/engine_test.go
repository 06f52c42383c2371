package stage

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "stage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st store.Store, numbers ...int) []string {
	t.Helper()
	var ids []string
	for _, n := range numbers {
		doc, err := model.NewDocument(model.Identity{Type: model.DocumentTypeLoi, Year: 2024, Number: n}, "https://sgg.gouv.bj/doc")
		require.NoError(t, err)
		created, err := st.CreateDocument(context.Background(), doc)
		require.NoError(t, err)
		require.True(t, created)
		ids = append(ids, doc.ID)
	}
	return ids
}

func get(t *testing.T, st store.Store, id string) model.Document {
	t.Helper()
	d, err := st.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return *d
}

func fetchDefinition(fn Transform) Definition {
	return Definition{
		Name:      "fetch",
		Inputs:    []model.Status{model.StatusDiscovered},
		Success:   model.StatusFetched,
		Failure:   model.StatusFailedFetch,
		Transform: fn,
	}
}

func newEngine(t *testing.T, def Definition, st store.Store, cfg config.StageConfig) *Engine {
	t.Helper()
	e, err := New(def, st, cfg)
	require.NoError(t, err)
	return e
}

func succeedAll(_ context.Context, _ *Item) error { return nil }

func TestRun_FailingItemDoesNotBlockChunk(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1, 2, 3)

	e := newEngine(t, fetchDefinition(func(_ context.Context, it *Item) error {
		if it.Doc.ID == ids[1] {
			return model.DataError(model.CodeFetchUnreachable, errors.New("404 from source"))
		}
		return nil
	}), st, config.StageConfig{MaxWorkers: 4})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Chunks)
	assert.Equal(t, 3, rep.Claimed)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 3, rep.Processed())
	assert.NotEmpty(t, rep.RunID)

	assert.Equal(t, model.StatusFetched, get(t, st, ids[0]).Status)
	assert.Equal(t, model.StatusFetched, get(t, st, ids[2]).Status)

	failed := get(t, st, ids[1])
	assert.Equal(t, model.StatusFailedFetch, failed.Status)
	assert.Equal(t, model.CodeFetchUnreachable, failed.ErrorCode)
	assert.Contains(t, failed.ErrorMessage, "404 from source")
	assert.Contains(t, failed.ErrorMessage, ids[1])
}

func TestRun_SecondPassProcessesNothing(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 1, 2)
	e := newEngine(t, fetchDefinition(succeedAll), st, config.StageConfig{})

	first, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Succeeded)

	second, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, second.Claimed)
	assert.Zero(t, second.Processed())
	assert.Zero(t, second.Chunks)
}

func TestRun_WalksChunks(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 1, 2, 3, 4, 5)

	var calls atomic.Int32
	e := newEngine(t, fetchDefinition(func(_ context.Context, _ *Item) error {
		calls.Add(1)
		return nil
	}), st, config.StageConfig{ChunkSize: 2})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Chunks)
	assert.Equal(t, 5, rep.Succeeded)
	assert.Equal(t, int32(5), calls.Load())

	counts, err := st.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, counts[model.StatusFetched])
}

func TestRun_MaxChunks(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 1, 2, 3, 4, 5)
	e := newEngine(t, fetchDefinition(succeedAll), st, config.StageConfig{ChunkSize: 10})

	rep, err := e.Run(context.Background(), RunOptions{ChunkSize: 2, MaxChunks: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Chunks)
	assert.Equal(t, 2, rep.Succeeded)

	counts, err := st.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusFetched])
	assert.Equal(t, 3, counts[model.StatusDiscovered])
}

func TestRun_TargetedRetryAcceptsFailureStatus(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1, 2)

	fail := true
	e := newEngine(t, fetchDefinition(func(_ context.Context, _ *Item) error {
		if fail {
			return model.TransientError(model.CodeFetchUnreachable, errors.New("timeout"))
		}
		return nil
	}), st, config.StageConfig{MaxWorkers: 1})

	_, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, model.StatusFailedFetch, get(t, st, ids[0]).Status)

	fail = false
	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, rep.Claimed, "failed documents are not claimed by a plain run")

	rep, err = e.Run(context.Background(), RunOptions{ID: ids[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	retried := get(t, st, ids[0])
	assert.Equal(t, model.StatusFetched, retried.Status)
	assert.Empty(t, retried.ErrorCode)
	assert.Empty(t, retried.ErrorMessage)
	assert.Equal(t, model.StatusFailedFetch, get(t, st, ids[1]).Status)
}

func TestRun_RepeatedFailureKeepsFailureStatus(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1)

	code := model.CodeFetchUnreachable
	e := newEngine(t, fetchDefinition(func(_ context.Context, _ *Item) error {
		return model.DataError(code, errors.New("boom"))
	}), st, config.StageConfig{})

	_, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	code = model.CodeDownloadFailed
	rep, err := e.Run(context.Background(), RunOptions{ID: ids[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	d := get(t, st, ids[0])
	assert.Equal(t, model.StatusFailedFetch, d.Status)
	assert.Equal(t, model.CodeDownloadFailed, d.ErrorCode)
}

func TestRun_ConfigErrorAborts(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1, 2, 3)

	e := newEngine(t, fetchDefinition(func(_ context.Context, it *Item) error {
		if it.Doc.ID == ids[0] {
			return model.ConfigError(model.CodeAIUnavailable, errors.New("invalid api key"))
		}
		return nil
	}), st, config.StageConfig{ChunkSize: 3})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, model.IsConfig(err))
	assert.Equal(t, 2, rep.Succeeded)
	assert.Zero(t, rep.Failed)

	untouched := get(t, st, ids[0])
	assert.Equal(t, model.StatusDiscovered, untouched.Status)
	assert.Empty(t, untouched.ErrorCode)
	assert.Equal(t, int64(1), untouched.Version)
}

func TestRun_FailureDiscardsMutations(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1)

	e := newEngine(t, fetchDefinition(func(_ context.Context, it *Item) error {
		it.Doc.PDFPath = "/tmp/partial.pdf"
		it.Doc.Flags = it.Doc.Flags.With(model.FlagImagesRendered)
		return errors.New("unclassified")
	}), st, config.StageConfig{})

	_, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	d := get(t, st, ids[0])
	assert.Equal(t, model.StatusFailedFetch, d.Status)
	assert.Empty(t, d.PDFPath)
	assert.False(t, d.Flags.Has(model.FlagImagesRendered))
	assert.Equal(t, model.CodeInternal, d.ErrorCode)
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1, 2)

	e := newEngine(t, fetchDefinition(func(_ context.Context, it *Item) error {
		if it.Doc.ID == ids[0] {
			panic("nil map")
		}
		return nil
	}), st, config.StageConfig{})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Contains(t, get(t, st, ids[0]).ErrorMessage, "panicked")
	assert.Equal(t, model.StatusFetched, get(t, st, ids[1]).Status)
}

func TestRun_TransformCannotChangeIdentity(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1)

	e := newEngine(t, fetchDefinition(func(_ context.Context, it *Item) error {
		it.Doc.Number = 99
		it.Doc.Status = model.StatusConsolidated
		it.Doc.Confidence = 3
		return nil
	}), st, config.StageConfig{})

	_, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	d := get(t, st, ids[0])
	assert.Equal(t, 1, d.Number)
	assert.Equal(t, model.StatusFetched, d.Status)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
}

func TestRun_FlagStage(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1, 2)

	def := Definition{
		Name:         "images",
		Inputs:       []model.Status{model.StatusDiscovered},
		MissingFlags: model.Flags(model.FlagImagesRendered),
		Transform: func(_ context.Context, it *Item) error {
			if it.Doc.ID == ids[1] {
				return model.DataError(model.CodeCorruptPDF, errors.New("bad xref"))
			}
			it.Doc.Flags = it.Doc.Flags.With(model.FlagImagesRendered)
			return nil
		},
	}
	e := newEngine(t, def, st, config.StageConfig{})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)

	ok := get(t, st, ids[0])
	assert.Equal(t, model.StatusDiscovered, ok.Status)
	assert.True(t, ok.Flags.Has(model.FlagImagesRendered))

	bad := get(t, st, ids[1])
	assert.Equal(t, model.StatusDiscovered, bad.Status)
	assert.Equal(t, model.CodeCorruptPDF, bad.ErrorCode)

	rep, err = e.Run(context.Background(), RunOptions{ID: ids[0]})
	require.NoError(t, err)
	assert.Zero(t, rep.Claimed, "flagged documents fall outside the filter")
}

func TestRun_EligibleSkipsWithoutWrite(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1, 2)

	def := fetchDefinition(succeedAll)
	def.Eligible = func(d model.Document) bool { return d.ID != ids[0] }
	e := newEngine(t, def, st, config.StageConfig{})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Succeeded)

	skipped := get(t, st, ids[0])
	assert.Equal(t, model.StatusDiscovered, skipped.Status)
	assert.Equal(t, int64(1), skipped.Version)
}

func TestRun_StaleOutcomeIsDiscarded(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1)

	var hooked atomic.Bool
	e := newEngine(t, fetchDefinition(func(ctx context.Context, it *Item) error {
		// Another writer persists first.
		other := it.Doc
		other.Method = "concurrent"
		if _, err := st.ApplyOutcomes(ctx, []store.Outcome{{Document: other}}); err != nil {
			return err
		}
		it.AfterApply(func(context.Context) error {
			hooked.Store(true)
			return nil
		})
		return nil
	}), st, config.StageConfig{MaxWorkers: 1})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stale)
	assert.False(t, hooked.Load())

	d := get(t, st, ids[0])
	assert.Equal(t, model.StatusDiscovered, d.Status)
	assert.Equal(t, "concurrent", d.Method)
}

func TestRun_AfterApplyAndArticles(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1)

	var hooks atomic.Int32
	e := newEngine(t, fetchDefinition(func(_ context.Context, it *Item) error {
		it.Articles = []model.Article{
			{Index: 1, Number: "1er", Text: "La présente loi est exécutée comme loi de l'État."},
			{Index: 2, Number: "2", Text: "Dispositions finales."},
		}
		it.AfterApply(func(context.Context) error {
			hooks.Add(1)
			return nil
		})
		it.AfterApply(func(context.Context) error {
			hooks.Add(1)
			return errors.New("logged only")
		})
		return nil
	}), st, config.StageConfig{})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, int32(2), hooks.Load())

	articles, err := st.ListArticles(context.Background(), ids[0])
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "1er", articles[0].Number)
}

func TestRun_CancelledBeforeFirstChunk(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 1)
	e := newEngine(t, fetchDefinition(succeedAll), st, config.StageConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := e.Run(ctx, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rep.Claimed)
}

func TestRun_CancelledChunkIsAbandoned(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEngine(t, fetchDefinition(func(_ context.Context, _ *Item) error {
		cancel()
		return nil
	}), st, config.StageConfig{MaxWorkers: 1})

	_, err := e.Run(ctx, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	for _, id := range ids {
		assert.Equal(t, model.StatusDiscovered, get(t, st, id).Status)
	}
}

func TestRun_ItemTimeout(t *testing.T) {
	st := newTestStore(t)
	ids := seed(t, st, 1)

	e := newEngine(t, fetchDefinition(func(ctx context.Context, _ *Item) error {
		<-ctx.Done()
		return model.TransientError(model.CodeFetchUnreachable, ctx.Err())
	}), st, config.StageConfig{ItemTimeoutSecs: 1})

	rep, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, model.StatusFailedFetch, get(t, st, ids[0]).Status)
}

func TestNew_InvalidDefinition(t *testing.T) {
	st := newTestStore(t)
	cases := []Definition{
		{},
		{Name: "x", Inputs: []model.Status{model.StatusDiscovered}},
		{Name: "x", Transform: succeedAll},
		{Name: "x", Inputs: []model.Status{"bogus"}, Transform: succeedAll},
		{Name: "x", Inputs: []model.Status{model.StatusDiscovered}, Success: "bogus", Transform: succeedAll},
		{Name: "x", Inputs: []model.Status{model.StatusDiscovered}, Failure: model.StatusFetched, Transform: succeedAll},
	}
	for _, def := range cases {
		_, err := New(def, st, config.StageConfig{})
		require.Error(t, err)
		assert.True(t, model.IsConfig(err))
	}
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 1, Workers(1))
	assert.GreaterOrEqual(t, Workers(0), 1)
	assert.LessOrEqual(t, Workers(2), 2)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "é", truncate("éé", 3))
}
