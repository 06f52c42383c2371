// Package stage runs one pipeline stage over the document store: it claims
// chunks of documents by status, transforms each independently on a bounded
// worker pool, and persists every chunk's outcomes in one write.
package stage

import (
	"context"
	"runtime"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/resilience"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

const defaultChunkSize = 50

// Transform computes the new state of one document. It mutates item.Doc
// in place; on error every change is discarded and only the failure is
// recorded.
type Transform func(ctx context.Context, item *Item) error

// Item is the working copy of one claimed document.
type Item struct {
	Doc model.Document
	// Articles, when non-nil, replace the document's indexed articles.
	Articles []model.Article

	afterApply []func(ctx context.Context) error
}

// AfterApply registers fn to run once the item's outcome is persisted. It
// is skipped when the outcome was stale or the transform failed.
func (it *Item) AfterApply(fn func(ctx context.Context) error) {
	it.afterApply = append(it.afterApply, fn)
}

// Definition parameterizes the engine for one stage.
type Definition struct {
	Name   string
	Inputs []model.Status
	// Success and Failure are the target statuses. An empty target leaves
	// the status unchanged, which is how flag-only stages are expressed.
	Success model.Status
	Failure model.Status
	// MissingFlags narrows the claim to documents lacking one of the flags.
	MissingFlags model.Flags
	// Eligible further narrows claimed documents. Documents it rejects are
	// skipped without a write.
	Eligible  func(model.Document) bool
	Transform Transform
}

// Validate checks that the definition is runnable.
func (d Definition) Validate() error {
	if d.Name == "" {
		return eris.New("stage: definition has no name")
	}
	if d.Transform == nil {
		return eris.Errorf("stage: %s has no transform", d.Name)
	}
	if len(d.Inputs) == 0 {
		return eris.Errorf("stage: %s has no input statuses", d.Name)
	}
	for _, s := range d.Inputs {
		if !s.Valid() {
			return eris.Errorf("stage: %s input status %q is unknown", d.Name, s)
		}
	}
	if d.Success != "" && !d.Success.Valid() {
		return eris.Errorf("stage: %s success status %q is unknown", d.Name, d.Success)
	}
	if d.Failure != "" && !d.Failure.IsFailure() {
		return eris.Errorf("stage: %s failure status %q is not a failure status", d.Name, d.Failure)
	}
	return nil
}

// RunOptions narrows a single run.
type RunOptions struct {
	// ID restricts the run to one document. The stage's failure status is
	// then accepted as input so failed documents can be retried by hand.
	ID        string
	ChunkSize int
	MaxChunks int
}

// Report summarizes a run.
type Report struct {
	Stage     string        `json:"stage"`
	RunID     string        `json:"run_id"`
	Chunks    int           `json:"chunks"`
	Claimed   int           `json:"claimed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Stale     int           `json:"stale"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Processed is the number of documents whose outcome was computed.
func (r Report) Processed() int {
	return r.Succeeded + r.Failed
}

// Engine executes one stage definition.
type Engine struct {
	def     Definition
	store   store.Store
	cfg     config.StageConfig
	workers int
}

// New builds an engine. A definition error is a configuration error: the
// stage must not claim any work.
func New(def Definition, st store.Store, cfg config.StageConfig) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, model.ConfigError(model.CodeInternal, err)
	}
	return &Engine{
		def:     def,
		store:   st,
		cfg:     cfg,
		workers: Workers(cfg.MaxWorkers),
	}, nil
}

// Name returns the stage name.
func (e *Engine) Name() string { return e.def.Name }

// Workers sizes the worker pool from available CPUs, capped by ceiling
// when positive, with a floor of 1.
func Workers(ceiling int) int {
	n := runtime.NumCPU()
	if ceiling > 0 {
		n = min(n, ceiling)
	}
	return max(n, 1)
}

// Run claims and processes chunks until no eligible document remains, the
// chunk limit is reached, or ctx is cancelled. A chunk cancelled in flight
// is abandoned without writing any outcome.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (Report, error) {
	start := time.Now()
	rep := Report{Stage: e.def.Name, RunID: uuid.NewString()}
	log := zap.L().With(
		zap.String("component", "stage.engine"),
		zap.String("stage", e.def.Name),
		zap.String("run_id", rep.RunID),
	)

	chunkSize := firstPositive(opts.ChunkSize, e.cfg.ChunkSize, defaultChunkSize)
	maxChunks := firstPositive(opts.MaxChunks, e.cfg.MaxChunks)
	filter := store.DocumentFilter{
		Statuses:     e.inputs(opts.ID),
		ID:           opts.ID,
		MissingFlags: e.def.MissingFlags,
		Limit:        chunkSize,
	}

	log.Info("stage started", zap.Int("chunk_size", chunkSize), zap.Int("workers", e.workers), zap.String("id", opts.ID))

	for maxChunks == 0 || rep.Chunks < maxChunks {
		select {
		case <-ctx.Done():
			rep.Elapsed = time.Since(start)
			log.Warn("stage cancelled", zap.Int("chunks", rep.Chunks))
			return rep, ctx.Err()
		default:
		}

		docs, err := e.store.ListDocuments(ctx, filter)
		if err != nil {
			rep.Elapsed = time.Since(start)
			return rep, eris.Wrapf(err, "stage: %s list chunk", e.def.Name)
		}
		if len(docs) == 0 {
			break
		}
		filter.AfterID = docs[len(docs)-1].ID
		rep.Chunks++
		rep.Claimed += len(docs)

		if err := e.runChunk(ctx, docs, &rep); err != nil {
			rep.Elapsed = time.Since(start)
			if model.IsConfig(err) {
				log.Error("stage aborted on configuration error", zap.Error(err))
			}
			return rep, err
		}
		if len(docs) < chunkSize {
			break
		}
	}

	rep.Elapsed = time.Since(start)
	log.Info("stage complete",
		zap.Int("chunks", rep.Chunks),
		zap.Int("claimed", rep.Claimed),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("stale", rep.Stale),
		zap.Duration("elapsed", rep.Elapsed),
	)
	return rep, nil
}

func (e *Engine) inputs(id string) []model.Status {
	inputs := append([]model.Status(nil), e.def.Inputs...)
	if id == "" || e.def.Failure == "" {
		return inputs
	}
	for _, s := range inputs {
		if s == e.def.Failure {
			return inputs
		}
	}
	return append(inputs, e.def.Failure)
}

// result is the computed outcome of one item.
type result struct {
	item    *Item
	err     error
	skipped bool
}

// runChunk transforms docs on the worker pool and persists the outcomes.
// A configuration error raised by a transform is returned after the chunk's
// other outcomes are written, and stops the run.
func (e *Engine) runChunk(ctx context.Context, docs []model.Document, rep *Report) error {
	results := make([]result, len(docs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, d := range docs {
		g.Go(func() error {
			results[i] = e.process(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled chunk is abandoned whole; its documents still match the
	// filter on the next run.
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		outcomes []store.Outcome
		applied  []*Item
		fatal    error
	)
	for _, r := range results {
		switch {
		case r.skipped:
			rep.Skipped++
			continue
		case r.err != nil && model.IsConfig(r.err):
			if fatal == nil {
				fatal = r.err
			}
			continue
		case r.err != nil:
			rep.Failed++
		default:
			rep.Succeeded++
			applied = append(applied, r.item)
		}
		outcomes = append(outcomes, store.Outcome{Document: r.item.Doc, Articles: r.item.Articles})
	}
	if len(outcomes) == 0 {
		return fatal
	}

	ar, err := e.store.ApplyOutcomes(ctx, outcomes)
	if err != nil {
		return eris.Wrapf(err, "stage: %s apply chunk", e.def.Name)
	}
	rep.Stale += len(ar.Stale)

	stale := make(map[string]bool, len(ar.Stale))
	for _, id := range ar.Stale {
		stale[id] = true
		zap.L().Warn("stage: outcome discarded, document changed concurrently",
			zap.String("stage", e.def.Name), zap.String("document_id", id))
	}
	e.afterApply(ctx, applied, stale)
	return fatal
}

// process runs the transform on a copy of d and turns the result into the
// document's next state.
func (e *Engine) process(ctx context.Context, d model.Document) result {
	if e.def.Eligible != nil && !e.def.Eligible(d) {
		return result{skipped: true}
	}

	itemCtx := ctx
	if timeout := e.cfg.ItemTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	item := &Item{Doc: d}
	err := e.transform(itemCtx, item)
	if err == nil {
		if !e.succeed(item, d) {
			return result{skipped: true}
		}
		return result{item: item}
	}

	classified := *resilience.Classify(model.CodeInternal, err)
	se := &classified
	se.DocumentID = d.ID
	se.Stage = e.def.Name
	if se.Kind == model.KindConfig {
		return result{err: se}
	}

	zap.L().Error("stage: document failed",
		zap.String("stage", e.def.Name),
		zap.String("document_id", d.ID),
		zap.String("error_code", se.Code),
		zap.String("error_kind", string(se.Kind)),
		zap.Error(err),
	)
	return result{item: e.fail(d, se), err: se}
}

// transform calls the stage transform, converting a panic into an error so
// one document cannot take down the chunk.
func (e *Engine) transform(ctx context.Context, item *Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("stage: %s panicked: %v", e.def.Name, r)
		}
	}()
	return e.def.Transform(ctx, item)
}

// succeed applies the success status to the transformed copy. Identity,
// status and version always come from the snapshot. It reports false when
// the state machine rejects the transition, in which case nothing is written.
func (e *Engine) succeed(item *Item, snapshot model.Document) bool {
	item.Doc.ID = snapshot.ID
	item.Doc.Type = snapshot.Type
	item.Doc.Year = snapshot.Year
	item.Doc.Number = snapshot.Number
	item.Doc.Status = snapshot.Status
	item.Doc.Version = snapshot.Version
	item.Doc.SetConfidence(item.Doc.Confidence)

	if e.def.Success == "" {
		if !item.Doc.Status.IsFailure() {
			item.Doc.ErrorCode = ""
			item.Doc.ErrorMessage = ""
		}
		return true
	}
	if !item.Doc.Transition(e.def.Success) {
		zap.L().Debug("stage: transition rejected",
			zap.String("stage", e.def.Name),
			zap.String("document_id", snapshot.ID),
			zap.String("from", string(snapshot.Status)),
			zap.String("to", string(e.def.Success)),
		)
		return false
	}
	return true
}

// fail records se on the untouched snapshot.
func (e *Engine) fail(snapshot model.Document, se *model.StageError) *Item {
	d := snapshot
	if e.def.Failure != "" {
		d.Transition(e.def.Failure)
	}
	d.ErrorCode = se.Code
	d.ErrorMessage = truncate(se.Error(), maxErrorMessage)
	return &Item{Doc: d}
}

func (e *Engine) afterApply(ctx context.Context, items []*Item, stale map[string]bool) {
	failed := 0
	for _, it := range items {
		if stale[it.Doc.ID] {
			continue
		}
		for _, fn := range it.afterApply {
			if err := fn(ctx); err != nil {
				failed++
				zap.L().Warn("stage: post-apply hook failed",
					zap.String("stage", e.def.Name),
					zap.String("document_id", it.Doc.ID),
					zap.Error(err),
				)
			}
		}
	}
	if failed > 0 {
		zap.L().Warn("stage: post-apply hooks failed", zap.String("stage", e.def.Name), zap.Int("count", failed))
	}
}

const maxErrorMessage = 500

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
