// Package stages defines the concrete pipeline stages and runs them through
// the stage engine.
package stages

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/ai"
	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/fetcher"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/ocr"
	"github.com/sells-group/lawdoc-cli/internal/raster"
	"github.com/sells-group/lawdoc-cli/internal/stage"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

// All selects every stage in pipeline order.
const All = "all"

// Builder constructs a stage definition. A returned error stops the stage
// before it claims any work.
type Builder func(ctx context.Context) (stage.Definition, error)

// Env holds the collaborators stages are built from. Nil collaborators are
// created from Config on first use.
type Env struct {
	Config    *config.Config
	Store     store.Store
	Fetcher   fetcher.Fetcher
	OCR       ocr.Extractor
	Raster    raster.Rasterizer
	Providers []ai.Provider

	once         sync.Once
	providersErr error
}

// Layout returns the artifact layout.
func (e *Env) Layout() artifact.Layout {
	return artifact.NewLayout(e.Config.Paths)
}

func (e *Env) fetcher() fetcher.Fetcher {
	if e.Fetcher == nil {
		e.Fetcher = fetcher.New(e.Config.Fetch)
	}
	return e.Fetcher
}

func (e *Env) ocr() (ocr.Extractor, error) {
	if e.OCR == nil {
		x, err := ocr.NewExtractor(e.Config.OCR)
		if err != nil {
			return nil, err
		}
		e.OCR = x
	}
	return e.OCR, nil
}

func (e *Env) raster() raster.Rasterizer {
	if e.Raster == nil {
		e.Raster = raster.NewPdfToPpm(e.Config.Raster)
	}
	return e.Raster
}

func (e *Env) providers() ([]ai.Provider, error) {
	e.once.Do(func() {
		if e.Providers != nil {
			return
		}
		e.Providers, e.providersErr = ai.FromConfig(e.Config.AI)
	})
	return e.Providers, e.providersErr
}

// Registry maps stage names to builders.
type Registry struct {
	builders map[string]Builder
	order    []string // pipeline order
}

// NewRegistry creates a registry holding every pipeline stage.
func NewRegistry(env *Env) *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register(NameFetch, func(context.Context) (stage.Definition, error) { return Fetch(env.fetcher()), nil })
	r.Register(NameDownload, func(context.Context) (stage.Definition, error) {
		return Download(env.fetcher(), env.Layout()), nil
	})
	r.Register(NameOCR, func(context.Context) (stage.Definition, error) {
		x, err := env.ocr()
		if err != nil {
			return stage.Definition{}, err
		}
		return OCR(x, env.Layout()), nil
	})
	r.Register(NameImages, func(context.Context) (stage.Definition, error) {
		return Images(env.raster(), env.Layout()), nil
	})
	r.Register(NameCorrect, func(ctx context.Context) (stage.Definition, error) {
		eng, err := LoadCorrectionEngine(ctx, env.Store, env.Config.Correction)
		if err != nil {
			return stage.Definition{}, err
		}
		return Correct(eng, env.Store, env.Layout()), nil
	})
	r.Register(NameExtract, func(ctx context.Context) (stage.Definition, error) {
		orch, err := newOrchestrator(env)
		if err != nil {
			return stage.Definition{}, err
		}
		return Extract(orch, env.Store, env.Layout()), nil
	})
	r.Register(NameEnrich, func(ctx context.Context) (stage.Definition, error) {
		orch, err := newOrchestrator(env)
		if err != nil {
			return stage.Definition{}, err
		}
		return Enrich(orch, env.Store, env.Layout(), env.Config.Orchestrator.EnrichBelow), nil
	})
	r.Register(NameConsolidate, func(context.Context) (stage.Definition, error) { return Consolidate(), nil })
	return r
}

// Register adds a stage. Registering a name twice replaces the builder and
// keeps the original position.
func (r *Registry) Register(name string, b Builder) {
	if _, ok := r.builders[name]; !ok {
		r.order = append(r.order, name)
	}
	r.builders[name] = b
}

// Get returns the builder for name.
func (r *Registry) Get(name string) (Builder, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, eris.Errorf("stages: unknown stage %q", name)
	}
	return b, nil
}

// Names lists the registered stages in pipeline order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Select resolves a stage name, or All, to the stages to run.
func (r *Registry) Select(name string) ([]string, error) {
	if name == All {
		return r.Names(), nil
	}
	if _, err := r.Get(name); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// Run executes the selected stages in order through the stage engine and
// stops at the first stage that returns an error.
func Run(ctx context.Context, r *Registry, st store.Store, cfg config.StageConfig, name string, opts stage.RunOptions) ([]stage.Report, error) {
	names, err := r.Select(name)
	if err != nil {
		return nil, err
	}

	var reports []stage.Report
	for _, n := range names {
		b, _ := r.Get(n)
		def, err := b(ctx)
		if err != nil {
			if !model.IsConfig(err) {
				err = model.ConfigError(model.CodeInternal, err)
			}
			zap.L().Error("stages: stage not started", zap.String("stage", n), zap.Error(err))
			return reports, eris.Wrapf(err, "stages: build %s", n)
		}
		eng, err := stage.New(def, st, cfg)
		if err != nil {
			return reports, err
		}
		rep, err := eng.Run(ctx, opts)
		reports = append(reports, rep)
		if err != nil {
			return reports, eris.Wrapf(err, "stages: run %s", n)
		}
	}
	return reports, nil
}
