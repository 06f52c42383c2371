// Package ai defines the AI provider contract used by the extraction
// orchestrator and implements it for Anthropic and OpenAI-compatible servers.
package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/resilience"
)

// Provider kinds accepted in configuration.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
)

const (
	defaultTimeout  = 120 * time.Second
	maxProbeTimeout = 15 * time.Second
	defaultProbeTTL = 30 * time.Second
)

// Request is one completion call. Images are only sent to providers that
// report Vision.
type Request struct {
	DocumentID string
	System     string
	Prompt     string
	Images     []Image
}

// Image is an inline image attached to a request, typically a rendered page.
type Image struct {
	MediaType string
	Data      []byte
}

// Availability is the outcome of a provider probe.
type Availability struct {
	Provider  string
	Reachable bool
	Models    []string
	Missing   []string
	Reason    string
}

// OK reports whether the provider can take work.
func (a Availability) OK() bool {
	return a.Reachable && len(a.Missing) == 0
}

// Provider is an AI backend the orchestrator can probe and call. Probe never
// returns an error: unreachable providers report Reachable=false.
type Provider interface {
	Name() string
	MaxInputChars() int
	Vision() bool
	Probe(ctx context.Context) Availability
	Complete(ctx context.Context, req Request) (string, error)
}

// backend is the raw API surface of one provider kind. Errors returned here
// are already classified StageErrors.
type backend interface {
	listModels(ctx context.Context) ([]string, error)
	complete(ctx context.Context, req Request) (string, error)
}

// New builds the provider described by cfg.
func New(name string, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case KindAnthropic:
		if cfg.APIKey == "" {
			return nil, model.ConfigError(model.CodeAIUnavailable, eris.Errorf("ai: %s provider requires an api key", name))
		}
		return newGuarded(name, cfg, newAnthropicBackend(name, cfg)), nil
	case KindOpenAI:
		return newGuarded(name, cfg, newOpenAIBackend(name, cfg)), nil
	default:
		return nil, model.ConfigError(model.CodeAIUnavailable, eris.Errorf("ai: unsupported provider kind %q for %s", cfg.Kind, name))
	}
}

// FromConfig builds the enabled providers in preference order: primary
// first, then secondary. An Anthropic block without a key is skipped with a
// warning so an offline install still runs on the pattern parser.
func FromConfig(cfg config.AIConfig) ([]Provider, error) {
	var out []Provider
	for _, slot := range []struct {
		name string
		cfg  config.ProviderConfig
	}{
		{"primary", cfg.Primary},
		{"secondary", cfg.Secondary},
	} {
		if !slot.cfg.Enabled() {
			continue
		}
		if slot.cfg.Kind == KindAnthropic && slot.cfg.APIKey == "" {
			zap.L().Warn("ai: provider disabled, no api key", zap.String("provider", slot.name))
			continue
		}
		p, err := New(slot.name, slot.cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// guarded wraps a backend with rate limiting, circuit breaking, retries,
// per-call timeouts and probe caching.
type guarded struct {
	name     string
	cfg      config.ProviderConfig
	backend  backend
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	retry    resilience.Policy
	timeout  time.Duration
	probeTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	last     *Availability
	lastTime time.Time
}

func newGuarded(name string, cfg config.ProviderConfig, b backend) *guarded {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	return &guarded{
		name:     name,
		cfg:      cfg,
		backend:  b,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  resilience.ProviderBreaker("ai." + name),
		retry:    resilience.ProviderPolicy("ai." + name),
		timeout:  timeout,
		probeTTL: defaultProbeTTL,
		now:      time.Now,
	}
}

func (g *guarded) Name() string { return g.name }

func (g *guarded) MaxInputChars() int { return g.cfg.MaxInputChars }

func (g *guarded) Vision() bool { return g.cfg.Vision }

// Probe reports availability, reusing a recent result for probeTTL.
func (g *guarded) Probe(ctx context.Context) Availability {
	g.mu.Lock()
	if g.last != nil && g.now().Sub(g.lastTime) < g.probeTTL {
		a := *g.last
		g.mu.Unlock()
		return a
	}
	g.mu.Unlock()

	a := g.probe(ctx)

	g.mu.Lock()
	g.last = &a
	g.lastTime = g.now()
	g.mu.Unlock()

	zap.L().Debug("ai: probe",
		zap.String("provider", g.name),
		zap.Bool("reachable", a.Reachable),
		zap.Strings("missing", a.Missing),
		zap.String("reason", a.Reason),
	)
	return a
}

func (g *guarded) probe(ctx context.Context) Availability {
	a := Availability{Provider: g.name}
	if g.breaker.Open() {
		a.Reason = "circuit open"
		return a
	}

	timeout := min(g.timeout, maxProbeTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	models, err := resilience.Guard(ctx, g.breaker, g.backend.listModels)
	if err != nil {
		a.Reason = err.Error()
		return a
	}
	a.Reachable = true
	a.Models = models
	a.Missing = missingModels(g.required(), models)
	if len(a.Missing) > 0 {
		a.Reason = "missing models: " + strings.Join(a.Missing, ", ")
	}
	return a
}

// required lists the configured model plus any extra required models.
func (g *guarded) required() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range append([]string{g.cfg.Model}, g.cfg.RequiredModels...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Complete runs one completion under the provider's rate limit and breaker.
func (g *guarded) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Images) > 0 && !g.cfg.Vision {
		return "", model.ConfigError(model.CodeAIUnavailable, eris.Errorf("ai: %s does not accept images", g.name))
	}
	if g.breaker.Open() {
		return "", model.TransientError(model.CodeAIUnavailable, eris.Errorf("ai: %s circuit open", g.name))
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", model.TransientError(model.CodeAIUnavailable, eris.Wrapf(err, "ai: %s rate limit wait", g.name))
	}

	out, err := resilience.RetryValue(ctx, g.retry, func(ctx context.Context) (string, error) {
		return resilience.Guard(ctx, g.breaker, func(ctx context.Context) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return g.backend.complete(callCtx, req)
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return "", model.TransientError(model.CodeAIUnavailable, eris.Wrapf(err, "ai: %s", g.name))
		}
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", model.DataError(model.CodeAIFailed, eris.Errorf("ai: %s returned empty output", g.name))
	}
	return out, nil
}

// missingModels returns the required models absent from installed. An
// untagged requirement also matches its ":latest" tag.
func missingModels(required, installed []string) []string {
	have := make(map[string]bool, len(installed))
	for _, m := range installed {
		have[m] = true
	}
	var missing []string
	for _, m := range required {
		if have[m] {
			continue
		}
		if !strings.Contains(m, ":") && have[m+":latest"] {
			continue
		}
		missing = append(missing, m)
	}
	return missing
}

// apiError classifies a failed API call by HTTP status. Status 0 means no
// response was received.
func apiError(ctx context.Context, name, op string, status int, err error) error {
	wrapped := eris.Wrapf(err, "ai: %s %s", name, op)
	switch {
	case ctx.Err() != nil || status == 0:
		return model.TransientError(model.CodeAIUnavailable, wrapped)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ConfigError(model.CodeAIUnavailable, wrapped)
	case resilience.RetryableStatus(status):
		return model.TransientError(model.CodeAIUnavailable, wrapped)
	default:
		return model.DataError(model.CodeAIFailed, wrapped)
	}
}
