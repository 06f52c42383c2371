package ai

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/pkg/anthropic"
)

// anthropicBackend calls the Anthropic Messages API through pkg/anthropic.
type anthropicBackend struct {
	name      string
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropicBackend(name string, cfg config.ProviderConfig) *anthropicBackend {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &anthropicBackend{
		name:      name,
		client:    anthropic.NewClient(cfg.APIKey, cfg.BaseURL),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (b *anthropicBackend) listModels(ctx context.Context) ([]string, error) {
	ids, err := b.client.ListModels(ctx)
	if err != nil {
		return nil, apiError(ctx, b.name, "list models", anthropic.StatusCode(err), err)
	}
	return ids, nil
}

func (b *anthropicBackend) complete(ctx context.Context, req Request) (string, error) {
	images := make([]anthropic.Image, len(req.Images))
	for i, img := range req.Images {
		images[i] = anthropic.Image{MediaType: img.MediaType, Data: img.Data}
	}
	c, err := b.client.Complete(ctx, anthropic.Prompt{
		Model:        b.model,
		MaxTokens:    b.maxTokens,
		Instructions: req.System,
		Input:        req.Prompt,
		Images:       images,
	})
	if err != nil {
		return "", apiError(ctx, b.name, "complete", anthropic.StatusCode(err), err)
	}
	c.Usage.Log(b.model, req.DocumentID)
	if c.Truncated {
		return "", model.DataError(model.CodeAIFailed, eris.Errorf("ai: %s output truncated at %d tokens", b.name, b.maxTokens))
	}
	return c.Text, nil
}
