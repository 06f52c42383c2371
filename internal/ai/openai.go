package ai

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// localAPIKey is sent to OpenAI-compatible local servers, which ignore it.
const localAPIKey = "local"

// openAIBackend calls an OpenAI-compatible chat completions endpoint, such
// as a local Ollama or llama.cpp server.
type openAIBackend struct {
	name      string
	client    openai.Client
	model     string
	maxTokens int64
}

func newOpenAIBackend(name string, cfg config.ProviderConfig) *openAIBackend {
	key := cfg.APIKey
	if key == "" {
		key = localAPIKey
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIBackend{
		name:      name,
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (b *openAIBackend) listModels(ctx context.Context) ([]string, error) {
	page, err := b.client.Models.List(ctx)
	if err != nil {
		return nil, apiError(ctx, b.name, "list models", openAIStatus(err), err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (b *openAIBackend) complete(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, userMessage(req))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(b.model),
		Messages:    messages,
		Temperature: openai.Float(0),
	}
	if b.maxTokens > 0 {
		params.MaxTokens = openai.Int(b.maxTokens)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", apiError(ctx, b.name, "complete", openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", model.DataError(model.CodeAIFailed, eris.Errorf("ai: %s returned no choices", b.name))
	}

	zap.L().Debug("ai: completion usage",
		zap.String("provider", b.name),
		zap.String("model", b.model),
		zap.String("document_id", req.DocumentID),
		zap.Int64("input_tokens", resp.Usage.PromptTokens),
		zap.Int64("output_tokens", resp.Usage.CompletionTokens),
	)

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return "", model.DataError(model.CodeAIFailed, eris.Errorf("ai: %s output truncated at %d tokens", b.name, b.maxTokens))
	}
	return choice.Message.Content, nil
}

// userMessage sends images as data URL parts ahead of the prompt text.
func userMessage(req Request) openai.ChatCompletionMessageParamUnion {
	if len(req.Images) == 0 {
		return openai.UserMessage(req.Prompt)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		}))
	}
	parts = append(parts, openai.TextContentPart(req.Prompt))
	return openai.UserMessage(parts)
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
