// Package anthropic is a narrow client over the Anthropic SDK: single-turn
// completions with a cached system prompt, and model listing.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client is the part of the Anthropic API the extractor uses.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Prompt is one single-turn request. Instructions become the system prompt
// and are marked for prompt caching; they repeat across documents. Images
// are sent before Input in the user turn.
type Prompt struct {
	Model        string
	MaxTokens    int64
	Instructions string
	Input        string
	Images       []Image
	Temperature  float64
}

// Image is an inline image such as a rendered PDF page.
type Image struct {
	MediaType string // image/png, image/jpeg, image/gif or image/webp
	Data      []byte
}

// Completion is the text of a response plus its accounting.
type Completion struct {
	ID        string
	Model     string
	Text      string
	Truncated bool // generation hit MaxTokens
	Usage     Usage
}

// Usage counts tokens for one call.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Log records the usage of a call made for documentID.
func (u Usage) Log(model, documentID string) {
	zap.L().Info("anthropic: usage",
		zap.String("model", model),
		zap.String("document_id", documentID),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
	)
}

type sdkClient struct {
	api sdk.Client
}

// NewClient returns a Client for apiKey. An empty baseURL means the public
// API. The SDK's own retries are disabled; callers retry.
func NewClient(apiKey, baseURL string) Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &sdkClient{api: sdk.NewClient(opts...)}
}

func (c *sdkClient) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(p.Images)+1)
	for _, img := range p.Images {
		blocks = append(blocks, sdk.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, sdk.NewTextBlock(p.Input))

	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.Model),
		MaxTokens:   p.MaxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
		Temperature: sdk.Float(p.Temperature),
	}
	if p.Instructions != "" {
		params.System = []sdk.TextBlockParam{{
			Text:         p.Instructions,
			CacheControl: sdk.NewCacheControlEphemeralParam(),
		}}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: complete")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Completion{
		ID:        msg.ID,
		Model:     string(msg.Model),
		Text:      text.String(),
		Truncated: string(msg.StopReason) == "max_tokens",
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}, nil
}

func (c *sdkClient) ListModels(ctx context.Context) ([]string, error) {
	pages := c.api.Models.ListAutoPaging(ctx, sdk.ModelListParams{Limit: sdk.Int(100)})
	var ids []string
	for pages.Next() {
		ids = append(ids, pages.Current().ID)
	}
	if err := pages.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: list models")
	}
	return ids, nil
}

// StatusCode returns the HTTP status of an API error in err's chain, or 0
// when no response was received.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
