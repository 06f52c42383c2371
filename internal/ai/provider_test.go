package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/resilience"
)

// ollamaServer fakes the OpenAI-compatible endpoints of a local server.
type ollamaServer struct {
	models      []string
	reply       string
	status      int
	modelCalls  atomic.Int32
	chatCalls   atomic.Int32
	lastRequest map[string]any
}

func (o *ollamaServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if o.status != 0 {
			w.WriteHeader(o.status)
			w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`)) //nolint:errcheck
			if strings.HasSuffix(r.URL.Path, "/models") {
				o.modelCalls.Add(1)
			} else {
				o.chatCalls.Add(1)
			}
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			o.modelCalls.Add(1)
			data := make([]map[string]any, 0, len(o.models))
			for _, m := range o.models {
				data = append(data, map[string]any{"id": m, "object": "model", "created": 1700000000, "owned_by": "library"})
			}
			json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data}) //nolint:errcheck
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			o.chatCalls.Add(1)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			o.lastRequest = body
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1700000000,
				"model":   body["model"],
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": o.reply},
					"finish_reason": "stop",
				}},
				"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
			})
		default:
			http.NotFound(w, r)
		}
	})
}

func newOllama(t *testing.T, o *ollamaServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(o.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

func openAIConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Kind:          KindOpenAI,
		BaseURL:       baseURL + "/v1/",
		Model:         "llama3.1:8b",
		TimeoutSecs:   5,
		MaxInputChars: 4000,
		MaxTokens:     512,
	}
}

func testProvider(t *testing.T, cfg config.ProviderConfig) *guarded {
	t.Helper()
	p, err := New("primary", cfg)
	require.NoError(t, err)
	g := p.(*guarded)
	g.probeTTL = 0
	g.retry.BaseDelay = time.Millisecond
	g.retry.MaxDelay = time.Millisecond
	return g
}

func TestOpenAI_ProbeAvailable(t *testing.T) {
	o := &ollamaServer{models: []string{"llama3.1:8b", "llava:latest"}}
	srv := newOllama(t, o)

	cfg := openAIConfig(srv.URL)
	cfg.RequiredModels = []string{"llava"}
	p := testProvider(t, cfg)

	a := p.Probe(context.Background())
	assert.True(t, a.OK(), a.Reason)
	assert.Equal(t, "primary", a.Provider)
	assert.Equal(t, []string{"llama3.1:8b", "llava:latest"}, a.Models)
	assert.Empty(t, a.Missing)
	assert.Equal(t, 4000, p.MaxInputChars())
}

func TestOpenAI_ProbeMissingModel(t *testing.T) {
	o := &ollamaServer{models: []string{"mistral:7b"}}
	srv := newOllama(t, o)

	cfg := openAIConfig(srv.URL)
	cfg.RequiredModels = []string{"llava:13b"}
	a := testProvider(t, cfg).Probe(context.Background())
	assert.True(t, a.Reachable)
	assert.False(t, a.OK())
	assert.Equal(t, []string{"llama3.1:8b", "llava:13b"}, a.Missing)
	assert.Contains(t, a.Reason, "missing models")
}

func TestOpenAI_ProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := testProvider(t, openAIConfig(url)).Probe(context.Background())
	assert.False(t, a.Reachable)
	assert.False(t, a.OK())
	assert.NotEmpty(t, a.Reason)
}

func TestProbe_OpenCircuitSkipsNetwork(t *testing.T) {
	o := &ollamaServer{status: http.StatusServiceUnavailable}
	srv := newOllama(t, o)
	p := testProvider(t, openAIConfig(srv.URL))

	for i := 0; i < 3; i++ {
		assert.False(t, p.Probe(context.Background()).Reachable)
	}
	require.Equal(t, int32(3), o.modelCalls.Load())

	a := p.Probe(context.Background())
	assert.False(t, a.Reachable)
	assert.Equal(t, "circuit open", a.Reason)
	assert.Equal(t, int32(3), o.modelCalls.Load())

	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, model.CodeAIUnavailable, model.CodeOf(err))
	assert.Equal(t, int32(0), o.chatCalls.Load())
}

func TestProbe_CachesResult(t *testing.T) {
	o := &ollamaServer{models: []string{"llama3.1:8b"}}
	srv := newOllama(t, o)
	p := testProvider(t, openAIConfig(srv.URL))
	p.probeTTL = time.Minute

	now := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Probe(context.Background())
	p.Probe(context.Background())
	assert.Equal(t, int32(1), o.modelCalls.Load())

	now = now.Add(2 * time.Minute)
	p.Probe(context.Background())
	assert.Equal(t, int32(2), o.modelCalls.Load())
}

func TestOpenAI_Complete(t *testing.T) {
	o := &ollamaServer{reply: "Article 1er : texte corrigé."}
	srv := newOllama(t, o)
	p := testProvider(t, openAIConfig(srv.URL))

	out, err := p.Complete(context.Background(), Request{DocumentID: "loi-2024-15", System: "Corrige.", Prompt: "Artic1e 1er"})
	require.NoError(t, err)
	assert.Equal(t, "Article 1er : texte corrigé.", out)

	assert.Equal(t, "llama3.1:8b", o.lastRequest["model"])
	assert.Equal(t, float64(0), o.lastRequest["temperature"])
	msgs, ok := o.lastRequest["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestOpenAI_CompleteWithImages(t *testing.T) {
	o := &ollamaServer{reply: `{"articles":[]}`}
	srv := newOllama(t, o)
	cfg := openAIConfig(srv.URL)
	cfg.Vision = true
	p := testProvider(t, cfg)
	assert.True(t, p.Vision())

	_, err := p.Complete(context.Background(), Request{
		Prompt: "Pages 1 to 1 of 1.",
		Images: []Image{{MediaType: "image/png", Data: []byte("page 1")}},
	})
	require.NoError(t, err)

	msgs := o.lastRequest["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	image := parts[0].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, "data:image/png;base64,cGFnZSAx", image["image_url"].(map[string]any)["url"])
	assert.Equal(t, "text", parts[1].(map[string]any)["type"])
	assert.Equal(t, "Pages 1 to 1 of 1.", parts[1].(map[string]any)["text"])
}

func TestComplete_ImagesRequireVision(t *testing.T) {
	o := &ollamaServer{reply: "ok"}
	srv := newOllama(t, o)
	p := testProvider(t, openAIConfig(srv.URL))
	assert.False(t, p.Vision())

	_, err := p.Complete(context.Background(), Request{Prompt: "x", Images: []Image{{MediaType: "image/png", Data: []byte("png")}}})
	require.Error(t, err)
	assert.Equal(t, model.KindConfig, model.KindOf(err))
	assert.Zero(t, o.chatCalls.Load())
}

func TestOpenAI_CompleteEmptyOutput(t *testing.T) {
	o := &ollamaServer{reply: "  "}
	srv := newOllama(t, o)

	_, err := testProvider(t, openAIConfig(srv.URL)).Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, model.CodeAIFailed, model.CodeOf(err))
	assert.Equal(t, model.KindData, model.KindOf(err))
}

func TestOpenAI_CompleteStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      model.ErrorKind
		code      string
		wantCalls int32
	}{
		{http.StatusServiceUnavailable, model.KindTransient, model.CodeAIUnavailable, 2},
		{http.StatusTooManyRequests, model.KindTransient, model.CodeAIUnavailable, 2},
		{http.StatusBadRequest, model.KindData, model.CodeAIFailed, 1},
		{http.StatusUnauthorized, model.KindConfig, model.CodeAIUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			o := &ollamaServer{status: tt.status}
			srv := newOllama(t, o)

			_, err := testProvider(t, openAIConfig(srv.URL)).Complete(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))
			assert.Equal(t, tt.code, model.CodeOf(err))
			assert.Equal(t, tt.wantCalls, o.chatCalls.Load())
		})
	}
}

func TestAnthropic_ProbeAndComplete(t *testing.T) {
	var system []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"data": []map[string]any{
					{"id": "claude-haiku-4-5-20251001", "type": "model", "display_name": "Haiku", "created_at": "2025-10-01T00:00:00Z"},
				},
				"has_more": false,
				"first_id": "claude-haiku-4-5-20251001",
				"last_id":  "claude-haiku-4-5-20251001",
			})
		case strings.HasSuffix(r.URL.Path, "/messages"):
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			system, _ = body["system"].([]any)
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"id":            "msg_1",
				"type":          "message",
				"role":          "assistant",
				"model":         "claude-haiku-4-5-20251001",
				"content":       []map[string]any{{"type": "text", "text": `{"articles":[]}`}},
				"stop_reason":   "end_turn",
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 100, "output_tokens": 10},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := testProvider(t, config.ProviderConfig{
		Kind:    KindAnthropic,
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "claude-haiku-4-5-20251001",
	})

	a := p.Probe(context.Background())
	assert.True(t, a.OK(), a.Reason)

	out, err := p.Complete(context.Background(), Request{DocumentID: "decret-2019-7", System: "Extrais.", Prompt: "texte"})
	require.NoError(t, err)
	assert.Equal(t, `{"articles":[]}`, out)
	require.Len(t, system, 1)
	assert.Contains(t, system[0], "cache_control")
}

func TestAnthropic_TruncatedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-haiku-4-5-20251001",
			"content":     []map[string]any{{"type": "text", "text": `{"articles":[`}},
			"stop_reason": "max_tokens",
			"usage":       map[string]any{"input_tokens": 100, "output_tokens": 16},
		})
	}))
	defer srv.Close()

	p := testProvider(t, config.ProviderConfig{Kind: KindAnthropic, BaseURL: srv.URL, APIKey: "k", Model: "claude-haiku-4-5-20251001", MaxTokens: 16})
	_, err := p.Complete(context.Background(), Request{Prompt: "texte"})
	require.Error(t, err)
	assert.Equal(t, model.CodeAIFailed, model.CodeOf(err))
	assert.Contains(t, err.Error(), "truncated")
}

func TestNew_Errors(t *testing.T) {
	_, err := New("secondary", config.ProviderConfig{Kind: KindAnthropic})
	require.Error(t, err)
	assert.True(t, model.IsConfig(err))

	_, err = New("primary", config.ProviderConfig{Kind: "gemini"})
	require.Error(t, err)
	assert.True(t, model.IsConfig(err))
	assert.Contains(t, err.Error(), "unsupported provider kind")
}

func TestFromConfig(t *testing.T) {
	providers, err := FromConfig(config.AIConfig{
		Primary:   config.ProviderConfig{Kind: KindOpenAI, BaseURL: "http://localhost:11434/v1", Model: "llama3.1:8b"},
		Secondary: config.ProviderConfig{Kind: KindAnthropic, Model: "claude-haiku-4-5-20251001"},
	})
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "primary", providers[0].Name())

	providers, err = FromConfig(config.AIConfig{
		Primary:   config.ProviderConfig{Kind: "none"},
		Secondary: config.ProviderConfig{Kind: KindAnthropic, APIKey: "k"},
	})
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "secondary", providers[0].Name())

	_, err = FromConfig(config.AIConfig{Primary: config.ProviderConfig{Kind: "gemini"}})
	assert.Error(t, err)
}

func TestMissingModels(t *testing.T) {
	installed := []string{"llama3.1:8b", "llava:latest", "mistral:7b-instruct"}
	assert.Empty(t, missingModels([]string{"llama3.1:8b", "llava"}, installed))
	assert.Equal(t, []string{"mistral"}, missingModels([]string{"mistral"}, installed))
	assert.Equal(t, []string{"llava:13b"}, missingModels([]string{"llava:13b"}, installed))
	assert.Empty(t, missingModels(nil, installed))
}

func TestAPIError(t *testing.T) {
	ctx := context.Background()
	base := assert.AnError

	assert.Equal(t, model.KindTransient, model.KindOf(apiError(ctx, "p", "op", 0, base)))
	assert.Equal(t, model.KindTransient, model.KindOf(apiError(ctx, "p", "op", http.StatusBadGateway, base)))
	assert.Equal(t, model.KindConfig, model.KindOf(apiError(ctx, "p", "op", http.StatusForbidden, base)))
	assert.Equal(t, model.CodeAIFailed, model.CodeOf(apiError(ctx, "p", "op", http.StatusNotFound, base)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := apiError(cancelled, "p", "op", http.StatusBadRequest, base)
	assert.Equal(t, model.KindTransient, model.KindOf(err))
	assert.True(t, resilience.IsTransient(err))
}
