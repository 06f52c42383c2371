package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/resilience"
)

const (
	mistralEndpoint     = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
)

// Mistral sends whole PDFs to the Mistral OCR API. Page texts come back as
// markdown and are joined in page order with a blank line between pages.
type Mistral struct {
	apiKey   string
	model    string
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewMistral returns a Mistral extractor. An empty model selects the
// latest OCR model.
func NewMistral(apiKey, model string, timeout time.Duration) *Mistral {
	if model == "" {
		model = defaultMistralModel
	}
	return &Mistral{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralEndpoint,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

// ocrDocument carries the PDF inline as a data URL.
type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

func (m *Mistral) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	pdf, err := os.ReadFile(pdfPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", model.DataError(model.CodeArtifactMissing, eris.Wrapf(err, "ocr: read PDF %s", pdfPath))
	}
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read PDF %s", pdfPath)
	}

	body, err := json.Marshal(ocrRequest{
		Model: m.model,
		Document: ocrDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: encode mistral request")
	}

	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.post(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return "", timeoutError(ctx, pdfPath)
		}
		return "", err
	}

	var resp ocrResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", model.TransientError(model.CodeOCREngineInit, eris.Wrap(err, "ocr: decode mistral response"))
	}
	return checkText(joinPages(resp.Pages), pdfPath)
}

// post sends body and returns the response payload of a 200 reply.
func (m *Mistral) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: build mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, model.TransientError(model.CodeOCREngineInit, eris.Wrap(err, "ocr: mistral request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.TransientError(model.CodeOCREngineInit, eris.Wrap(err, "ocr: read mistral response"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mistralStatusError(resp.StatusCode, raw)
	}
	return raw, nil
}

// mistralStatusError classifies a rejected call. Refused credentials are a
// configuration problem; other client errors blame the document.
func mistralStatusError(status int, body []byte) error {
	err := eris.Errorf("ocr: mistral returned %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ConfigError(model.CodeOCREngineInit, err)
	case resilience.RetryableStatus(status) || status >= http.StatusInternalServerError:
		return model.TransientError(model.CodeOCREngineInit, err)
	default:
		return model.DataError(model.CodeOCRCorruptInput, err)
	}
}

func joinPages(pages []ocrPage) string {
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Markdown
	}
	return strings.Join(texts, "\n\n")
}
