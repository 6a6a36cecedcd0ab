package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
)

// Provider maps text to fixed-width float vectors. The only implementation
// here talks to an OpenAI-compatible embeddings endpoint; the extraction LLM
// pipeline itself stays out of scope (spec ), so this is modeled as a
// narrow contract rather than a vendored SDK.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// HTTPProvider implements Provider against an OpenAI-compatible /embeddings endpoint.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// NewHTTPProvider builds a provider. apiKey is a fatal startup condition for
// writes when empty — callers check that before wiring this in.
func NewHTTPProvider(baseURL, apiKey, model string, dimensions int) *HTTPProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) Dimensions() int { return p.dimensions }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch calls the provider once for the whole slice, preserving input order.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingsRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindExternal, "embedding provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apierr.Newf(apierr.KindExternal, "embedding provider returned %d: %s", resp.StatusCode, string(payload))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apierr.Wrap(apierr.KindExternal, "failed to decode embedding response", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, apierr.Newf(apierr.KindExternal, "embedding provider returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, apierr.Newf(apierr.KindExternal, "embedding provider omitted result for input %d", i)
		}
	}
	return out, nil
}

var _ Provider = (*HTTPProvider)(nil)
