package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fenwick/mnemon/internal/apperr"
)

// RemoteDims is the default dimension of the remote provider
// (text-embedding-3-small).
const RemoteDims = 1536

// Remote embeds text through an OpenAI-compatible /embeddings endpoint.
type Remote struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// NewRemote creates a remote provider. Zero values fall back to the
// OpenAI API, text-embedding-3-small, 1536 dims, 30s timeout.
func NewRemote(baseURL, apiKey, model string, dims int, timeout time.Duration) *Remote {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims <= 0 {
		dims = RemoteDims
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Model() string { return "remote/" + r.model }
func (r *Remote) Dims() int     { return r.dims }

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed embeds a single text.
func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one API call. The API is deterministic per
// input, so batching yields the same vectors as per-item calls.
func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Input: texts, Model: r.model})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", apperr.ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", apperr.ErrProviderAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, b)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(result.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding: vector index %d out of range", d.Index)
		}
		if len(d.Embedding) != r.dims {
			return nil, fmt.Errorf("%w: provider returned %d dims, expected %d",
				apperr.ErrDimensionMismatch, len(d.Embedding), r.dims)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
