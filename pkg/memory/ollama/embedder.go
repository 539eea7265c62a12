// Package ollama provides a memory.Embedder backed by a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/resilience"
)

const (
	// DefaultModel is used when no embedding model is configured.
	DefaultModel = "nomic-embed-text"
	// DefaultBaseURL is the local Ollama server.
	DefaultBaseURL = "http://localhost:11434"
)

// Embedder embeds memory texts with Ollama's /api/embed endpoint.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
	retry   resilience.RetryConfig
}

// NewEmbedder creates an embedder for model at baseURL. Empty values take
// the defaults.
func NewEmbedder(baseURL, model string) *Embedder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for text. Server errors and 429s are retried once.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode embed request", err)
	}
	return resilience.DoValue(ctx, e.retry, func(ctx context.Context) ([]float32, error) {
		return e.embed(ctx, body)
	})
}

func (e *Embedder) embed(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "ollama embed request failed", err).WithRecoverable(ctx.Err() == nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resilience.StatusError("ollama", resp, msg).WithContext("model", e.model)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(errors.CodeToolFailure, "decode embed response", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, errors.New(errors.CodeToolFailure, "ollama returned an empty embedding", nil).WithContext("model", e.model)
	}
	return out.Embeddings[0], nil
}
