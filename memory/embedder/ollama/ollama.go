// Package ollama provides an embedder backed by a local Ollama daemon.
// Any embedding-capable model works; nomic-embed-text and all-minilm are
// common choices.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// DefaultBaseURL is the Ollama daemon's default address.
const DefaultBaseURL = "http://localhost:11434"

// Embedder calls the Ollama embed API.
type Embedder struct {
	client     *ollama.Client
	model      string
	dimensions int
}

// New creates an Ollama embedder. dims must match the chosen model's output
// size (768 for nomic-embed-text, 384 for all-minilm); the engine rejects
// vectors of any other length. An empty baseURL falls back to
// DefaultBaseURL.
func New(model, baseURL string, dims int) (*Embedder, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// Model inference can be slow on first load; give it room.
	hc := &http.Client{Timeout: 120 * time.Second}

	return &Embedder{
		client:     ollama.NewClient(parsedURL, hc),
		model:      model,
		dimensions: dims,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("get embeddings from ollama: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0], nil
}

// EmbedBatch generates embeddings for a batch of texts in one call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("get batch embeddings from ollama: %w", err)
	}
	return resp.Embeddings, nil
}

// Dimensions returns the configured embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
