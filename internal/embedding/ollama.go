package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaEngine embeds text through a local Ollama server's /api/embeddings
// endpoint. Dimensionality comes from config so a misconfigured model is
// rejected at embed time instead of corrupting the store.
type OllamaEngine struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// NewOllamaEngine builds an Ollama engine from config, filling in defaults
// for anything unset.
func NewOllamaEngine(cfg Config) (*OllamaEngine, error) {
	endpoint := cfg.OllamaEndpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	model := cfg.OllamaModel
	if model == "" {
		model = "embeddinggemma"
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 768
	}

	return &OllamaEngine{
		endpoint: endpoint,
		model:    model,
		dims:     dims,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed generates an embedding for a single text and validates its
// dimensionality against the configured engine dimensions.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embed: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, string(body))
	}

	var decoded ollamaEmbedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("ollama embed: decoding response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("ollama embed: %s", decoded.Error)
	}
	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: model %s returned no embedding", e.model)
	}
	if len(decoded.Embedding) != e.dims {
		return nil, fmt.Errorf("ollama embed: model %s produced %d dimensions, engine configured for %d",
			e.model, len(decoded.Embedding), e.dims)
	}
	return decoded.Embedding, nil
}

// EmbedBatch embeds texts one at a time; the endpoint has no batch form.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured embedding dimensionality.
func (e *OllamaEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *OllamaEngine) Name() string {
	return fmt.Sprintf("ollama:%s", e.model)
}
