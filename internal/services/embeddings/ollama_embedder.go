package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	defaultOllamaHost           = "http://localhost:11434"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

// OllamaEmbedder generates vectors from a local Ollama server.
type OllamaEmbedder struct {
	host       string
	model      string
	httpClient *http.Client
	logger     arbor.ILogger
}

func NewOllamaEmbedder(host, model string, logger arbor.ILogger) *OllamaEmbedder {
	if host == "" {
		host = defaultOllamaHost
	}
	if model == "" {
		model = defaultOllamaEmbeddingModel
	}
	return &OllamaEmbedder{
		host:       host,
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
}

func (e *OllamaEmbedder) Name() string { return "ollama" }

func (e *OllamaEmbedder) LargeContext() bool { return false }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	url := strings.TrimRight(e.host, "/") + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ollama embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", parsed.Error)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}
