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

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint,
// failing over through the endpoint pool on rate limits and failures.
type OpenAIEmbedder struct {
	pool       *EndpointPool
	model      string
	dimension  int
	httpClient *http.Client
	logger     arbor.ILogger
}

func NewOpenAIEmbedder(pool *EndpointPool, model string, dimension int, logger arbor.ILogger) *OpenAIEmbedder {
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	return &OpenAIEmbedder{
		pool:       pool,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
	}
}

func (e *OpenAIEmbedder) Name() string { return "openai" }

// LargeContext is true for the OpenAI embedding family, which accepts
// inputs well past the small-model budget.
func (e *OpenAIEmbedder) LargeContext() bool { return true }

type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(openAIEmbeddingRequest{
		Model:      e.model,
		Input:      texts,
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	budget := e.pool.AttemptBudget()
	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		endpoint, err := e.pool.Next()
		if err != nil {
			return nil, err
		}

		vectors, err := e.callEndpoint(ctx, endpoint, payload, len(texts))
		if err == nil {
			e.pool.ReportSuccess(endpoint)
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", budget, lastErr)
}

// endpointURL builds the request URL, honoring the endpoint's use_v1
// and api_version settings.
func endpointURL(endpoint *Endpoint) string {
	base := strings.TrimRight(endpoint.URL, "/")
	if endpoint.UseV1 && !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	url := base + "/embeddings"
	if endpoint.APIVersion != "" {
		url += "?api-version=" + endpoint.APIVersion
	}
	return url
}

func (e *OpenAIEmbedder) callEndpoint(ctx context.Context, endpoint *Endpoint, payload []byte, count int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(endpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.pool.ReportFailure(endpoint)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		e.pool.ReportRateLimit(endpoint, resp)
		return nil, fmt.Errorf("embedding endpoint rate limited: %s", endpoint.URL)
	}
	if resp.StatusCode != http.StatusOK {
		e.pool.ReportFailure(endpoint)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		e.pool.ReportFailure(endpoint)
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	// Responses carry an index per vector; order by it.
	vectors := make([][]float32, count)
	for _, item := range parsed.Data {
		if item.Index >= 0 && item.Index < count {
			vectors[item.Index] = item.Embedding
		}
	}
	return vectors, nil
}
