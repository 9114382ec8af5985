package embeddings

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

const defaultGoogleEmbeddingModel = "gemini-embedding-001"

// GoogleEmbedder generates vectors through the Gemini embedding API.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
	logger    arbor.ILogger
}

func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dimension int, logger arbor.ILogger) (*GoogleEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google embedder requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGoogleEmbeddingModel
	}
	return &GoogleEmbedder{
		client:    client,
		model:     model,
		dimension: int32(dimension),
		logger:    logger,
	}, nil
}

func (e *GoogleEmbedder) Name() string { return "google" }

func (e *GoogleEmbedder) LargeContext() bool { return false }

func (e *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	config := &genai.EmbedContentConfig{}
	if e.dimension > 0 {
		config.OutputDimensionality = &e.dimension
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range result.Embeddings {
		vectors[i] = embedding.Values
	}
	return vectors, nil
}
