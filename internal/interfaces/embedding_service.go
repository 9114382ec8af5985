package interfaces

import (
	"context"

	"github.com/ternarybob/codewiki/internal/models"
)

// EmbeddingClient generates embedding vectors for text batches.
type EmbeddingClient interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the backend ("openai", "google", "ollama").
	Name() string

	// LargeContext reports whether the backend accepts large inputs.
	// It controls the per-chunk token budget during splitting.
	LargeContext() bool
}

// EmbeddingService embeds code chunks with provider fallback applied.
type EmbeddingService interface {
	// EmbedChunks fills Embedding on each chunk. Chunks whose vectors
	// remain empty after retries are dropped from the returned slice.
	EmbedChunks(ctx context.Context, chunks []*models.CodeChunk) ([]*models.CodeChunk, error)

	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// ActiveEmbedder reports which backend is currently serving requests.
	ActiveEmbedder() string

	// LargeContext reports the active backend's context size class.
	LargeContext() bool
}
