package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

const defaultBatchSize = 32

// emptyVectorRetryDelays paces reattempts for chunks whose vectors came
// back empty before they are dropped.
var emptyVectorRetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Embedder runs the fallback chain over the configured embedding
// backends. A backend that fails at call time demotes itself for the
// rest of the run.
type Embedder struct {
	mu        sync.Mutex
	clients   []interfaces.EmbeddingClient
	active    int
	batchSize int
	logger    arbor.ILogger
}

// NewEmbedder builds the chain in configured order. Backends that
// cannot initialize (missing keys) are skipped with a log line.
func NewEmbedder(ctx context.Context, config *common.EmbeddingsConfig, googleAPIKey, openAIKey string, logger arbor.ILogger) (*Embedder, error) {
	chain := config.Chain
	if len(chain) == 0 {
		chain = []string{"openai", "google", "ollama"}
	}

	var clients []interfaces.EmbeddingClient
	for _, name := range chain {
		switch name {
		case "openai":
			pool, err := NewEndpointPool(config.EndpointsFile, "https://api.openai.com/v1", openAIKey, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("Skipping openai embedder")
				continue
			}
			clients = append(clients, NewOpenAIEmbedder(pool, config.OpenAIModel, config.Dimension, logger))
		case "google":
			client, err := NewGoogleEmbedder(ctx, googleAPIKey, config.GoogleModel, config.Dimension, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("Skipping google embedder")
				continue
			}
			clients = append(clients, client)
		case "ollama":
			clients = append(clients, NewOllamaEmbedder("", config.OllamaModel, logger))
		default:
			logger.Warn().Str("embedder", name).Msg("Unknown embedder in chain")
		}
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no embedding backends available")
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger.Info().Str("active", clients[0].Name()).Int("chain", len(clients)).Msg("Embedder chain initialized")
	return &Embedder{clients: clients, batchSize: batchSize, logger: logger}, nil
}

// ActiveEmbedder reports which backend currently serves requests.
func (e *Embedder) ActiveEmbedder() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clients[e.active].Name()
}

func (e *Embedder) LargeContext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clients[e.active].LargeContext()
}

// embed tries the active backend, falling through the rest of the
// chain on error. A successful fallback becomes the new active backend.
func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	start := e.active
	e.mu.Unlock()

	var lastErr error
	for i := start; i < len(e.clients); i++ {
		vectors, err := e.clients[i].Embed(ctx, texts)
		if err == nil {
			if i != start {
				e.mu.Lock()
				e.active = i
				e.mu.Unlock()
				e.logger.Warn().Str("embedder", e.clients[i].Name()).Msg("Embedding fell back to next backend")
			}
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		e.logger.Warn().Str("embedder", e.clients[i].Name()).Err(err).Msg("Embedding backend failed")
	}
	return nil, fmt.Errorf("all embedding backends failed: %w", lastErr)
}

// EmbedChunks fills Embedding on each chunk in batches. Chunks whose
// vectors stay empty after the retry schedule are dropped so every
// indexed chunk carries a real vector.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []*models.CodeChunk) ([]*models.CodeChunk, error) {
	pending := chunks
	for i := 0; i < len(pending); i += e.batchSize {
		end := i + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := e.embedBatch(ctx, pending[i:end]); err != nil {
			return nil, err
		}
	}

	// Retry empty vectors individually before giving up on them.
	var kept []*models.CodeChunk
	dropped := 0
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			e.retryChunk(ctx, chunk)
		}
		if len(chunk.Embedding) == 0 {
			dropped++
			continue
		}
		kept = append(kept, chunk)
	}
	if dropped > 0 {
		e.logger.Warn().Int("dropped", dropped).Msg("Dropped chunks with empty embeddings")
	}
	return kept, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []*models.CodeChunk) error {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Content
	}
	vectors, err := e.embed(ctx, texts)
	if err != nil {
		return err
	}
	for i, vector := range vectors {
		if i < len(batch) {
			batch[i].Embedding = vector
		}
	}
	return nil
}

func (e *Embedder) retryChunk(ctx context.Context, chunk *models.CodeChunk) {
	for _, delay := range emptyVectorRetryDelays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		vectors, err := e.embed(ctx, []string{chunk.Content})
		if err == nil && len(vectors) == 1 && len(vectors[0]) > 0 {
			chunk.Embedding = vectors[0]
			return
		}
	}
}

// EmbedQuery embeds a single retrieval query.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("query embedding came back empty")
	}
	return vectors[0], nil
}
