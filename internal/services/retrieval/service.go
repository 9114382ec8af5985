package retrieval

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// Service answers text queries against a job's chunk index, embedding
// the query and optionally re-ranking the hits.
type Service struct {
	index    *Index
	embedder interfaces.EmbeddingService
	config   *common.RetrievalConfig
	logger   arbor.ILogger
}

func NewService(embedder interfaces.EmbeddingService, config *common.RetrievalConfig, logger arbor.ILogger) *Service {
	return &Service{
		index:    NewIndex(),
		embedder: embedder,
		config:   config,
		logger:   logger,
	}
}

// Index installs a job's embedded chunks.
func (s *Service) Index(jobID string, chunks []*models.CodeChunk) {
	s.index.Register(jobID, chunks)
	s.logger.Debug().Str("job_id", jobID).Int("chunks", len(chunks)).Msg("Chunk index registered")
}

// Drop releases a job's index.
func (s *Service) Drop(jobID string) {
	s.index.Drop(jobID)
}

// HasIndex reports whether a job's chunks are available for retrieval.
func (s *Service) HasIndex(jobID string) bool {
	return s.index.Size(jobID) > 0
}

// Retrieve returns the chunks most relevant to a text query. When
// re-ranking is enabled and fails to keep anything, the initial vector
// results are returned unchanged.
func (s *Service) Retrieve(ctx context.Context, jobID, query string) ([]interfaces.ScoredChunk, error) {
	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	topK := s.config.TopK
	if topK <= 0 {
		topK = 20
	}
	candidates, err := s.index.Query(ctx, jobID, queryVector, topK)
	if err != nil {
		return nil, err
	}

	if !s.config.RerankEnabled {
		return candidates, nil
	}
	reranked := Rerank(candidates, s.config.DedupThreshold, s.config.RelevanceThreshold, s.config.RerankTopK)
	if len(reranked) == 0 {
		return candidates, nil
	}
	return reranked, nil
}
