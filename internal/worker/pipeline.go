package worker

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
	"github.com/ternarybob/codewiki/internal/services/embeddings"
	"github.com/ternarybob/codewiki/internal/services/repo"
)

// EmbeddingPipeline runs phase 0: walk the repository, chunk every
// eligible file, embed the chunks, and hand them to the retriever.
type EmbeddingPipeline struct {
	repos       *repo.Resolver
	embedder    interfaces.EmbeddingService
	syntaxAware bool
	logger      arbor.ILogger
}

func NewEmbeddingPipeline(repos *repo.Resolver, embedder interfaces.EmbeddingService, syntaxAware bool, logger arbor.ILogger) *EmbeddingPipeline {
	return &EmbeddingPipeline{repos: repos, embedder: embedder, syntaxAware: syntaxAware, logger: logger}
}

// Run chunks and embeds a repository, returning the indexed chunks and
// the chunking statistics for the token tracker.
func (p *EmbeddingPipeline) Run(ctx context.Context, job *models.WikiJob) ([]*models.CodeChunk, *models.ChunkingStats, error) {
	fetcher, err := p.repos.Resolve(job)
	if err != nil {
		return nil, nil, err
	}

	files, err := fetcher.ListFiles(ctx, job)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list repository files: %w", err)
	}

	chunker := embeddings.NewChunker(p.embedder.LargeContext(), p.syntaxAware)
	stats := &models.ChunkingStats{TotalFiles: len(files)}

	var chunks []*models.CodeChunk
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		content, err := fetcher.ReadFile(ctx, job, file.Path)
		if err != nil {
			stats.SkippedFiles++
			continue
		}
		for _, chunk := range chunker.SplitFile(file.Path, content) {
			chunk := chunk
			stats.TotalTokens += chunk.TokenCount
			chunks = append(chunks, &chunk)
		}
	}
	stats.TotalChunks = len(chunks)

	if len(chunks) == 0 {
		p.logger.Warn().Str("job_id", job.ID).Msg("Repository produced no chunks")
		return nil, stats, nil
	}

	embedded, err := p.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Int("files", stats.TotalFiles).
		Int("chunks", len(embedded)).
		Int("skipped", stats.SkippedFiles).
		Str("embedder", p.embedder.ActiveEmbedder()).
		Msg("Repository embedded")
	return embedded, stats, nil
}
