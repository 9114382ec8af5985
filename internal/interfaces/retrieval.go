package interfaces

import (
	"context"

	"github.com/ternarybob/codewiki/internal/models"
)

// ScoredChunk pairs a chunk with its similarity to a query.
type ScoredChunk struct {
	Chunk *models.CodeChunk
	Score float64
}

// Retriever answers text queries over per-job chunk indexes.
type Retriever interface {
	// Index replaces the chunk set for a job.
	Index(jobID string, chunks []*models.CodeChunk)

	// Retrieve returns the chunks most relevant to a text query,
	// re-ranked when configured.
	Retrieve(ctx context.Context, jobID, query string) ([]ScoredChunk, error)

	// HasIndex reports whether a job's chunks are available.
	HasIndex(jobID string) bool

	// Drop releases the index for a job.
	Drop(jobID string)
}
