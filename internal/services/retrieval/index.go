package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// ErrNoIndex is returned when a job has no chunk index registered.
var ErrNoIndex = fmt.Errorf("no index for job")

// Index holds per-job chunk vectors in memory for the lifetime of the
// page generation phase.
type Index struct {
	mu   sync.RWMutex
	jobs map[string][]*models.CodeChunk
}

func NewIndex() *Index {
	return &Index{jobs: make(map[string][]*models.CodeChunk)}
}

// Register installs a job's embedded chunks, replacing any prior index.
func (idx *Index) Register(jobID string, chunks []*models.CodeChunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.jobs[jobID] = chunks
}

// Drop releases a job's index once its pages are generated.
func (idx *Index) Drop(jobID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.jobs, jobID)
}

// Size returns the number of indexed chunks for a job.
func (idx *Index) Size(jobID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.jobs[jobID])
}

// Query returns the topK chunks most similar to the query vector.
func (idx *Index) Query(ctx context.Context, jobID string, queryVector []float32, topK int) ([]interfaces.ScoredChunk, error) {
	idx.mu.RLock()
	chunks, ok := idx.jobs[jobID]
	idx.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoIndex, jobID)
	}

	scored := make([]interfaces.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scored = append(scored, interfaces.ScoredChunk{
			Chunk: chunk,
			Score: CosineSimilarity(queryVector, chunk.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either is empty or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
