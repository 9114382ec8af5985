package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

func scoredChunk(path string, score float64, embedding []float32) interfaces.ScoredChunk {
	return interfaces.ScoredChunk{Chunk: chunk(path, embedding), Score: score}
}

func TestRerankDropsBelowRelevance(t *testing.T) {
	candidates := []interfaces.ScoredChunk{
		scoredChunk("a.go", 0.9, []float32{1, 0}),
		scoredChunk("b.go", 0.2, []float32{0, 1}),
	}

	kept := Rerank(candidates, 0.95, 0.3, 10)
	require.Len(t, kept, 1)
	assert.Equal(t, "a.go", kept[0].Chunk.FilePath)
}

func TestRerankDeduplicatesNearIdentical(t *testing.T) {
	// First two vectors are nearly parallel, the third is orthogonal
	candidates := []interfaces.ScoredChunk{
		scoredChunk("a.go", 0.9, []float32{1, 0}),
		scoredChunk("a_copy.go", 0.85, []float32{1, 0.01}),
		scoredChunk("b.go", 0.8, []float32{0, 1}),
	}

	kept := Rerank(candidates, 0.95, 0.3, 10)
	require.Len(t, kept, 2)
	assert.Equal(t, "a.go", kept[0].Chunk.FilePath)
	assert.Equal(t, "b.go", kept[1].Chunk.FilePath)
}

func TestRerankHonorsTopK(t *testing.T) {
	candidates := []interfaces.ScoredChunk{
		scoredChunk("a.go", 0.9, []float32{1, 0, 0}),
		scoredChunk("b.go", 0.8, []float32{0, 1, 0}),
		scoredChunk("c.go", 0.7, []float32{0, 0, 1}),
	}

	kept := Rerank(candidates, 0.95, 0.3, 2)
	assert.Len(t, kept, 2)
}

func TestRerankEmptyInput(t *testing.T) {
	assert.Empty(t, Rerank(nil, 0.95, 0.3, 10))
}
