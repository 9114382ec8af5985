package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/models"
)

// stubEmbedder returns a fixed vector for every query.
type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedChunks(ctx context.Context, chunks []*models.CodeChunk) ([]*models.CodeChunk, error) {
	return chunks, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func (s *stubEmbedder) ActiveEmbedder() string { return "stub" }
func (s *stubEmbedder) LargeContext() bool     { return false }

func TestRetrieveReturnsRankedChunks(t *testing.T) {
	config := &common.RetrievalConfig{TopK: 10}
	service := NewService(&stubEmbedder{vector: []float32{1, 0}}, config, common.GetLogger())

	service.Index("job-1", []*models.CodeChunk{
		chunk("far.go", []float32{0, 1}),
		chunk("near.go", []float32{1, 0}),
	})
	assert.True(t, service.HasIndex("job-1"))

	hits, err := service.Retrieve(context.Background(), "job-1", "how does main work")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near.go", hits[0].Chunk.FilePath)
}

func TestRetrieveRerankFallsBackWhenEmpty(t *testing.T) {
	// All hits score below the relevance threshold, so re-ranking keeps
	// nothing and the vector results are used as-is.
	config := &common.RetrievalConfig{
		TopK:               10,
		RerankEnabled:      true,
		RerankTopK:         5,
		DedupThreshold:     0.95,
		RelevanceThreshold: 0.99,
	}
	service := NewService(&stubEmbedder{vector: []float32{1, 0}}, config, common.GetLogger())

	service.Index("job-1", []*models.CodeChunk{
		chunk("a.go", []float32{0.5, 0.5}),
	})

	hits, err := service.Retrieve(context.Background(), "job-1", "query")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestRetrieveEmbedError(t *testing.T) {
	config := &common.RetrievalConfig{TopK: 10}
	service := NewService(&stubEmbedder{err: fmt.Errorf("backend down")}, config, common.GetLogger())

	_, err := service.Retrieve(context.Background(), "job-1", "query")
	assert.Error(t, err)
}

func TestRetrieveMissingIndex(t *testing.T) {
	config := &common.RetrievalConfig{TopK: 10}
	service := NewService(&stubEmbedder{vector: []float32{1, 0}}, config, common.GetLogger())

	_, err := service.Retrieve(context.Background(), "missing", "query")
	assert.ErrorIs(t, err, ErrNoIndex)

	service.Drop("missing")
	assert.False(t, service.HasIndex("missing"))
}
