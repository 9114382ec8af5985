package wiki

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// stubRetriever serves fixed chunks for every query.
type stubRetriever struct {
	hits    []interfaces.ScoredChunk
	indexed bool
	err     error
	queries []string
}

func (s *stubRetriever) Index(jobID string, chunks []*models.CodeChunk) {}
func (s *stubRetriever) Drop(jobID string)                             {}
func (s *stubRetriever) HasIndex(jobID string) bool                    { return s.indexed }

func (s *stubRetriever) Retrieve(ctx context.Context, jobID, query string) ([]interfaces.ScoredChunk, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func testPage() *models.WikiPage {
	return &models.WikiPage{
		PageID:      "overview",
		Title:       "Overview",
		Description: "What the project does",
		FilePaths:   []string{"main.go"},
	}
}

func TestPageGeneratorUsesRetrievedContext(t *testing.T) {
	retriever := &stubRetriever{
		indexed: true,
		hits: []interfaces.ScoredChunk{
			{Chunk: &models.CodeChunk{FilePath: "main.go", Language: "go", Content: "func main() {}"}, Score: 0.9},
		},
	}
	llm := &scriptedLLM{responses: []string{"# Overview\n\nThe entry point lives in main.go."}}
	gen := NewPageGenerator(llm, retriever, nil, time.Minute, common.GetLogger())

	content, err := gen.Generate(context.Background(), structureTestJob(), testPage())
	require.NoError(t, err)
	assert.Contains(t, content, "# Overview")

	// The retrieval query carries title, description, and file paths
	require.Len(t, retriever.queries, 1)
	assert.Contains(t, retriever.queries[0], "Overview")
	assert.Contains(t, retriever.queries[0], "main.go")
}

func TestPageGeneratorDegradesWhenRetrievalFails(t *testing.T) {
	retriever := &stubRetriever{indexed: true, err: fmt.Errorf("index gone")}
	llm := &scriptedLLM{responses: []string{"# Overview\n\nGenerated without context."}}
	gen := NewPageGenerator(llm, retriever, nil, time.Minute, common.GetLogger())

	content, err := gen.Generate(context.Background(), structureTestJob(), testPage())
	require.NoError(t, err)
	assert.Contains(t, content, "Generated without context")
}

func TestPageGeneratorSkipsRetrievalWithoutIndex(t *testing.T) {
	retriever := &stubRetriever{indexed: false}
	llm := &scriptedLLM{responses: []string{"# Overview\n\nText."}}
	gen := NewPageGenerator(llm, retriever, nil, time.Minute, common.GetLogger())

	_, err := gen.Generate(context.Background(), structureTestJob(), testPage())
	require.NoError(t, err)
	assert.Empty(t, retriever.queries)
}

// chunkedLLM delivers its response through several onDelta calls.
type chunkedLLM struct {
	scriptedLLM
	deltas []string
}

func (c *chunkedLLM) Stream(ctx context.Context, provider string, req *interfaces.CompletionRequest, fallback []interfaces.Message, onDelta interfaces.DeltaFunc) (interfaces.Usage, error) {
	c.calls++
	for _, delta := range c.deltas {
		if err := onDelta(delta); err != nil {
			return interfaces.Usage{}, err
		}
	}
	return interfaces.Usage{PromptTokens: 100, CompletionTokens: 50}, nil
}

func TestPageGeneratorAssemblesStreamedDeltas(t *testing.T) {
	llm := &chunkedLLM{deltas: []string{"# Overview\n\n", "First half, ", "second half."}}
	gen := NewPageGenerator(llm, &stubRetriever{}, nil, time.Minute, common.GetLogger())

	content, err := gen.Generate(context.Background(), structureTestJob(), testPage())
	require.NoError(t, err)
	assert.Equal(t, "# Overview\n\nFirst half, second half.", content)
	assert.Equal(t, 1, llm.calls)
}

func TestPageGeneratorRejectsEmptyCompletion(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"   \n  "}}
	gen := NewPageGenerator(llm, &stubRetriever{}, nil, time.Minute, common.GetLogger())

	_, err := gen.Generate(context.Background(), structureTestJob(), testPage())
	assert.Error(t, err)
}

func TestPageGeneratorSurfacesProviderError(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("quota exhausted")}
	gen := NewPageGenerator(llm, &stubRetriever{}, nil, time.Minute, common.GetLogger())

	_, err := gen.Generate(context.Background(), structureTestJob(), testPage())
	assert.Error(t, err)
}

func TestFormatChunkContextGroupsByFile(t *testing.T) {
	hits := []interfaces.ScoredChunk{
		{Chunk: &models.CodeChunk{FilePath: "b.go", Language: "go", Content: "func B() {}"}},
		{Chunk: &models.CodeChunk{FilePath: "a.go", Language: "go", Content: "func A() {}"}},
		{Chunk: &models.CodeChunk{FilePath: "b.go", Language: "go", Content: "func B2() {}"}},
	}

	formatted := formatChunkContext(hits)
	assert.Contains(t, formatted, "### a.go")
	assert.Contains(t, formatted, "### b.go")
	assert.Less(t, strings.Index(formatted, "### a.go"), strings.Index(formatted, "### b.go"))
	assert.Contains(t, formatted, "func B2() {}")

	assert.Empty(t, formatChunkContext(nil))
}
