package wiki

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

const defaultPageTimeout = 600 * time.Second

// PageGenerator runs phase 2 for a single page: retrieve context,
// prompt the LLM, validate diagrams, and account tokens.
type PageGenerator struct {
	llm       interfaces.CompletionService
	retriever interfaces.Retriever
	diagrams  *DiagramValidator
	tokens    interfaces.TokenTracker
	timeout   time.Duration
	logger    arbor.ILogger
}

func NewPageGenerator(llm interfaces.CompletionService, retriever interfaces.Retriever, tokens interfaces.TokenTracker, timeout time.Duration, logger arbor.ILogger) *PageGenerator {
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	return &PageGenerator{
		llm:       llm,
		retriever: retriever,
		diagrams:  NewDiagramValidator(llm, logger),
		tokens:    tokens,
		timeout:   timeout,
		logger:    logger,
	}
}

// Generate produces the markdown content for one page.
func (g *PageGenerator) Generate(ctx context.Context, job *models.WikiJob, page *models.WikiPage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ragContext := g.retrieveContext(ctx, job, page)
	prompt := buildPagePrompt(job, page, ragContext)
	fallback := []interfaces.Message{{Role: "user", Content: buildPagePrompt(job, page, "")}}

	var assembled strings.Builder
	usage, err := g.llm.Stream(ctx, job.Provider, &interfaces.CompletionRequest{
		Model:    modelOrEmpty(job),
		Messages: []interfaces.Message{{Role: "user", Content: prompt}},
	}, fallback, func(delta string) error {
		assembled.WriteString(delta)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("page completion failed: %w", err)
	}
	content := assembled.String()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("page completion came back empty")
	}

	g.recordUsage(ctx, job.ID, prompt, content, usage)
	content = g.diagrams.Process(ctx, job.Provider, modelOrEmpty(job), content)
	return content, nil
}

// retrieveContext queries the chunk index for this page. Retrieval
// failures degrade to an uncontexted prompt rather than failing the
// page.
func (g *PageGenerator) retrieveContext(ctx context.Context, job *models.WikiJob, page *models.WikiPage) string {
	if g.retriever == nil || !g.retriever.HasIndex(job.ID) {
		return ""
	}

	query := page.Title
	if page.Description != "" {
		query += "\n" + page.Description
	}
	if len(page.FilePaths) > 0 {
		query += "\n" + strings.Join(page.FilePaths, "\n")
	}

	hits, err := g.retriever.Retrieve(ctx, job.ID, query)
	if err != nil {
		g.logger.Warn().Str("job_id", job.ID).Str("page_id", page.PageID).Err(err).Msg("Context retrieval failed, generating without context")
		return ""
	}
	return formatChunkContext(hits)
}

// formatChunkContext groups retrieved chunks by file path for the
// prompt.
func formatChunkContext(hits []interfaces.ScoredChunk) string {
	if len(hits) == 0 {
		return ""
	}

	byFile := make(map[string][]interfaces.ScoredChunk)
	var order []string
	for _, hit := range hits {
		path := hit.Chunk.FilePath
		if _, seen := byFile[path]; !seen {
			order = append(order, path)
		}
		byFile[path] = append(byFile[path], hit)
	}
	sort.Strings(order)

	var b strings.Builder
	for _, path := range order {
		fmt.Fprintf(&b, "### %s\n", path)
		for _, hit := range byFile[path] {
			fmt.Fprintf(&b, "```%s\n%s\n```\n", hit.Chunk.Language, hit.Chunk.Content)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (g *PageGenerator) recordUsage(ctx context.Context, jobID, prompt, response string, usage interfaces.Usage) {
	if g.tokens == nil {
		return
	}
	tracked := interfaces.TrackedUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
	if tracked.PromptTokens == 0 && tracked.CompletionTokens == 0 {
		tracked.PromptTokens = int64(estimateTokens(prompt))
		tracked.CompletionTokens = int64(estimateTokens(response))
		tracked.Estimated = true
	}
	if err := g.tokens.AddProvider(ctx, jobID, tracked); err != nil {
		g.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to record page token usage")
	}
}
