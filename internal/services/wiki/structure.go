package wiki

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

const maxStructureAttempts = 3

// ErrStructureGenerationFailed means every attempt, including the
// deterministic rebuild, produced no usable pages.
var ErrStructureGenerationFailed = fmt.Errorf("wiki structure generation failed")

var (
	controlCharRe = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	xmlEntityRe   = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#[0-9]+|#x[0-9a-fA-F]+);`)

	pageBlockRe    = regexp.MustCompile(`(?s)<page\s+id="([^"]+)"\s*>(.*?)</page>`)
	titleTagRe     = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	descTagRe      = regexp.MustCompile(`(?s)<description>(.*?)</description>`)
	importanceRe   = regexp.MustCompile(`(?s)<importance>(.*?)</importance>`)
	filePathTagRe  = regexp.MustCompile(`(?s)<file_path>(.*?)</file_path>`)
	relatedTagRe   = regexp.MustCompile(`(?s)<related>(.*?)</related>`)
	structureDocRe = regexp.MustCompile(`(?s)<wiki_structure>.*</wiki_structure>`)
)

// StructureGenerator runs phase 1: prompt the LLM for the wiki layout
// and parse the XML it returns, with self-correction on bad output.
type StructureGenerator struct {
	llm    interfaces.CompletionService
	tokens interfaces.TokenTracker
	logger arbor.ILogger
}

func NewStructureGenerator(llm interfaces.CompletionService, tokens interfaces.TokenTracker, logger arbor.ILogger) *StructureGenerator {
	return &StructureGenerator{llm: llm, tokens: tokens, logger: logger}
}

// Generate produces the wiki structure for a job. The raw XML is
// returned alongside so callers can persist it verbatim.
func (g *StructureGenerator) Generate(ctx context.Context, job *models.WikiJob, fileTree, readme string) (*models.WikiStructure, string, error) {
	basePrompt := buildStructurePrompt(job, fileTree, readme)
	prompt := basePrompt

	var lastResponse string
	var lastErr error
	for attempt := 1; attempt <= maxStructureAttempts; attempt++ {
		response, usage, err := g.llm.Complete(ctx, job.Provider, &interfaces.CompletionRequest{
			Model:    modelOrEmpty(job),
			Messages: []interfaces.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, "", fmt.Errorf("structure completion failed: %w", err)
		}
		g.recordUsage(ctx, job.ID, prompt, response, usage)

		cleaned := CleanStructureXML(response)
		structure, parseErr := parseStructure(cleaned)
		if parseErr == nil {
			g.logger.Info().
				Str("job_id", job.ID).
				Int("attempt", attempt).
				Int("pages", len(structure.Pages)).
				Msg("Wiki structure parsed")
			return structure, cleaned, nil
		}

		lastResponse = cleaned
		lastErr = parseErr
		g.logger.Warn().
			Str("job_id", job.ID).
			Int("attempt", attempt).
			Err(parseErr).
			Msg("Wiki structure attempt failed to parse")
		prompt = buildStructureCorrectionPrompt(basePrompt, cleaned, parseErr)
	}

	// Last resort: salvage page blocks from the final response.
	if structure := rebuildStructure(lastResponse); structure != nil {
		g.logger.Warn().
			Str("job_id", job.ID).
			Int("pages", len(structure.Pages)).
			Msg("Wiki structure rebuilt from malformed XML")
		return structure, lastResponse, nil
	}
	return nil, "", fmt.Errorf("%w after %d attempts: %v", ErrStructureGenerationFailed, maxStructureAttempts, lastErr)
}

func (g *StructureGenerator) recordUsage(ctx context.Context, jobID, prompt, response string, usage interfaces.Usage) {
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
		g.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to record structure token usage")
	}
}

func modelOrEmpty(job *models.WikiJob) string {
	if job.Model != nil {
		return *job.Model
	}
	return ""
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// CleanStructureXML normalizes an LLM response into parseable XML:
// fences stripped, control characters removed, stray ampersands
// escaped, and anything surrounding the document dropped.
func CleanStructureXML(response string) string {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```xml")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if doc := structureDocRe.FindString(cleaned); doc != "" {
		cleaned = doc
	}
	cleaned = controlCharRe.ReplaceAllString(cleaned, "")
	return escapeStrayAmpersands(cleaned)
}

// escapeStrayAmpersands escapes & characters that are not already part
// of a recognized entity. Valid entities are parked behind a sentinel
// while the rest are escaped.
func escapeStrayAmpersands(s string) string {
	const sentinel = "\x01ENT\x01"
	s = xmlEntityRe.ReplaceAllStringFunc(s, func(entity string) string {
		return sentinel + entity[1:]
	})
	s = strings.ReplaceAll(s, "&", "&amp;")
	return strings.ReplaceAll(s, sentinel, "&")
}

func parseStructure(cleaned string) (*models.WikiStructure, error) {
	var structure models.WikiStructure
	if err := xml.Unmarshal([]byte(cleaned), &structure); err != nil {
		return nil, err
	}
	if len(structure.Pages) == 0 {
		return nil, fmt.Errorf("structure contains no pages")
	}
	structure.ComputeRootSections()
	return &structure, nil
}

// rebuildStructure extracts page blocks by regex from XML too broken to
// parse. Returns nil when no pages can be salvaged.
func rebuildStructure(response string) *models.WikiStructure {
	blocks := pageBlockRe.FindAllStringSubmatch(response, -1)
	if len(blocks) == 0 {
		return nil
	}

	structure := &models.WikiStructure{}
	if match := titleTagRe.FindStringSubmatch(response); match != nil {
		structure.Title = strings.TrimSpace(match[1])
	}
	if match := descTagRe.FindStringSubmatch(response); match != nil {
		structure.Description = strings.TrimSpace(match[1])
	}

	for _, block := range blocks {
		page := models.StructurePage{ID: block[1], Importance: "medium"}
		body := block[2]
		if match := titleTagRe.FindStringSubmatch(body); match != nil {
			page.Title = strings.TrimSpace(match[1])
		}
		if match := descTagRe.FindStringSubmatch(body); match != nil {
			page.Description = strings.TrimSpace(match[1])
		}
		if match := importanceRe.FindStringSubmatch(body); match != nil {
			page.Importance = strings.TrimSpace(match[1])
		}
		for _, match := range filePathTagRe.FindAllStringSubmatch(body, -1) {
			page.RelevantFiles = append(page.RelevantFiles, strings.TrimSpace(match[1]))
		}
		for _, match := range relatedTagRe.FindAllStringSubmatch(body, -1) {
			page.RelatedPages = append(page.RelatedPages, strings.TrimSpace(match[1]))
		}
		if page.Title == "" {
			continue
		}
		structure.Pages = append(structure.Pages, page)
	}
	if len(structure.Pages) == 0 {
		return nil
	}
	return structure
}
