package wiki

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

const validStructureXML = `<wiki_structure>
  <title>Widget Wiki</title>
  <description>Documentation for widget</description>
  <pages>
    <page id="overview">
      <title>Overview</title>
      <description>What the project does</description>
      <importance>high</importance>
      <relevant_files>
        <file_path>main.go</file_path>
      </relevant_files>
    </page>
    <page id="api">
      <title>API Reference</title>
      <description>HTTP surface</description>
      <importance>medium</importance>
      <relevant_files>
        <file_path>internal/api/handler.go</file_path>
      </relevant_files>
      <related_pages>
        <related>overview</related>
      </related_pages>
    </page>
  </pages>
</wiki_structure>`

// scriptedLLM replays canned responses in order.
type scriptedLLM struct {
	responses []string
	calls     int
	err       error
}

func (s *scriptedLLM) Complete(ctx context.Context, provider string, req *interfaces.CompletionRequest) (string, interfaces.Usage, error) {
	if s.err != nil {
		return "", interfaces.Usage{}, s.err
	}
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], interfaces.Usage{PromptTokens: 100, CompletionTokens: 50}, nil
}

func (s *scriptedLLM) CompleteWithFallback(ctx context.Context, provider string, req *interfaces.CompletionRequest, fallback []interfaces.Message) (string, interfaces.Usage, error) {
	return s.Complete(ctx, provider, req)
}

func (s *scriptedLLM) Stream(ctx context.Context, provider string, req *interfaces.CompletionRequest, fallback []interfaces.Message, onDelta interfaces.DeltaFunc) (interfaces.Usage, error) {
	response, usage, err := s.Complete(ctx, provider, req)
	if err != nil {
		return usage, err
	}
	if err := onDelta(response); err != nil {
		return usage, err
	}
	return usage, nil
}

func structureTestJob() *models.WikiJob {
	return models.NewWikiJob(&models.GenerateWikiRequest{
		Owner:    "acme",
		Repo:     "widget",
		Provider: "google",
	})
}

func TestGenerateParsesValidStructure(t *testing.T) {
	llm := &scriptedLLM{responses: []string{validStructureXML}}
	gen := NewStructureGenerator(llm, nil, common.GetLogger())

	structure, raw, err := gen.Generate(context.Background(), structureTestJob(), "main.go", "")
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, "Widget Wiki", structure.Title)
	require.Len(t, structure.Pages, 2)
	assert.Equal(t, "overview", structure.Pages[0].ID)
	assert.Equal(t, []string{"internal/api/handler.go"}, structure.Pages[1].RelevantFiles)
	assert.Contains(t, raw, "<wiki_structure>")
}

func TestGenerateStripsFencesAndChatter(t *testing.T) {
	response := "Here is the structure you asked for:\n```xml\n" + validStructureXML + "\n```\nLet me know if you need changes."
	llm := &scriptedLLM{responses: []string{response}}
	gen := NewStructureGenerator(llm, nil, common.GetLogger())

	structure, raw, err := gen.Generate(context.Background(), structureTestJob(), "main.go", "")
	require.NoError(t, err)
	assert.Len(t, structure.Pages, 2)
	assert.NotContains(t, raw, "```")
	assert.NotContains(t, raw, "Let me know")
}

func TestGenerateSelfCorrects(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"<wiki_structure><title>Broken</title><pages><page id=\"a\"><title>A",
		validStructureXML,
	}}
	gen := NewStructureGenerator(llm, nil, common.GetLogger())

	structure, _, err := gen.Generate(context.Background(), structureTestJob(), "main.go", "")
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Len(t, structure.Pages, 2)
}

func TestGenerateRebuildsFromMalformedXML(t *testing.T) {
	// Never parses as XML but carries salvageable page blocks
	malformed := `<wiki_structure>
  <title>Widget Wiki</title>
  <pages>
    <page id="overview">
      <title>Overview</title>
      <description>Intro</description>
      <importance>high</importance>
      <file_path>main.go</file_path>
    </page>
  <oops>
</wiki_structure>`
	llm := &scriptedLLM{responses: []string{malformed}}
	gen := NewStructureGenerator(llm, nil, common.GetLogger())

	structure, _, err := gen.Generate(context.Background(), structureTestJob(), "main.go", "")
	require.NoError(t, err)
	assert.Equal(t, maxStructureAttempts, llm.calls)
	require.Len(t, structure.Pages, 1)
	assert.Equal(t, "overview", structure.Pages[0].ID)
	assert.Equal(t, "Overview", structure.Pages[0].Title)
	assert.Equal(t, []string{"main.go"}, structure.Pages[0].RelevantFiles)
}

func TestGenerateFailsWhenNothingSalvageable(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"I cannot produce a structure for this repository."}}
	gen := NewStructureGenerator(llm, nil, common.GetLogger())

	_, _, err := gen.Generate(context.Background(), structureTestJob(), "main.go", "")
	assert.ErrorIs(t, err, ErrStructureGenerationFailed)
}

func TestGenerateSurfacesProviderError(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("provider unavailable")}
	gen := NewStructureGenerator(llm, nil, common.GetLogger())

	_, _, err := gen.Generate(context.Background(), structureTestJob(), "main.go", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStructureGenerationFailed)
}

func TestCleanStructureXMLEscapesStrayAmpersands(t *testing.T) {
	cleaned := CleanStructureXML(`<wiki_structure><title>Fish & Chips &amp; Peas &#38; More</title></wiki_structure>`)
	assert.Contains(t, cleaned, "Fish &amp; Chips &amp; Peas &#38; More")
}

func TestCleanStructureXMLRemovesControlChars(t *testing.T) {
	cleaned := CleanStructureXML("<wiki_structure>\x00<title>T\x07itle</title></wiki_structure>")
	assert.NotContains(t, cleaned, "\x00")
	assert.Contains(t, cleaned, "<title>Title</title>")
}

func TestParseStructureRequiresPages(t *testing.T) {
	_, err := parseStructure(`<wiki_structure><title>Empty</title></wiki_structure>`)
	assert.Error(t, err)
}

func TestParseStructureComputesRootSections(t *testing.T) {
	doc := `<wiki_structure>
  <title>W</title>
  <sections>
    <section id="root"><title>Root</title><subsections><section_ref>child</section_ref></subsections></section>
    <section id="child"><title>Child</title></section>
  </sections>
  <pages>
    <page id="p1"><title>P1</title></page>
  </pages>
</wiki_structure>`
	structure, err := parseStructure(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, structure.RootSections)
}
