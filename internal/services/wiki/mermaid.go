package wiki

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

const removedDiagramNote = "> **Note:** A diagram was removed due to syntax errors."

// mermaidPrefixes are the diagram types the validator accepts on the
// first non-empty line.
var mermaidPrefixes = []string{
	"graph TD", "graph LR", "graph TB", "graph RL", "graph BT",
	"flowchart TD", "flowchart LR", "flowchart TB", "flowchart RL", "flowchart BT",
	"sequenceDiagram",
	"classDiagram",
	"stateDiagram-v2", "stateDiagram",
	"erDiagram",
	"journey",
	"gantt",
	"pie",
	"gitGraph",
}

// mermaidBlock is one fenced mermaid region within a markdown page.
type mermaidBlock struct {
	startLine int // index of the opening fence line
	endLine   int // index of the closing fence line
	content   string
}

// extractMermaidBlocks finds fenced mermaid blocks by scanning fence
// lines. Unclosed blocks are ignored.
func extractMermaidBlocks(markdown string) []mermaidBlock {
	lines := strings.Split(markdown, "\n")
	var blocks []mermaidBlock
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "```mermaid" {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				blocks = append(blocks, mermaidBlock{
					startLine: i,
					endLine:   j,
					content:   strings.Join(lines[i+1:j], "\n"),
				})
				i = j
				break
			}
		}
	}
	return blocks
}

// ValidateMermaid checks a diagram against the known type prefixes,
// per-line bracket balance, and arrow endpoints.
func ValidateMermaid(diagram string) error {
	lines := strings.Split(strings.TrimSpace(diagram), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return fmt.Errorf("empty diagram")
	}

	firstLine := strings.TrimSpace(lines[0])
	known := false
	for _, prefix := range mermaidPrefixes {
		if strings.HasPrefix(firstLine, prefix) {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown diagram type: %q", firstLine)
	}

	for i, line := range lines {
		if err := checkLineBalance(line); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := checkArrowEndpoints(line); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// checkLineBalance verifies brackets, parentheses, and braces close on
// the line they open.
func checkLineBalance(line string) error {
	// Quoted labels may contain unmatched brackets by design.
	line = stripQuoted(line)

	pairs := []struct {
		open, close rune
		name        string
	}{
		{'[', ']', "brackets"},
		{'(', ')', "parentheses"},
		{'{', '}', "braces"},
	}
	for _, pair := range pairs {
		depth := 0
		for _, r := range line {
			switch r {
			case pair.open:
				depth++
			case pair.close:
				depth--
			}
			if depth < 0 {
				return fmt.Errorf("unbalanced %s", pair.name)
			}
		}
		if depth != 0 {
			return fmt.Errorf("unbalanced %s", pair.name)
		}
	}
	return nil
}

func stripQuoted(line string) string {
	var b strings.Builder
	inQuote := false
	for _, r := range line {
		if r == '"' {
			inQuote = !inQuote
			continue
		}
		if !inQuote {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// checkArrowEndpoints rejects arrows with a missing node on either side.
func checkArrowEndpoints(line string) error {
	trimmed := strings.TrimSpace(line)
	for _, arrow := range []string{"-->", "<--", "---", "-.->", "==>"} {
		idx := strings.Index(trimmed, arrow)
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(trimmed[:idx])
		right := strings.TrimSpace(trimmed[idx+len(arrow):])
		// Edge labels like -->|text| keep the node after the label.
		right = strings.TrimSpace(strings.TrimPrefix(right, "|"))
		if left == "" || right == "" {
			return fmt.Errorf("arrow missing a node: %q", trimmed)
		}
	}
	return nil
}

// DiagramValidator repairs invalid Mermaid diagrams in generated pages,
// spending at most one LLM round-trip per diagram.
type DiagramValidator struct {
	llm    interfaces.CompletionService
	logger arbor.ILogger
}

func NewDiagramValidator(llm interfaces.CompletionService, logger arbor.ILogger) *DiagramValidator {
	return &DiagramValidator{llm: llm, logger: logger}
}

// Process validates every mermaid block in the page. Valid blocks are
// left byte-identical. Invalid ones get one fix attempt; if the fix
// still fails validation the block is replaced with a removal note.
func (v *DiagramValidator) Process(ctx context.Context, provider, model, markdown string) string {
	blocks := extractMermaidBlocks(markdown)
	if len(blocks) == 0 {
		return markdown
	}

	lines := strings.Split(markdown, "\n")
	// Walk backwards so earlier line indexes stay valid after splices.
	for i := len(blocks) - 1; i >= 0; i-- {
		block := blocks[i]
		err := ValidateMermaid(block.content)
		if err == nil {
			continue
		}

		fixed, fixErr := v.fixDiagram(ctx, provider, model, block.content, err)
		if fixErr == nil && ValidateMermaid(fixed) == nil {
			replacement := append([]string{"```mermaid"}, strings.Split(fixed, "\n")...)
			replacement = append(replacement, "```")
			lines = splice(lines, block.startLine, block.endLine, replacement)
			v.logger.Debug().Err(err).Msg("Repaired invalid mermaid diagram")
			continue
		}

		lines = splice(lines, block.startLine, block.endLine, []string{removedDiagramNote})
		v.logger.Warn().Err(err).Msg("Removed unrepairable mermaid diagram")
	}
	return strings.Join(lines, "\n")
}

func (v *DiagramValidator) fixDiagram(ctx context.Context, provider, model, diagram string, problem error) (string, error) {
	response, _, err := v.llm.Complete(ctx, provider, &interfaces.CompletionRequest{
		Model:    model,
		Messages: []interfaces.Message{{Role: "user", Content: buildMermaidFixPrompt(diagram, problem)}},
	})
	if err != nil {
		return "", err
	}

	fixed := strings.TrimSpace(response)
	fixed = strings.TrimPrefix(fixed, "```mermaid")
	fixed = strings.TrimPrefix(fixed, "```")
	fixed = strings.TrimSuffix(fixed, "```")
	return strings.TrimSpace(fixed), nil
}

// splice replaces lines[start..end] inclusive with replacement.
func splice(lines []string, start, end int, replacement []string) []string {
	out := make([]string, 0, len(lines)-(end-start+1)+len(replacement))
	out = append(out, lines[:start]...)
	out = append(out, replacement...)
	out = append(out, lines[end+1:]...)
	return out
}
