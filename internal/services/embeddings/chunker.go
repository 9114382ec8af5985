package embeddings

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/codewiki/internal/models"
)

const (
	maxChunkableFileBytes = 500 * 1024
	largeModelTokenLimit  = 16384
	smallModelTokenLimit  = 8000
	splitOverlapLines     = 4
	maxNestingDepth       = 2
)

// languageByExtension maps file extensions to splitter grammars.
var languageByExtension = map[string]string{
	".cs":  "csharp",
	".ts":  "typescript",
	".tsx": "typescript",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".py":  "python",
}

// Declaration openers per grammar. The splitter is line-oriented: it
// tracks brace (or indentation, for Python) depth and cuts on top-level
// declarations rather than building a full parse tree.
var (
	csharpDeclRe = regexp.MustCompile(`^\s*(?:\[[^\]]*\]\s*)*(?:public|private|protected|internal|static|abstract|sealed|partial|\s)*\b(namespace|class|struct|interface|enum|record)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	tsDeclRe     = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?(function|class|interface|enum|type|const|async)\s+\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)`)
	pythonDeclRe = regexp.MustCompile(`^(\s*)(?:async\s+)?(def|class)\s+([A-Za-z_][A-Za-z0-9_]*)`)

	csharpImportRe = regexp.MustCompile(`^\s*(using\s+[\w.=\s]+;|global\s+using\s)`)
	jsImportRe     = regexp.MustCompile(`^\s*(import\s|const\s.*=\s*require\(|export\s+\*\s+from)`)
	pythonImportRe = regexp.MustCompile(`^\s*(import\s|from\s+\S+\s+import\s)`)
)

// EstimateChunkTokens approximates token count as word count scaled by
// 1.3, matching the heuristic the token budgets were tuned against.
func EstimateChunkTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) * 1.3)
}

// Chunker splits repository files into embeddable code chunks. With
// syntaxAware off, every file goes through the generic word-window
// splitter regardless of language.
type Chunker struct {
	largeContext bool
	syntaxAware  bool
}

func NewChunker(largeContext, syntaxAware bool) *Chunker {
	return &Chunker{largeContext: largeContext, syntaxAware: syntaxAware}
}

func (c *Chunker) tokenLimit() int {
	if c.largeContext {
		return largeModelTokenLimit
	}
	return smallModelTokenLimit
}

// SplitFile chunks one file. Recognized languages get the syntax-aware
// splitter; everything else, oversized files, and binary content fall
// back to the generic word-based splitter.
func (c *Chunker) SplitFile(path, content string) []models.CodeChunk {
	if content == "" || !utf8.ValidString(content) {
		return nil
	}

	language := detectLanguage(path, content)
	if !c.syntaxAware || language == "" || len(content) > maxChunkableFileBytes {
		return c.genericSplit(path, language, content)
	}

	var chunks []models.CodeChunk
	switch language {
	case "python":
		chunks = c.splitPython(path, content)
	default:
		chunks = c.splitBraceLanguage(path, language, content)
	}
	if len(chunks) == 0 {
		return c.genericSplit(path, language, content)
	}

	// Oversized blocks get re-split by the generic splitter.
	var out []models.CodeChunk
	for _, chunk := range chunks {
		if chunk.TokenCount <= c.tokenLimit() {
			out = append(out, chunk)
			continue
		}
		for _, sub := range c.genericSplit(path, language, chunk.Content) {
			sub.Symbol = chunk.Symbol
			sub.ParentSymbol = chunk.ParentSymbol
			sub.BlockType = chunk.BlockType
			sub.StartLine += chunk.StartLine - 1
			sub.EndLine += chunk.StartLine - 1
			out = append(out, sub)
		}
	}
	return out
}

// detectLanguage recognizes a grammar by extension, falling back to the
// shebang line for extensionless scripts.
func detectLanguage(path, content string) string {
	if language, ok := languageByExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return language
	}
	if strings.HasPrefix(content, "#!") {
		firstLine, _, _ := strings.Cut(content, "\n")
		switch {
		case strings.Contains(firstLine, "python"):
			return "python"
		case strings.Contains(firstLine, "node"):
			return "javascript"
		}
	}
	return ""
}

type declaration struct {
	startLine int
	blockType string
	symbol    string
	parent    string
	depth     int
}

// splitBraceLanguage cuts C#, TypeScript, and JavaScript files on
// declarations up to two nesting levels deep, tracked by brace depth.
func (c *Chunker) splitBraceLanguage(path, language, content string) []models.CodeChunk {
	lines := strings.Split(content, "\n")
	declRe := tsDeclRe
	importRe := jsImportRe
	if language == "csharp" {
		declRe = csharpDeclRe
		importRe = csharpImportRe
	}

	var imports []string
	var decls []declaration
	depth := 0
	for i, line := range lines {
		if importRe.MatchString(line) {
			imports = append(imports, line)
		}
		if match := declRe.FindStringSubmatch(line); match != nil && depth < maxNestingDepth {
			decls = append(decls, declaration{
				startLine: i,
				blockType: match[1],
				symbol:    match[2],
				depth:     depth,
			})
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}
	if len(decls) == 0 {
		return nil
	}

	// Keep the shallowest declarations so nested members stay inside
	// their container's chunk, unless the container itself busts the
	// token budget. Oversized containers get their immediate children
	// pulled out as chunks of their own.
	minDepth := decls[0].depth
	for _, d := range decls {
		if d.depth < minDepth {
			minDepth = d.depth
		}
	}
	var kept []declaration
	for _, d := range decls {
		if d.depth == minDepth {
			kept = append(kept, d)
		}
	}
	kept = c.expandOversized(lines, decls, kept)

	return c.assembleDeclChunks(path, language, lines, imports, kept)
}

// splitPython cuts on top-level def and class statements, using
// indentation as the nesting signal.
func (c *Chunker) splitPython(path, content string) []models.CodeChunk {
	lines := strings.Split(content, "\n")

	var imports []string
	var decls []declaration
	var kept []declaration
	for i, line := range lines {
		if pythonImportRe.MatchString(line) && leadingIndent(line) == 0 {
			imports = append(imports, line)
		}
		if match := pythonDeclRe.FindStringSubmatch(line); match != nil {
			decl := declaration{
				startLine: i,
				blockType: match[2],
				symbol:    match[3],
				depth:     len(match[1]),
			}
			decls = append(decls, decl)
			if decl.depth == 0 {
				kept = append(kept, decl)
			}
		}
	}
	if len(kept) == 0 {
		return nil
	}
	kept = c.expandOversized(lines, decls, kept)
	return c.assembleDeclChunks(path, "python", lines, imports, kept)
}

// expandOversized pulls a container's immediate child declarations out
// as chunks of their own when the container alone exceeds the token
// budget. Children inherit the container as their parent symbol.
func (c *Chunker) expandOversized(lines []string, decls, kept []declaration) []declaration {
	limit := c.tokenLimit()
	var out []declaration
	for i, container := range kept {
		out = append(out, container)

		end := len(lines)
		if i+1 < len(kept) {
			end = kept[i+1].startLine
		}
		body := strings.Join(lines[container.startLine:end], "\n")
		if EstimateChunkTokens(body) <= limit {
			continue
		}

		// The immediate children are the shallowest declarations
		// inside the container's span.
		childDepth := -1
		for _, d := range decls {
			if d.startLine <= container.startLine || d.startLine >= end || d.depth <= container.depth {
				continue
			}
			if childDepth == -1 || d.depth < childDepth {
				childDepth = d.depth
			}
		}
		if childDepth == -1 {
			continue
		}
		for _, d := range decls {
			if d.startLine <= container.startLine || d.startLine >= end || d.depth != childDepth {
				continue
			}
			d.parent = container.symbol
			out = append(out, d)
		}
	}
	return out
}

func leadingIndent(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// assembleDeclChunks builds one chunk per declaration, from its opening
// line to the line before the next declaration. File imports are
// prepended to the first chunk.
func (c *Chunker) assembleDeclChunks(path, language string, lines, imports []string, decls []declaration) []models.CodeChunk {
	var chunks []models.CodeChunk
	for i, decl := range decls {
		end := len(lines)
		if i+1 < len(decls) {
			end = decls[i+1].startLine
		}
		body := strings.Join(lines[decl.startLine:end], "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		if i == 0 && len(imports) > 0 {
			body = strings.Join(imports, "\n") + "\n\n" + body
		}
		chunks = append(chunks, models.CodeChunk{
			FilePath:     path,
			Language:     language,
			Symbol:       decl.symbol,
			ParentSymbol: decl.parent,
			BlockType:    decl.blockType,
			StartLine:    decl.startLine + 1,
			EndLine:      end,
			TokenCount:   EstimateChunkTokens(body),
			Content:      body,
		})
	}
	return chunks
}

// genericSplit is the word-budget fallback for unsupported languages
// and oversized blocks. Windows overlap by a few lines so statements
// split across a boundary stay retrievable.
func (c *Chunker) genericSplit(path, language, content string) []models.CodeChunk {
	lines := strings.Split(content, "\n")
	limit := c.tokenLimit()

	var chunks []models.CodeChunk
	start := 0
	tokens := 0
	for i, line := range lines {
		tokens += EstimateChunkTokens(line)
		if tokens < limit && i < len(lines)-1 {
			continue
		}

		body := strings.Join(lines[start:i+1], "\n")
		if strings.TrimSpace(body) != "" {
			chunks = append(chunks, models.CodeChunk{
				FilePath:   path,
				Language:   language,
				BlockType:  "fragment",
				StartLine:  start + 1,
				EndLine:    i + 1,
				TokenCount: EstimateChunkTokens(body),
				Content:    body,
			})
		}

		start = i + 1 - splitOverlapLines
		if start < 0 {
			start = 0
		}
		tokens = 0
		for _, overlap := range lines[start : i+1] {
			tokens += EstimateChunkTokens(overlap)
		}
	}
	return chunks
}
