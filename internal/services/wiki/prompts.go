package wiki

import (
	"fmt"
	"strings"

	"github.com/ternarybob/codewiki/internal/models"
)

const maxFileTreeEntries = 500

// languageNames maps language codes to the name used in prompts.
var languageNames = map[string]string{
	"en": "English",
	"ja": "Japanese",
	"zh": "Mandarin Chinese",
	"es": "Spanish",
	"kr": "Korean",
	"vi": "Vietnamese",
	"pt": "Brazilian Portuguese",
	"fr": "French",
	"de": "German",
	"ru": "Russian",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "English"
}

// boundFileTree caps the listing so huge repositories do not blow the
// prompt budget.
func boundFileTree(fileTree string) string {
	lines := strings.Split(fileTree, "\n")
	if len(lines) <= maxFileTreeEntries {
		return fileTree
	}
	bounded := lines[:maxFileTreeEntries]
	return strings.Join(bounded, "\n") + fmt.Sprintf("\n... and %d more files", len(lines)-maxFileTreeEntries)
}

// pageCountGuidance scales the requested wiki size with the repository.
func pageCountGuidance(fileCount int, comprehensive bool) string {
	switch {
	case comprehensive && fileCount > 300:
		return "Create 10-15 pages organized into 4-6 sections."
	case comprehensive:
		return "Create 8-12 pages organized into 3-5 sections."
	case fileCount > 300:
		return "Create 6-10 pages."
	default:
		return "Create 4-8 pages."
	}
}

const comprehensiveStructureTemplate = `Return your analysis in the following XML format:

<wiki_structure>
  <title>[Overall title for the wiki]</title>
  <description>[Brief description of the repository]</description>
  <sections>
    <section id="section-1">
      <title>[Section title]</title>
      <pages>
        <page_ref>page-1</page_ref>
      </pages>
      <subsections>
        <section_ref>section-2</section_ref>
      </subsections>
    </section>
  </sections>
  <pages>
    <page id="page-1">
      <title>[Page title]</title>
      <description>[Brief description of what this page covers]</description>
      <importance>high|medium|low</importance>
      <relevant_files>
        <file_path>[Path to a relevant file]</file_path>
      </relevant_files>
      <related_pages>
        <related>page-2</related>
      </related_pages>
      <parent_section>section-1</parent_section>
    </page>
  </pages>
</wiki_structure>`

const conciseStructureTemplate = `Return your analysis in the following XML format:

<wiki_structure>
  <title>[Overall title for the wiki]</title>
  <description>[Brief description of the repository]</description>
  <pages>
    <page id="page-1">
      <title>[Page title]</title>
      <description>[Brief description of what this page covers]</description>
      <importance>high|medium|low</importance>
      <relevant_files>
        <file_path>[Path to a relevant file]</file_path>
      </relevant_files>
      <related_pages>
        <related>page-2</related>
      </related_pages>
    </page>
  </pages>
</wiki_structure>`

// buildStructurePrompt assembles the phase-1 prompt.
func buildStructurePrompt(job *models.WikiJob, fileTree, readme string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze this GitHub repository %s/%s and create a wiki structure for it.\n\n", job.Owner, job.Repo)
	b.WriteString("1. The complete file tree of the project:\n<file_tree>\n")
	b.WriteString(boundFileTree(fileTree))
	b.WriteString("\n</file_tree>\n\n")

	if readme != "" {
		b.WriteString("2. The README file of the project:\n<readme>\n")
		b.WriteString(readme)
		b.WriteString("\n</readme>\n\n")
	}

	fileCount := strings.Count(fileTree, "\n") + 1
	b.WriteString("I want to create a wiki for this repository that explains its purpose, architecture, and key components to developers who are new to the codebase.\n\n")
	b.WriteString(pageCountGuidance(fileCount, job.Comprehensive))
	b.WriteString(" Each page should focus on one coherent topic and list the source files a reader would study for it.\n\n")

	if job.Comprehensive {
		b.WriteString(comprehensiveStructureTemplate)
	} else {
		b.WriteString(conciseStructureTemplate)
	}

	fmt.Fprintf(&b, "\n\nIMPORTANT FORMATTING INSTRUCTIONS:\n")
	fmt.Fprintf(&b, "- Generate the content in %s language.\n", languageName(job.Language))
	b.WriteString("- Return ONLY the valid XML structure, no markdown fences and no other text.\n")
	b.WriteString("- Do not include any explanation before or after the XML.\n")
	return b.String()
}

// buildStructureCorrectionPrompt carries the parser diagnostic back for
// a self-correction attempt.
func buildStructureCorrectionPrompt(original, badPayload string, parseErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous attempt failed with XML parsing error: %v\n\n", parseErr)
	b.WriteString("The invalid response was:\n")
	b.WriteString(truncate(badPayload, 2000))
	b.WriteString("\n\nPlease fix the XML and respond again. Remember: return ONLY valid XML, properly escaped, with no surrounding text.\n\n")
	b.WriteString(original)
	return b.String()
}

// buildPagePrompt assembles the phase-2 prompt for one page.
func buildPagePrompt(job *models.WikiJob, page *models.WikiPage, context string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are generating a wiki page for the repository %s/%s.\n\n", job.Owner, job.Repo)
	fmt.Fprintf(&b, "Page title: %s\n", page.Title)
	if page.Description != "" {
		fmt.Fprintf(&b, "Page scope: %s\n", page.Description)
	}

	if len(page.FilePaths) > 0 {
		b.WriteString("\nRelevant source files:\n")
		for _, path := range page.FilePaths {
			fmt.Fprintf(&b, "- %s\n", path)
		}
		b.WriteString("\nStart the page with a <details> block listing these source files:\n\n")
		b.WriteString("<details>\n<summary>Relevant source files</summary>\n\n")
		for _, path := range page.FilePaths {
			fmt.Fprintf(&b, "- [%s](%s)\n", path, path)
		}
		b.WriteString("</details>\n")
	}

	if context != "" {
		b.WriteString("\nRelevant code context:\n")
		b.WriteString(context)
		b.WriteString("\n")
	}

	b.WriteString(`
Write the page in Markdown. Requirements:
- Begin with a level-1 heading matching the page title.
- Explain purpose, architecture, and behavior grounded in the code context above; cite file paths when describing code.
- Include at least one Mermaid diagram where the topic has structure worth visualizing (flow, sequence, or class). Use valid Mermaid syntax inside a mermaid fenced block.
- Use tables for enumerable facts such as configuration keys or API routes.
- Do not invent files, functions, or behavior not present in the provided context.
`)
	fmt.Fprintf(&b, "- Write the content in %s language.\n", languageName(job.Language))
	return b.String()
}

// buildMermaidFixPrompt asks for one corrected diagram.
func buildMermaidFixPrompt(diagram string, problem error) string {
	var b strings.Builder
	b.WriteString("The following Mermaid diagram has a syntax problem: ")
	fmt.Fprintf(&b, "%v\n\n", problem)
	b.WriteString("```mermaid\n")
	b.WriteString(diagram)
	b.WriteString("\n```\n\n")
	b.WriteString("Fix the diagram and respond with ONLY the corrected Mermaid code, no fences and no explanation.")
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
