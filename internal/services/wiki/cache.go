package wiki

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/models"
)

// CacheWriter persists the finished wiki as a single JSON artifact that
// frontends can serve without touching the database.
type CacheWriter struct {
	dir    string
	logger arbor.ILogger
}

func NewCacheWriter(dir string, logger arbor.ILogger) *CacheWriter {
	return &CacheWriter{dir: dir, logger: logger}
}

type cachedPage struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	FilePaths    []string `json:"filePaths"`
	Importance   string   `json:"importance"`
	RelatedPages []string `json:"relatedPages"`
}

type cacheRepo struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Type    string `json:"type"`
	RepoURL string `json:"repoUrl"`
}

type cacheDocument struct {
	WikiStructure  *models.WikiStructure `json:"wiki_structure"`
	GeneratedPages map[string]cachedPage `json:"generated_pages"`
	Repo           cacheRepo             `json:"repo"`
	Provider       string                `json:"provider"`
	Model          *string               `json:"model"`
}

// CacheFileName builds the artifact name for a job.
func CacheFileName(job *models.WikiJob) string {
	return fmt.Sprintf("deepwiki_cache_%s_%s_%s_%s.json", job.RepoType, job.Owner, job.Repo, job.Language)
}

// Write stores the cache artifact for a finished job. Only completed
// pages are included.
func (w *CacheWriter) Write(job *models.WikiJob, pages []*models.WikiPage) error {
	var structure models.WikiStructure
	if job.StructureXML != "" {
		if err := xml.Unmarshal([]byte(job.StructureXML), &structure); err != nil {
			// Structures salvaged by the regex rebuild may not re-parse;
			// the cache then carries pages without the section layout.
			w.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Stored structure did not parse for cache")
		} else {
			structure.ComputeRootSections()
		}
	}

	generated := make(map[string]cachedPage)
	for _, page := range pages {
		if page.Status != models.PageStatusCompleted {
			continue
		}
		generated[page.PageID] = cachedPage{
			ID:           page.PageID,
			Title:        page.Title,
			Content:      page.Content,
			FilePaths:    page.FilePaths,
			Importance:   string(page.Importance),
			RelatedPages: page.RelatedPages,
		}
	}

	doc := cacheDocument{
		WikiStructure:  &structure,
		GeneratedPages: generated,
		Repo: cacheRepo{
			Owner:   job.Owner,
			Repo:    job.Repo,
			Type:    string(job.RepoType),
			RepoURL: job.RepoURL,
		},
		Provider: job.Provider,
		Model:    job.Model,
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal wiki cache: %w", err)
	}

	path := filepath.Join(w.dir, CacheFileName(job))
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write wiki cache: %w", err)
	}
	w.logger.Info().Str("job_id", job.ID).Str("path", path).Int("pages", len(generated)).Msg("Wiki cache written")
	return nil
}
