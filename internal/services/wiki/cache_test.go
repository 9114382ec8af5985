package wiki

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/models"
)

func TestCacheFileName(t *testing.T) {
	job := models.NewWikiJob(&models.GenerateWikiRequest{
		Owner:    "acme",
		Repo:     "widget",
		Language: "ja",
		Provider: "google",
	})
	assert.Equal(t, "deepwiki_cache_github_acme_widget_ja.json", CacheFileName(job))
}

func TestCacheWriterWritesCompletedPagesOnly(t *testing.T) {
	dir := t.TempDir()
	writer := NewCacheWriter(dir, common.GetLogger())

	job := structureTestJob()
	job.StructureXML = validStructureXML

	pages := []*models.WikiPage{
		{
			PageID:     "overview",
			Title:      "Overview",
			Content:    "# Overview\n\nThe project.",
			FilePaths:  []string{"main.go"},
			Importance: models.ImportanceHigh,
			Status:     models.PageStatusCompleted,
		},
		{
			PageID: "api",
			Title:  "API Reference",
			Status: models.PageStatusFailed,
			Error:  "context limit",
		},
	}

	require.NoError(t, writer.Write(job, pages))

	payload, err := os.ReadFile(filepath.Join(dir, CacheFileName(job)))
	require.NoError(t, err)

	var doc struct {
		WikiStructure *models.WikiStructure `json:"wiki_structure"`
		Generated     map[string]struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"generated_pages"`
		Repo struct {
			Owner string `json:"owner"`
			Repo  string `json:"repo"`
		} `json:"repo"`
		Provider string `json:"provider"`
	}
	require.NoError(t, json.Unmarshal(payload, &doc))

	assert.Equal(t, "Widget Wiki", doc.WikiStructure.Title)
	assert.Equal(t, "acme", doc.Repo.Owner)
	assert.Equal(t, "google", doc.Provider)

	require.Len(t, doc.Generated, 1)
	assert.Equal(t, "Overview", doc.Generated["overview"].Title)
	assert.Contains(t, doc.Generated["overview"].Content, "# Overview")
}

func TestCacheWriterToleratesUnparseableStructure(t *testing.T) {
	dir := t.TempDir()
	writer := NewCacheWriter(dir, common.GetLogger())

	job := structureTestJob()
	job.StructureXML = "<wiki_structure><broken"

	pages := []*models.WikiPage{
		{PageID: "overview", Title: "Overview", Content: "# Overview", Status: models.PageStatusCompleted},
	}

	require.NoError(t, writer.Write(job, pages))
	_, err := os.Stat(filepath.Join(dir, CacheFileName(job)))
	assert.NoError(t, err)
}

func TestCacheWriterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	writer := NewCacheWriter(dir, common.GetLogger())

	require.NoError(t, writer.Write(structureTestJob(), nil))
	_, err := os.Stat(dir)
	assert.NoError(t, err)
}
