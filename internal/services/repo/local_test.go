package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/models"
)

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func localTestRepo(t *testing.T) (string, *models.WikiJob) {
	t.Helper()
	root := t.TempDir()

	writeRepoFile(t, root, "README.md", "# Widget\n\nA test project.")
	writeRepoFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeRepoFile(t, root, "internal/api/handler.go", "package api\n")
	writeRepoFile(t, root, "node_modules/dep/index.js", "module.exports = {}\n")

	job := &models.WikiJob{
		RepoType: models.RepoTypeLocal,
		RepoURL:  "file://" + root,
	}
	return root, job
}

func TestLocalFetcherListFiles(t *testing.T) {
	_, job := localTestRepo(t)
	fetcher := NewLocalFetcher(common.GetLogger())

	files, err := fetcher.ListFiles(context.Background(), job)
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	assert.ElementsMatch(t, []string{"README.md", "main.go", "internal/api/handler.go"}, paths)
}

func TestLocalFetcherFileTree(t *testing.T) {
	_, job := localTestRepo(t)
	fetcher := NewLocalFetcher(common.GetLogger())

	tree, err := fetcher.FileTree(context.Background(), job)
	require.NoError(t, err)
	assert.Contains(t, tree, "main.go")
	assert.NotContains(t, tree, "node_modules")
}

func TestLocalFetcherReadFile(t *testing.T) {
	_, job := localTestRepo(t)
	fetcher := NewLocalFetcher(common.GetLogger())
	ctx := context.Background()

	content, err := fetcher.ReadFile(ctx, job, "main.go")
	require.NoError(t, err)
	assert.Contains(t, content, "package main")

	_, err = fetcher.ReadFile(ctx, job, "missing.go")
	assert.Error(t, err)
}

func TestLocalFetcherReadFileRejectsEscape(t *testing.T) {
	_, job := localTestRepo(t)
	fetcher := NewLocalFetcher(common.GetLogger())

	_, err := fetcher.ReadFile(context.Background(), job, "../outside.txt")
	assert.Error(t, err)
}

func TestLocalFetcherReadme(t *testing.T) {
	_, job := localTestRepo(t)
	fetcher := NewLocalFetcher(common.GetLogger())

	readme, err := fetcher.Readme(context.Background(), job)
	require.NoError(t, err)
	assert.Contains(t, readme, "# Widget")
}

func TestLocalFetcherReadmeMissing(t *testing.T) {
	job := &models.WikiJob{
		RepoType: models.RepoTypeLocal,
		RepoURL:  "file://" + t.TempDir(),
	}
	fetcher := NewLocalFetcher(common.GetLogger())

	readme, err := fetcher.Readme(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, readme)
}

func TestLocalFetcherMissingRoot(t *testing.T) {
	fetcher := NewLocalFetcher(common.GetLogger())

	_, err := fetcher.ListFiles(context.Background(), &models.WikiJob{
		RepoType: models.RepoTypeLocal,
		RepoURL:  "file:///does/not/exist",
	})
	assert.Error(t, err)
}

func TestResolverRoutesByRepoType(t *testing.T) {
	resolver := NewResolver(common.GetLogger())

	fetcher, err := resolver.Resolve(&models.WikiJob{RepoType: models.RepoTypeLocal})
	require.NoError(t, err)
	assert.IsType(t, &LocalFetcher{}, fetcher)

	fetcher, err = resolver.Resolve(&models.WikiJob{RepoType: models.RepoTypeGitHub})
	require.NoError(t, err)
	assert.IsType(t, &GitHubFetcher{}, fetcher)

	fetcher, err = resolver.Resolve(&models.WikiJob{})
	require.NoError(t, err)
	assert.IsType(t, &GitHubFetcher{}, fetcher)

	_, err = resolver.Resolve(&models.WikiJob{RepoType: "bitbucket"})
	assert.Error(t, err)
}
