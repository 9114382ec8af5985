package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/models"
	"golang.org/x/oauth2"
)

// GitHubFetcher reads repository contents through the GitHub API. The
// full tree comes from one recursive Git Trees call; file contents are
// fetched lazily.
type GitHubFetcher struct {
	logger arbor.ILogger
}

func NewGitHubFetcher(logger arbor.ILogger) *GitHubFetcher {
	return &GitHubFetcher{logger: logger}
}

// client builds a per-job client so each job's access token is honored.
func (g *GitHubFetcher) client(ctx context.Context, job *models.WikiJob) *github.Client {
	var httpClient *http.Client
	if job.AccessToken != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: job.AccessToken})
		httpClient = oauth2.NewClient(ctx, source)
	}
	return github.NewClient(httpClient)
}

func (g *GitHubFetcher) tree(ctx context.Context, job *models.WikiJob) ([]*github.TreeEntry, error) {
	client := g.client(ctx, job)

	repository, _, err := client.Repositories.Get(ctx, job.Owner, job.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s/%s: %w", job.Owner, job.Repo, err)
	}
	branch := repository.GetDefaultBranch()

	tree, _, err := client.Git.GetTree(ctx, job.Owner, job.Repo, branch, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %s/%s: %w", job.Owner, job.Repo, err)
	}
	if tree.GetTruncated() {
		g.logger.Warn().Str("owner", job.Owner).Str("repo", job.Repo).Msg("GitHub tree listing truncated")
	}
	return tree.Entries, nil
}

func (g *GitHubFetcher) FileTree(ctx context.Context, job *models.WikiJob) (string, error) {
	files, err := g.ListFiles(ctx, job)
	if err != nil {
		return "", err
	}
	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	return strings.Join(paths, "\n"), nil
}

func (g *GitHubFetcher) ListFiles(ctx context.Context, job *models.WikiJob) ([]*models.RepoFile, error) {
	entries, err := g.tree(ctx, job)
	if err != nil {
		return nil, err
	}

	filter := newFileFilter(job)
	var files []*models.RepoFile
	for _, entry := range entries {
		if entry.GetType() != "blob" {
			continue
		}
		if entry.GetSize() > maxReadableFileBytes {
			continue
		}
		if !filter.Keep(entry.GetPath()) {
			continue
		}
		files = append(files, &models.RepoFile{
			Path: entry.GetPath(),
			Size: int64(entry.GetSize()),
		})
	}
	return files, nil
}

func (g *GitHubFetcher) ReadFile(ctx context.Context, job *models.WikiJob, path string) (string, error) {
	client := g.client(ctx, job)
	fileContent, _, _, err := client.Repositories.GetContents(ctx, job.Owner, job.Repo, path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("%s is not a file", path)
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if looksBinary([]byte(content)) {
		return "", fmt.Errorf("%s is binary", path)
	}
	return content, nil
}

func (g *GitHubFetcher) Readme(ctx context.Context, job *models.WikiJob) (string, error) {
	client := g.client(ctx, job)
	readme, _, err := client.Repositories.GetReadme(ctx, job.Owner, job.Repo, nil)
	if err != nil {
		var apiErr *github.ErrorResponse
		if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get readme: %w", err)
	}
	content, err := readme.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode readme: %w", err)
	}
	return content, nil
}
