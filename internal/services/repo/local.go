package repo

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/models"
)

// LocalFetcher reads a repository checkout from the local filesystem.
// The job's RepoURL carries the directory path.
type LocalFetcher struct {
	logger arbor.ILogger
}

func NewLocalFetcher(logger arbor.ILogger) *LocalFetcher {
	return &LocalFetcher{logger: logger}
}

func localRoot(job *models.WikiJob) (string, error) {
	root := strings.TrimPrefix(job.RepoURL, "file://")
	if root == "" {
		return "", fmt.Errorf("local repository requires a path in repo_url")
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("cannot access local repository %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("local repository %s is not a directory", root)
	}
	return root, nil
}

func (l *LocalFetcher) walk(ctx context.Context, job *models.WikiJob) ([]*models.RepoFile, error) {
	root, err := localRoot(job)
	if err != nil {
		return nil, err
	}
	filter := newFileFilter(job)

	var files []*models.RepoFile
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if rel == "." {
				return nil
			}
			for _, dir := range filter.excludedDirs {
				if entry.Name() == dir {
					return filepath.SkipDir
				}
			}
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > maxReadableFileBytes {
			return nil
		}
		if !filter.Keep(rel) {
			return nil
		}
		files = append(files, &models.RepoFile{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}

func (l *LocalFetcher) FileTree(ctx context.Context, job *models.WikiJob) (string, error) {
	files, err := l.walk(ctx, job)
	if err != nil {
		return "", err
	}
	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	return strings.Join(paths, "\n"), nil
}

func (l *LocalFetcher) ListFiles(ctx context.Context, job *models.WikiJob) ([]*models.RepoFile, error) {
	return l.walk(ctx, job)
}

func (l *LocalFetcher) ReadFile(ctx context.Context, job *models.WikiJob, path string) (string, error) {
	root, err := localRoot(job)
	if err != nil {
		return "", err
	}

	full := filepath.Join(root, filepath.FromSlash(path))
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s escapes the repository", path)
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if looksBinary(content) {
		return "", fmt.Errorf("%s is binary", path)
	}
	return string(content), nil
}

func (l *LocalFetcher) Readme(ctx context.Context, job *models.WikiJob) (string, error) {
	for _, name := range []string{"README.md", "README.MD", "readme.md", "README", "README.rst", "README.txt"} {
		content, err := l.ReadFile(ctx, job, name)
		if err == nil {
			return content, nil
		}
	}
	return "", nil
}
