package interfaces

import (
	"context"

	"github.com/ternarybob/codewiki/internal/models"
)

// RepoFetcher reads repository contents for wiki generation. Clone
// mechanics stay behind this interface; implementations talk to hosting
// APIs or the local filesystem directly.
type RepoFetcher interface {
	// FileTree returns a newline-separated listing of repository paths
	// after include/exclude filters are applied.
	FileTree(ctx context.Context, job *models.WikiJob) (string, error)

	// ListFiles returns filtered file entries without contents.
	ListFiles(ctx context.Context, job *models.WikiJob) ([]*models.RepoFile, error)

	// ReadFile returns the contents of one file.
	ReadFile(ctx context.Context, job *models.WikiJob, path string) (string, error)

	// Readme returns the repository README contents, or empty when none
	// exists.
	Readme(ctx context.Context, job *models.WikiJob) (string, error)
}
