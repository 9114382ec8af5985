package repo

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// Resolver routes jobs to the fetcher for their repository type.
type Resolver struct {
	github *GitHubFetcher
	local  *LocalFetcher
}

func NewResolver(logger arbor.ILogger) *Resolver {
	return &Resolver{
		github: NewGitHubFetcher(logger),
		local:  NewLocalFetcher(logger),
	}
}

// Resolve returns the fetcher for a job's repository type. Hosting
// types without an implementation surface a clear error rather than a
// silent github fallback.
func (r *Resolver) Resolve(job *models.WikiJob) (interfaces.RepoFetcher, error) {
	switch job.RepoType {
	case models.RepoTypeGitHub, "":
		return r.github, nil
	case models.RepoTypeLocal:
		return r.local, nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", job.RepoType)
	}
}
