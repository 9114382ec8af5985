// -----------------------------------------------------------------------
// Last Modified: Wednesday, 8th October 2025 12:10:32 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/codewiki/internal/models"
)

// JobStorage - interface for wiki job persistence
type JobStorage interface {
	// Job operations
	SaveJob(ctx context.Context, job *models.WikiJob) error
	GetJob(ctx context.Context, id string) (*models.WikiJob, error)
	FindActiveJob(ctx context.Context, owner, repo, language, provider string, model *string) (*models.WikiJob, error)
	ListJobs(ctx context.Context, filter *models.JobListFilter) ([]*models.WikiJob, error)
	CountJobs(ctx context.Context, filter *models.JobListFilter) (int, error)
	NextRunnableJob(ctx context.Context) (*models.WikiJob, error)
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, errMsg string) error
	UpdateJobProgress(ctx context.Context, id string, phase int, percent float64) error
	SetWikiStructure(ctx context.Context, id string, structureXML string, pages []*models.WikiPage) error
	IncrementJobPageCount(ctx context.Context, id string, completed bool) error
	DeleteJob(ctx context.Context, id string) error
	RecoverInterruptedJobs(ctx context.Context) (int, error)

	// Page operations
	GetPages(ctx context.Context, jobID string) ([]*models.WikiPage, error)
	GetPage(ctx context.Context, jobID, pageID string) (*models.WikiPage, error)
	UpdatePageStatus(ctx context.Context, jobID, pageID string, status models.PageStatus, content, errMsg string) error
	ResetPage(ctx context.Context, jobID, pageID string) error
	ResetStuckPages(ctx context.Context, jobID string) (int, error)
}

// TokenStatsStorage - interface for per-job token accounting rows
type TokenStatsStorage interface {
	InitStats(ctx context.Context, jobID string) error
	AddChunkingStats(ctx context.Context, jobID string, files, chunks, skipped, embeddingTokens, embeddingRequests int64) error
	AddProviderStats(ctx context.Context, jobID string, promptTokens, completionTokens int64) error
	GetStats(ctx context.Context, jobID string) (*models.JobTokenStats, error)
	ResetStats(ctx context.Context, jobID string) error
}

// GuardStorage - interface for rate limit and budget persistence
type GuardStorage interface {
	// Sliding-window rate limiting
	RecordRequest(ctx context.Context, userID string, at time.Time) error
	CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error)
	PruneRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Monthly budget accounting
	GetMonthlySpend(ctx context.Context, userID, month string) (float64, error)
	AddMonthlySpend(ctx context.Context, userID, month string, amountUSD float64) error
	LogUsage(ctx context.Context, userID, jobID, provider, model string, promptTokens, completionTokens int64, costUSD float64) error
}
