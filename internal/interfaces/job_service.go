package interfaces

import (
	"context"

	"github.com/ternarybob/codewiki/internal/models"
)

// JobService is the job manager contract: lifecycle operations layered
// over JobStorage with status-transition rules enforced.
type JobService interface {
	// CreateJob creates a pending job, or returns the existing job when a
	// non-terminal job already covers the same repository tuple.
	CreateJob(ctx context.Context, req *models.GenerateWikiRequest) (*models.GenerateWikiResponse, error)

	GetJob(ctx context.Context, id string) (*models.WikiJob, error)
	GetJobWithPages(ctx context.Context, id string) (*models.JobStatusResponse, error)
	ListJobs(ctx context.Context, filter *models.JobListFilter) ([]*models.WikiJob, error)
	CountJobs(ctx context.Context, filter *models.JobListFilter) (int, error)

	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, errMsg string) error
	UpdateProgress(ctx context.Context, id string, phase int, percent float64) error
	SetWikiStructure(ctx context.Context, id, structureXML string, pages []*models.WikiPage) error
	UpdatePageStatus(ctx context.Context, jobID, pageID string, status models.PageStatus, content, errMsg string) error
	IncrementJobPageCount(ctx context.Context, id string, completed bool) error

	PauseJob(ctx context.Context, id string) error
	ResumeJob(ctx context.Context, id string) error
	CancelJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string) error
	RetryFailedPage(ctx context.Context, jobID, pageID string) error
	ResetStuckPages(ctx context.Context, jobID string) (int, error)
	DeleteJob(ctx context.Context, id string) error
}
