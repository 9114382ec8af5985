package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a wiki generation job.
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusPreparingEmbeddings JobStatus = "preparing_embeddings"
	JobStatusGeneratingStructure JobStatus = "generating_structure"
	JobStatusGeneratingPages     JobStatus = "generating_pages"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusPartiallyCompleted  JobStatus = "partially_completed"
	JobStatusFailed              JobStatus = "failed"
	JobStatusCancelled           JobStatus = "cancelled"
	JobStatusPaused              JobStatus = "paused"
)

// IsTerminal reports whether the status is final. Terminal jobs never
// re-enter the dispatcher on their own.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the job is currently being worked.
func (s JobStatus) IsActive() bool {
	switch s {
	case JobStatusPreparingEmbeddings, JobStatusGeneratingStructure, JobStatusGeneratingPages:
		return true
	}
	return false
}

// Generation phases. Each phase owns a progress band:
// phase 0 maps to 0-10%, phase 1 to 10-50%, phase 2 to 50-100%.
const (
	PhasePrepareEmbeddings = 0
	PhaseGenerateStructure = 1
	PhaseGeneratePages     = 2
)

// StatusForPhase returns the active status a job resumes into for a phase.
func StatusForPhase(phase int) JobStatus {
	switch phase {
	case PhasePrepareEmbeddings:
		return JobStatusPreparingEmbeddings
	case PhaseGenerateStructure:
		return JobStatusGeneratingStructure
	default:
		return JobStatusGeneratingPages
	}
}

// RepoType identifies where a repository is hosted.
type RepoType string

const (
	RepoTypeGitHub      RepoType = "github"
	RepoTypeGitLab      RepoType = "gitlab"
	RepoTypeBitbucket   RepoType = "bitbucket"
	RepoTypeAzureDevOps RepoType = "azuredevops"
	RepoTypeLocal       RepoType = "local"
)

// WikiJob is the durable record of a wiki generation run. All mutable
// state lives in SQLite so a restart can pick the job back up.
type WikiJob struct {
	ID       string   `json:"id"`
	Owner    string   `json:"owner"`
	Repo     string   `json:"repo"`
	RepoType RepoType `json:"repo_type"`
	RepoURL  string   `json:"repo_url"`
	Language string   `json:"language"`
	Provider string   `json:"provider"`
	Model    *string  `json:"model,omitempty"`

	Status          JobStatus `json:"status"`
	CurrentPhase    int       `json:"current_phase"`
	ProgressPercent float64   `json:"progress_percent"`
	Error           string    `json:"error,omitempty"`

	TotalPages     int `json:"total_pages"`
	CompletedPages int `json:"completed_pages"`
	FailedPages    int `json:"failed_pages"`

	StructureXML  string `json:"-"`
	Comprehensive bool   `json:"comprehensive"`

	// AccessToken is held for repository fetching only and is never
	// written to API responses.
	AccessToken string `json:"-"`

	ExcludedDirs  []string `json:"excluded_dirs,omitempty"`
	ExcludedFiles []string `json:"excluded_files,omitempty"`
	IncludedDirs  []string `json:"included_dirs,omitempty"`
	IncludedFiles []string `json:"included_files,omitempty"`

	RequestedBy string     `json:"requested_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewWikiJob creates a pending job from a generation request.
func NewWikiJob(req *GenerateWikiRequest) *WikiJob {
	now := time.Now()
	job := &WikiJob{
		ID:            uuid.New().String(),
		Owner:         req.Owner,
		Repo:          req.Repo,
		RepoType:      req.RepoType,
		RepoURL:       req.RepoURL,
		Language:      req.Language,
		Provider:      req.Provider,
		Model:         req.Model,
		Status:        JobStatusPending,
		CurrentPhase:  PhasePrepareEmbeddings,
		Comprehensive: req.Comprehensive,
		AccessToken:   req.AccessToken,
		ExcludedDirs:  req.ExcludedDirs,
		ExcludedFiles: req.ExcludedFiles,
		IncludedDirs:  req.IncludedDirs,
		IncludedFiles: req.IncludedFiles,
		RequestedBy:   req.RequestedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if job.RepoType == "" {
		job.RepoType = RepoTypeGitHub
	}
	if job.Language == "" {
		job.Language = "en"
	}
	return job
}

// PageStatus represents the lifecycle state of a single wiki page.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusGenerating PageStatus = "generating"
	PageStatusCompleted  PageStatus = "completed"
	PageStatusFailed     PageStatus = "failed"
	// PageStatusPermanentFailed marks a page whose retry budget is
	// spent. The dispatcher never picks it up again; only an explicit
	// per-page retry clears it.
	PageStatusPermanentFailed PageStatus = "permanent_failed"
)

// IsFailed reports whether the page is in either failed state.
func (s PageStatus) IsFailed() bool {
	return s == PageStatusFailed || s == PageStatusPermanentFailed
}

// PageImportance ranks a page within the generated structure.
type PageImportance string

const (
	ImportanceHigh   PageImportance = "high"
	ImportanceMedium PageImportance = "medium"
	ImportanceLow    PageImportance = "low"
)

// WikiPage is the per-page checkpoint row. Pages are created when the
// structure is stored and updated individually as generation proceeds.
type WikiPage struct {
	JobID         string         `json:"job_id"`
	PageID        string         `json:"page_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Importance    PageImportance `json:"importance"`
	FilePaths     []string       `json:"file_paths"`
	RelatedPages  []string       `json:"related_pages,omitempty"`
	ParentSection string         `json:"parent_section,omitempty"`
	Status        PageStatus     `json:"status"`
	Content       string         `json:"content,omitempty"`
	Error         string         `json:"error,omitempty"`
	RetryCount    int            `json:"retry_count"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// JobTokenStats aggregates token accounting for one job.
type JobTokenStats struct {
	JobID             string    `json:"job_id"`
	EmbeddingTokens   int64     `json:"embedding_tokens"`
	EmbeddingRequests int64     `json:"embedding_requests"`
	TotalFiles        int64     `json:"total_files"`
	TotalChunks       int64     `json:"total_chunks"`
	SkippedFiles      int64     `json:"skipped_files"`
	PromptTokens      int64     `json:"prompt_tokens"`
	CompletionTokens  int64     `json:"completion_tokens"`
	ProviderRequests  int64     `json:"provider_requests"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ProviderTotal returns the combined prompt and completion token count.
func (s *JobTokenStats) ProviderTotal() int64 {
	return s.PromptTokens + s.CompletionTokens
}

// JobListFilter narrows ListJobs results.
type JobListFilter struct {
	Statuses []JobStatus
	Owner    string
	Repo     string
	Limit    int
	Offset   int
}
