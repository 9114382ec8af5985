package models

// GenerateWikiRequest is the payload for POST /api/wiki_generation/start.
type GenerateWikiRequest struct {
	Owner         string   `json:"owner" validate:"required"`
	Repo          string   `json:"repo" validate:"required"`
	RepoType      RepoType `json:"repo_type" validate:"omitempty,oneof=github gitlab bitbucket azuredevops local"`
	RepoURL       string   `json:"repo_url"`
	Language      string   `json:"language"`
	Provider      string   `json:"provider" validate:"required"`
	Model         *string  `json:"model,omitempty"`
	Comprehensive bool     `json:"comprehensive"`
	AccessToken   string   `json:"access_token,omitempty"`
	ExcludedDirs  []string `json:"excluded_dirs,omitempty"`
	ExcludedFiles []string `json:"excluded_files,omitempty"`
	IncludedDirs  []string `json:"included_dirs,omitempty"`
	IncludedFiles []string `json:"included_files,omitempty"`
	RequestedBy   string   `json:"requested_by,omitempty"`
}

// GenerateWikiResponse acknowledges job creation.
type GenerateWikiResponse struct {
	JobID    string `json:"job_id"`
	Existing bool   `json:"existing"`
}

// JobStatusResponse is the snapshot returned by the status endpoint and
// as the first line of the NDJSON stream.
type JobStatusResponse struct {
	Job    *WikiJob       `json:"job"`
	Pages  []*WikiPage    `json:"pages,omitempty"`
	Tokens *JobTokenStats `json:"tokens,omitempty"`
}

// ProgressEvent is one NDJSON line on the status stream.
type ProgressEvent struct {
	Type            string    `json:"type"` // "snapshot", "progress", "heartbeat"
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	CurrentPhase    int       `json:"current_phase"`
	ProgressPercent float64   `json:"progress_percent"`
	CompletedPages  int       `json:"completed_pages"`
	FailedPages     int       `json:"failed_pages"`
	TotalPages      int       `json:"total_pages"`
	CurrentPage     string    `json:"current_page,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       int64     `json:"timestamp"`
}
