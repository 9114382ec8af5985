package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// Transition errors surfaced to the API as 409s.
var (
	ErrNotPausable   = fmt.Errorf("job is not in a pausable state")
	ErrNotPaused     = fmt.Errorf("job is not paused")
	ErrAlreadyDone   = fmt.Errorf("job is already in a terminal state")
	ErrNotRetryable  = fmt.Errorf("job is not in a retryable state")
	ErrPageNotFailed = fmt.Errorf("page is not in a failed state")
	ErrJobRunning    = fmt.Errorf("job is actively running; cancel it before deleting")
)

// Manager implements interfaces.JobService on top of JobStorage. It owns
// the status transition rules and publishes a progress event after every
// state change.
type Manager struct {
	storage interfaces.JobStorage
	bus     interfaces.ProgressBus
	events  interfaces.EventService
	logger  arbor.ILogger
}

// NewManager creates a job manager
func NewManager(storage interfaces.JobStorage, bus interfaces.ProgressBus, events interfaces.EventService, logger arbor.ILogger) *Manager {
	return &Manager{
		storage: storage,
		bus:     bus,
		events:  events,
		logger:  logger,
	}
}

// CreateJob creates a pending job, or returns the existing one when a
// non-terminal job already covers the same (owner, repo, language,
// provider, model) tuple.
func (m *Manager) CreateJob(ctx context.Context, req *models.GenerateWikiRequest) (*models.GenerateWikiResponse, error) {
	language := req.Language
	if language == "" {
		language = "en"
	}

	existing, err := m.storage.FindActiveJob(ctx, req.Owner, req.Repo, language, req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing job: %w", err)
	}
	if existing != nil {
		m.logger.Info().
			Str("job_id", existing.ID).
			Str("owner", req.Owner).
			Str("repo", req.Repo).
			Msg("Returning existing active job")
		return &models.GenerateWikiResponse{JobID: existing.ID, Existing: true}, nil
	}

	job := models.NewWikiJob(req)
	if err := m.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("owner", job.Owner).
		Str("repo", job.Repo).
		Str("provider", job.Provider).
		Msg("Wiki generation job created")

	m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, Payload: job})
	return &models.GenerateWikiResponse{JobID: job.ID, Existing: false}, nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(ctx context.Context, id string) (*models.WikiJob, error) {
	return m.storage.GetJob(ctx, id)
}

// GetJobWithPages returns the job plus its page checkpoints
func (m *Manager) GetJobWithPages(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	job, err := m.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	pages, err := m.storage.GetPages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.JobStatusResponse{Job: job, Pages: pages}, nil
}

// ListJobs retrieves jobs matching the filter
func (m *Manager) ListJobs(ctx context.Context, filter *models.JobListFilter) ([]*models.WikiJob, error) {
	return m.storage.ListJobs(ctx, filter)
}

// CountJobs counts jobs matching the filter
func (m *Manager) CountJobs(ctx context.Context, filter *models.JobListFilter) (int, error) {
	return m.storage.CountJobs(ctx, filter)
}

// UpdateJobStatus transitions a job and publishes progress
func (m *Manager) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, errMsg string) error {
	if err := m.storage.UpdateJobStatus(ctx, id, status, errMsg); err != nil {
		return err
	}
	m.publishProgress(ctx, id, "progress")
	if status.IsTerminal() {
		if job, err := m.storage.GetJob(ctx, id); err == nil {
			m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCompleted, Payload: job})
		}
	}
	return nil
}

// UpdateProgress updates the phase and percent for a job
func (m *Manager) UpdateProgress(ctx context.Context, id string, phase int, percent float64) error {
	if err := m.storage.UpdateJobProgress(ctx, id, phase, percent); err != nil {
		return err
	}
	m.publishProgress(ctx, id, "progress")
	return nil
}

// SetWikiStructure stores the structure and its page rows
func (m *Manager) SetWikiStructure(ctx context.Context, id, structureXML string, pages []*models.WikiPage) error {
	if err := m.storage.SetWikiStructure(ctx, id, structureXML, pages); err != nil {
		return err
	}
	m.publishProgress(ctx, id, "progress")
	return nil
}

// UpdatePageStatus transitions one page
func (m *Manager) UpdatePageStatus(ctx context.Context, jobID, pageID string, status models.PageStatus, content, errMsg string) error {
	return m.storage.UpdatePageStatus(ctx, jobID, pageID, status, content, errMsg)
}

// IncrementJobPageCount bumps the per-job page counters and progress
func (m *Manager) IncrementJobPageCount(ctx context.Context, id string, completed bool) error {
	if err := m.storage.IncrementJobPageCount(ctx, id, completed); err != nil {
		return err
	}
	m.publishProgress(ctx, id, "progress")
	return nil
}

// PauseJob pauses an active or pending job
func (m *Manager) PauseJob(ctx context.Context, id string) error {
	job, err := m.storage.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrAlreadyDone
	}
	if !job.Status.IsActive() && job.Status != models.JobStatusPending {
		return ErrNotPausable
	}

	if err := m.storage.UpdateJobStatus(ctx, id, models.JobStatusPaused, ""); err != nil {
		return err
	}
	m.logger.Info().Str("job_id", id).Msg("Job paused")
	m.publishProgress(ctx, id, "progress")
	return nil
}

// ResumeJob returns a paused job to the phase-appropriate active status.
// The stored phase is preserved, so the run continues where it left off
// rather than starting over.
func (m *Manager) ResumeJob(ctx context.Context, id string) error {
	job, err := m.storage.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPaused {
		return ErrNotPaused
	}

	if err := m.storage.UpdateJobStatus(ctx, id, models.StatusForPhase(job.CurrentPhase), ""); err != nil {
		return err
	}
	m.logger.Info().
		Str("job_id", id).
		Int("phase", job.CurrentPhase).
		Msg("Job resumed")
	m.publishProgress(ctx, id, "progress")
	return nil
}

// CancelJob cancels any non-terminal job
func (m *Manager) CancelJob(ctx context.Context, id string) error {
	job, err := m.storage.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrAlreadyDone
	}

	if err := m.storage.UpdateJobStatus(ctx, id, models.JobStatusCancelled, ""); err != nil {
		return err
	}
	m.logger.Info().Str("job_id", id).Msg("Job cancelled")
	m.publishProgress(ctx, id, "progress")
	return nil
}

// RetryJob restarts a failed or cancelled job from phase 0
func (m *Manager) RetryJob(ctx context.Context, id string) error {
	job, err := m.storage.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusCancelled {
		return ErrNotRetryable
	}

	job.Status = models.JobStatusPending
	job.CurrentPhase = models.PhasePrepareEmbeddings
	job.ProgressPercent = 0
	job.Error = ""
	job.TotalPages = 0
	job.CompletedPages = 0
	job.FailedPages = 0
	job.StructureXML = ""
	job.CompletedAt = nil
	if err := m.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	m.logger.Info().Str("job_id", id).Msg("Job queued for retry")
	m.publishProgress(ctx, id, "progress")
	return nil
}

// RetryFailedPage resets one failed or permanently failed page to
// pending, clearing its retry counter. A terminal job is
// reopened into phase 2 so the dispatcher regenerates just that page.
func (m *Manager) RetryFailedPage(ctx context.Context, jobID, pageID string) error {
	page, err := m.storage.GetPage(ctx, jobID, pageID)
	if err != nil {
		return err
	}
	if !page.Status.IsFailed() {
		return ErrPageNotFailed
	}

	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if err := m.storage.ResetPage(ctx, jobID, pageID); err != nil {
		return err
	}

	job.Status = models.JobStatusPending
	job.CurrentPhase = models.PhaseGeneratePages
	if job.FailedPages > 0 {
		job.FailedPages--
	}
	job.CompletedAt = nil
	job.Error = ""
	if err := m.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to reopen job for page retry: %w", err)
	}

	m.logger.Info().
		Str("job_id", jobID).
		Str("page_id", pageID).
		Msg("Failed page queued for retry")
	m.publishProgress(ctx, jobID, "progress")
	return nil
}

// ResetStuckPages returns in-flight pages to pending
func (m *Manager) ResetStuckPages(ctx context.Context, jobID string) (int, error) {
	return m.storage.ResetStuckPages(ctx, jobID)
}

// DeleteJob removes a job after refusing to delete one that is actively
// running
func (m *Manager) DeleteJob(ctx context.Context, id string) error {
	job, err := m.storage.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsActive() {
		return ErrJobRunning
	}

	if err := m.storage.DeleteJob(ctx, id); err != nil {
		return err
	}
	m.bus.Unregister(id)
	return nil
}

// publishProgress snapshots the job and pushes one event to the bus
func (m *Manager) publishProgress(ctx context.Context, id, eventType string) {
	job, err := m.storage.GetJob(ctx, id)
	if err != nil {
		return
	}

	event := &models.ProgressEvent{
		Type:            eventType,
		JobID:           job.ID,
		Status:          job.Status,
		CurrentPhase:    job.CurrentPhase,
		ProgressPercent: job.ProgressPercent,
		CompletedPages:  job.CompletedPages,
		FailedPages:     job.FailedPages,
		TotalPages:      job.TotalPages,
		CurrentPage:     m.bus.CurrentPage(job.ID),
		Error:           job.Error,
		Timestamp:       time.Now().Unix(),
	}
	m.bus.Publish(event)
	m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobProgress, Payload: event})
}
