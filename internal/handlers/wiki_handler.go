package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
	"github.com/ternarybob/codewiki/internal/services/jobs"
	"github.com/ternarybob/codewiki/internal/storage/sqlite"
)

const maxListLimit = 100

// WikiHandler serves the wiki generation API.
type WikiHandler struct {
	jobs        *jobs.Manager
	tokens      interfaces.TokenTracker
	rateLimiter interfaces.RateLimiter
	budget      interfaces.BudgetTracker
	validate    *validator.Validate
	logger      arbor.ILogger
}

func NewWikiHandler(manager *jobs.Manager, tokens interfaces.TokenTracker, rateLimiter interfaces.RateLimiter, budget interfaces.BudgetTracker, logger arbor.ILogger) *WikiHandler {
	return &WikiHandler{
		jobs:        manager,
		tokens:      tokens,
		rateLimiter: rateLimiter,
		budget:      budget,
		validate:    validator.New(),
		logger:      logger,
	}
}

// StartHandler creates a wiki generation job, or returns the active one
// covering the same repository tuple.
// POST /api/wiki_generation/start
func (h *WikiHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req models.GenerateWikiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := req.RequestedBy

	allowed, err := h.rateLimiter.Allow(ctx, userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Rate limit check failed")
		WriteError(w, http.StatusInternalServerError, "Rate limit check failed")
		return
	}
	if !allowed {
		WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
		return
	}

	underBudget, err := h.budget.CheckBudget(ctx, userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Budget check failed")
		WriteError(w, http.StatusInternalServerError, "Budget check failed")
		return
	}
	if !underBudget {
		WriteError(w, http.StatusPaymentRequired, "Monthly budget exhausted")
		return
	}

	resp, err := h.jobs.CreateJob(ctx, &req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	status := http.StatusCreated
	if resp.Existing {
		status = http.StatusOK
	}
	WriteJSON(w, status, resp)
}

// StatusHandler returns the full job detail including pages and token
// accounting.
// GET /api/wiki_generation/status/{id}
func (h *WikiHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	detail, err := h.jobs.GetJobWithPages(ctx, jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}
	if stats, statsErr := h.tokens.Get(ctx, jobID); statsErr == nil {
		detail.Tokens = stats
	}
	WriteJSON(w, http.StatusOK, detail)
}

// ListJobsHandler returns a paginated job list.
// GET /api/wiki_generation/jobs?status=...&owner=...&repo=...&limit=50&offset=0
func (h *WikiHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	filter := &models.JobListFilter{
		Owner: r.URL.Query().Get("owner"),
		Repo:  r.URL.Query().Get("repo"),
		Limit: 50,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		for _, s := range strings.Split(status, ",") {
			filter.Statuses = append(filter.Statuses, models.JobStatus(strings.TrimSpace(s)))
		}
	}
	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		filter.Limit = parsed
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if parsed, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && parsed >= 0 {
		filter.Offset = parsed
	}

	list, err := h.jobs.ListJobs(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	total, err := h.jobs.CountJobs(ctx, filter)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count jobs")
		total = len(list)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        list,
		"total_count": total,
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})
}

// PauseHandler pauses an active job.
// POST /api/wiki_generation/{id}/pause
func (h *WikiHandler) PauseHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	h.transition(w, r, jobID, h.jobs.PauseJob, "paused")
}

// ResumeHandler resumes a paused job at its checkpointed phase.
// POST /api/wiki_generation/{id}/resume
func (h *WikiHandler) ResumeHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	h.transition(w, r, jobID, h.jobs.ResumeJob, "resumed")
}

// CancelHandler cancels a job.
// POST /api/wiki_generation/{id}/cancel and DELETE /api/wiki_generation/{id}
func (h *WikiHandler) CancelHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	h.transition(w, r, jobID, h.jobs.CancelJob, "cancelled")
}

// RetryHandler restarts a failed or cancelled job from phase 0.
// POST /api/wiki_generation/{id}/retry
func (h *WikiHandler) RetryHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	h.transition(w, r, jobID, h.jobs.RetryJob, "queued")
}

// RetryPageHandler re-queues one failed page and reopens its job.
// POST /api/wiki_generation/{id}/pages/{pageID}/retry
func (h *WikiHandler) RetryPageHandler(w http.ResponseWriter, r *http.Request, jobID, pageID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	if err := h.jobs.RetryFailedPage(r.Context(), jobID, pageID); err != nil {
		h.writeJobError(w, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "page_id": pageID, "status": "queued"})
}

// DeleteHandler removes a terminal job and its pages.
// POST /api/wiki_generation/{id}/delete
func (h *WikiHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := h.jobs.DeleteJob(r.Context(), jobID); err != nil {
		h.writeJobError(w, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "deleted"})
}

func (h *WikiHandler) transition(w http.ResponseWriter, r *http.Request, jobID string, op func(ctx context.Context, id string) error, result string) {
	if err := op(r.Context(), jobID); err != nil {
		h.writeJobError(w, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": result})
}

func (h *WikiHandler) writeJobError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, sqlite.ErrJobNotFound), errors.Is(err, sqlite.ErrPageNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrNotPausable),
		errors.Is(err, jobs.ErrNotPaused),
		errors.Is(err, jobs.ErrAlreadyDone),
		errors.Is(err, jobs.ErrNotRetryable),
		errors.Is(err, jobs.ErrPageNotFailed),
		errors.Is(err, jobs.ErrJobRunning):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Job operation failed")
		WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}
