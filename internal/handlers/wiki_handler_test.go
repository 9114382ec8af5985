package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
	"github.com/ternarybob/codewiki/internal/services/events"
	"github.com/ternarybob/codewiki/internal/services/guards"
	"github.com/ternarybob/codewiki/internal/services/jobs"
	"github.com/ternarybob/codewiki/internal/storage/sqlite"
)

func guardsTokenTracker(t *testing.T, db *sqlite.SQLiteDB) interfaces.TokenTracker {
	t.Helper()
	return guards.NewTokenTracker(sqlite.NewTokenStatsStorage(db, common.GetLogger()), common.GetLogger())
}

type stubRateLimiter struct {
	allow bool
	err   error
}

func (s *stubRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	return s.allow, s.err
}

type stubBudget struct {
	under bool
	err   error
}

func (s *stubBudget) CheckBudget(ctx context.Context, userID string) (bool, error) {
	return s.under, s.err
}

func (s *stubBudget) LogUsage(ctx context.Context, userID, jobID, provider, model string, promptTokens, completionTokens int64) error {
	return nil
}

type handlerHarness struct {
	handler *WikiHandler
	manager *jobs.Manager
	storage interfaces.JobStorage
	tokens  interfaces.TokenTracker
	limiter *stubRateLimiter
	budget  *stubBudget
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()

	config := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		CacheSizeMB:   16,
		BusyTimeoutMS: 1000,
		WALMode:       true,
	}
	db, err := sqlite.NewSQLiteDB(common.GetLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage := sqlite.NewJobStorage(db, common.GetLogger())
	bus := events.NewProgressBus(common.GetLogger(), time.Hour)
	eventService := events.NewService(common.GetLogger())
	t.Cleanup(func() { eventService.Close() })
	manager := jobs.NewManager(storage, bus, eventService, common.GetLogger())

	tokens := guardsTokenTracker(t, db)
	limiter := &stubRateLimiter{allow: true}
	budget := &stubBudget{under: true}

	return &handlerHarness{
		handler: NewWikiHandler(manager, tokens, limiter, budget, common.GetLogger()),
		manager: manager,
		storage: storage,
		tokens:  tokens,
		limiter: limiter,
		budget:  budget,
	}
}

func startRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return httptest.NewRequest("POST", "/api/wiki_generation/start", bytes.NewReader(payload))
}

func validStartBody() *models.GenerateWikiRequest {
	return &models.GenerateWikiRequest{
		Owner:    "acme",
		Repo:     "widget",
		Provider: "google",
	}
}

func (h *handlerHarness) createJob(t *testing.T) string {
	t.Helper()
	resp, err := h.manager.CreateJob(context.Background(), validStartBody())
	require.NoError(t, err)
	return resp.JobID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestStartHandlerCreatesJob(t *testing.T) {
	h := newHandlerHarness(t)

	rec := httptest.NewRecorder()
	h.handler.StartHandler(rec, startRequest(t, validStartBody()))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.GenerateWikiResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.JobID)
	assert.False(t, resp.Existing)

	// The same tuple maps onto the active job instead of creating another.
	rec = httptest.NewRecorder()
	h.handler.StartHandler(rec, startRequest(t, validStartBody()))
	require.Equal(t, http.StatusOK, rec.Code)

	var again models.GenerateWikiResponse
	decodeBody(t, rec, &again)
	assert.Equal(t, resp.JobID, again.JobID)
	assert.True(t, again.Existing)
}

func TestStartHandlerRejectsInvalidPayloads(t *testing.T) {
	h := newHandlerHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/wiki_generation/start", bytes.NewReader([]byte("{not json")))
	h.handler.StartHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing required provider field
	rec = httptest.NewRecorder()
	h.handler.StartHandler(rec, startRequest(t, &models.GenerateWikiRequest{Owner: "acme", Repo: "widget"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown repo type
	body := validStartBody()
	body.RepoType = "svn"
	rec = httptest.NewRecorder()
	h.handler.StartHandler(rec, startRequest(t, body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartHandlerAcceptsEveryHostedRepoType(t *testing.T) {
	h := newHandlerHarness(t)

	for i, repoType := range []models.RepoType{
		models.RepoTypeGitHub, models.RepoTypeGitLab, models.RepoTypeBitbucket, models.RepoTypeAzureDevOps,
	} {
		body := validStartBody()
		body.Repo = fmt.Sprintf("widget-%d", i)
		body.RepoType = repoType

		rec := httptest.NewRecorder()
		h.handler.StartHandler(rec, startRequest(t, body))
		assert.Equal(t, http.StatusCreated, rec.Code, string(repoType))
	}
}

func TestStartHandlerMethodNotAllowed(t *testing.T) {
	h := newHandlerHarness(t)

	rec := httptest.NewRecorder()
	h.handler.StartHandler(rec, httptest.NewRequest("GET", "/api/wiki_generation/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartHandlerRateLimited(t *testing.T) {
	h := newHandlerHarness(t)
	h.limiter.allow = false

	rec := httptest.NewRecorder()
	h.handler.StartHandler(rec, startRequest(t, validStartBody()))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStartHandlerBudgetExhausted(t *testing.T) {
	h := newHandlerHarness(t)
	h.budget.under = false

	rec := httptest.NewRecorder()
	h.handler.StartHandler(rec, startRequest(t, validStartBody()))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestStatusHandlerReturnsDetail(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := context.Background()
	jobID := h.createJob(t)

	pages := []*models.WikiPage{
		{PageID: "overview", Title: "Overview", Importance: models.ImportanceHigh},
	}
	require.NoError(t, h.manager.SetWikiStructure(ctx, jobID, "<wiki_structure/>", pages))
	require.NoError(t, h.tokens.Initialize(ctx, jobID))
	require.NoError(t, h.tokens.AddProvider(ctx, jobID, interfaces.TrackedUsage{PromptTokens: 100, CompletionTokens: 40}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/wiki_generation/status/"+jobID, nil)
	h.handler.StatusHandler(rec, req, jobID)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail models.JobStatusResponse
	decodeBody(t, rec, &detail)
	require.NotNil(t, detail.Job)
	assert.Equal(t, jobID, detail.Job.ID)
	require.Len(t, detail.Pages, 1)
	assert.Equal(t, "Overview", detail.Pages[0].Title)
	require.NotNil(t, detail.Tokens)
	assert.Equal(t, int64(100), detail.Tokens.PromptTokens)
}

func TestStatusHandlerNotFound(t *testing.T) {
	h := newHandlerHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/wiki_generation/status/missing", nil)
	h.handler.StatusHandler(rec, req, "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsHandlerPaginatesAndFilters(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := context.Background()

	first := h.createJob(t)
	require.NoError(t, h.manager.CancelJob(ctx, first))
	second, err := h.manager.CreateJob(ctx, &models.GenerateWikiRequest{Owner: "acme", Repo: "gadget", Provider: "google"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/wiki_generation/jobs?limit=1", nil)
	h.handler.ListJobsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Jobs       []*models.WikiJob `json:"jobs"`
		TotalCount int               `json:"total_count"`
		Limit      int               `json:"limit"`
		Offset     int               `json:"offset"`
	}
	decodeBody(t, rec, &listing)
	assert.Len(t, listing.Jobs, 1)
	assert.Equal(t, 2, listing.TotalCount)
	assert.Equal(t, 1, listing.Limit)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/wiki_generation/jobs?status=pending", nil)
	h.handler.ListJobsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	decodeBody(t, rec, &listing)
	require.Len(t, listing.Jobs, 1)
	assert.Equal(t, second.JobID, listing.Jobs[0].ID)
}

func TestListJobsHandlerCapsLimit(t *testing.T) {
	h := newHandlerHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/wiki_generation/jobs?limit=5000", nil)
	h.handler.ListJobsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Limit int `json:"limit"`
	}
	decodeBody(t, rec, &listing)
	assert.Equal(t, maxListLimit, listing.Limit)
}

func TestLifecycleTransitionHandlers(t *testing.T) {
	h := newHandlerHarness(t)
	jobID := h.createJob(t)

	post := func() *http.Request {
		return httptest.NewRequest("POST", "/api/wiki_generation/"+jobID, nil)
	}

	rec := httptest.NewRecorder()
	h.handler.PauseHandler(rec, post(), jobID)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "paused", body["status"])

	// Pausing a paused job is a state conflict, not a server error.
	rec = httptest.NewRecorder()
	h.handler.PauseHandler(rec, post(), jobID)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.handler.ResumeHandler(rec, post(), jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "resumed", body["status"])

	rec = httptest.NewRecorder()
	h.handler.CancelHandler(rec, post(), jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "cancelled", body["status"])

	rec = httptest.NewRecorder()
	h.handler.RetryHandler(rec, post(), jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "queued", body["status"])

	rec = httptest.NewRecorder()
	h.handler.PauseHandler(rec, httptest.NewRequest("GET", "/api/wiki_generation/"+jobID, nil), jobID)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTransitionHandlersUnknownJob(t *testing.T) {
	h := newHandlerHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/wiki_generation/missing/pause", nil)
	h.handler.PauseHandler(rec, req, "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryPageHandler(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := context.Background()
	jobID := h.createJob(t)

	pages := []*models.WikiPage{
		{PageID: "overview", Title: "Overview", Importance: models.ImportanceHigh},
		{PageID: "setup", Title: "Setup", Importance: models.ImportanceMedium},
	}
	require.NoError(t, h.manager.SetWikiStructure(ctx, jobID, "<wiki_structure/>", pages))
	require.NoError(t, h.manager.UpdatePageStatus(ctx, jobID, "overview", models.PageStatusCompleted, "# Overview", ""))
	require.NoError(t, h.manager.IncrementJobPageCount(ctx, jobID, true))
	require.NoError(t, h.manager.UpdatePageStatus(ctx, jobID, "setup", models.PageStatusFailed, "", "context limit"))
	require.NoError(t, h.manager.IncrementJobPageCount(ctx, jobID, false))
	require.NoError(t, h.manager.UpdateJobStatus(ctx, jobID, models.JobStatusPartiallyCompleted, ""))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/wiki_generation/"+jobID+"/pages/overview/retry", nil)
	h.handler.RetryPageHandler(rec, req, jobID, "overview")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/wiki_generation/"+jobID+"/pages/setup/retry", nil)
	h.handler.RetryPageHandler(rec, req, jobID, "setup")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "setup", body["page_id"])
	assert.Equal(t, "queued", body["status"])

	job, err := h.storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestDeleteHandler(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := context.Background()
	jobID := h.createJob(t)

	require.NoError(t, h.manager.UpdateJobStatus(ctx, jobID, models.JobStatusGeneratingPages, ""))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/wiki_generation/"+jobID+"/delete", nil)
	h.handler.DeleteHandler(rec, req, jobID)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, h.manager.CancelJob(ctx, jobID))

	rec = httptest.NewRecorder()
	h.handler.DeleteHandler(rec, req, jobID)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := h.storage.GetJob(ctx, jobID)
	assert.ErrorIs(t, err, sqlite.ErrJobNotFound)
}
