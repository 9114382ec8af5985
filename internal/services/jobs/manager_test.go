package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
	"github.com/ternarybob/codewiki/internal/services/events"
	"github.com/ternarybob/codewiki/internal/storage/sqlite"
)

func newTestManager(t *testing.T) (*Manager, interfaces.JobStorage) {
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

	return NewManager(storage, bus, eventService, common.GetLogger()), storage
}

func generateRequest(owner, repo string) *models.GenerateWikiRequest {
	return &models.GenerateWikiRequest{
		Owner:    owner,
		Repo:     repo,
		Provider: "google",
	}
}

func TestCreateJob(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)
	assert.False(t, resp.Existing)
	require.NotEmpty(t, resp.JobID)

	job, err := storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "en", job.Language)
}

func TestCreateJobDeduplicatesActive(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	first, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	second, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.JobID, second.JobID)

	// A different repo gets its own job
	third, err := manager.CreateJob(ctx, generateRequest("acme", "gadget"))
	require.NoError(t, err)
	assert.False(t, third.Existing)
	assert.NotEqual(t, first.JobID, third.JobID)
}

func TestCreateJobAfterTerminal(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	first, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)
	require.NoError(t, manager.UpdateJobStatus(ctx, first.JobID, models.JobStatusCompleted, ""))

	second, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)
	assert.False(t, second.Existing)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestPauseResume(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	require.NoError(t, manager.PauseJob(ctx, resp.JobID))
	job, err := storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, job.Status)

	// Pausing a paused job is rejected
	assert.ErrorIs(t, manager.PauseJob(ctx, resp.JobID), ErrNotPausable)

	require.NoError(t, manager.ResumeJob(ctx, resp.JobID))
	job, err = storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPreparingEmbeddings, job.Status)
}

func TestResumePreservesPhase(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	require.NoError(t, manager.UpdateJobStatus(ctx, resp.JobID, models.JobStatusGeneratingStructure, ""))
	require.NoError(t, manager.UpdateProgress(ctx, resp.JobID, models.PhaseGenerateStructure, 30))
	require.NoError(t, manager.PauseJob(ctx, resp.JobID))
	require.NoError(t, manager.ResumeJob(ctx, resp.JobID))

	job, err := storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusGeneratingStructure, job.Status)
	assert.Equal(t, models.PhaseGenerateStructure, job.CurrentPhase)
}

func TestResumeRequiresPaused(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	assert.ErrorIs(t, manager.ResumeJob(ctx, resp.JobID), ErrNotPaused)
}

func TestCancelJob(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	require.NoError(t, manager.CancelJob(ctx, resp.JobID))
	job, err := storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)

	assert.ErrorIs(t, manager.CancelJob(ctx, resp.JobID), ErrAlreadyDone)
	assert.ErrorIs(t, manager.PauseJob(ctx, resp.JobID), ErrAlreadyDone)
}

func TestRetryJobResetsState(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	assert.ErrorIs(t, manager.RetryJob(ctx, resp.JobID), ErrNotRetryable)

	require.NoError(t, manager.UpdateJobStatus(ctx, resp.JobID, models.JobStatusFailed, "provider exploded"))
	require.NoError(t, manager.RetryJob(ctx, resp.JobID))

	job, err := storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.PhasePrepareEmbeddings, job.CurrentPhase)
	assert.Zero(t, job.ProgressPercent)
	assert.Empty(t, job.Error)
	assert.Nil(t, job.CompletedAt)
}

func TestRetryFailedPageReopensJob(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	pages := []*models.WikiPage{
		{PageID: "overview", Title: "Overview", Importance: models.ImportanceHigh},
		{PageID: "setup", Title: "Setup", Importance: models.ImportanceMedium},
	}
	require.NoError(t, manager.SetWikiStructure(ctx, resp.JobID, "<wiki_structure/>", pages))

	require.NoError(t, manager.UpdatePageStatus(ctx, resp.JobID, "overview", models.PageStatusCompleted, "# Overview", ""))
	require.NoError(t, manager.IncrementJobPageCount(ctx, resp.JobID, true))
	require.NoError(t, manager.UpdatePageStatus(ctx, resp.JobID, "setup", models.PageStatusFailed, "", "context limit"))
	require.NoError(t, manager.IncrementJobPageCount(ctx, resp.JobID, false))
	require.NoError(t, manager.UpdateJobStatus(ctx, resp.JobID, models.JobStatusPartiallyCompleted, ""))

	// Only failed pages can be retried
	assert.ErrorIs(t, manager.RetryFailedPage(ctx, resp.JobID, "overview"), ErrPageNotFailed)

	require.NoError(t, manager.RetryFailedPage(ctx, resp.JobID, "setup"))

	job, err := storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.PhaseGeneratePages, job.CurrentPhase)
	assert.Zero(t, job.FailedPages)
	assert.Nil(t, job.CompletedAt)

	page, err := storage.GetPage(ctx, resp.JobID, "setup")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusPending, page.Status)
	assert.Empty(t, page.Error)
}

func TestRetryFailedPageClearsExhaustedRetryBudget(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	pages := []*models.WikiPage{
		{PageID: "setup", Title: "Setup", Importance: models.ImportanceMedium},
	}
	require.NoError(t, manager.SetWikiStructure(ctx, resp.JobID, "<wiki_structure/>", pages))

	// Burn the retry budget, then hit the permanent state
	require.NoError(t, manager.UpdatePageStatus(ctx, resp.JobID, "setup", models.PageStatusFailed, "", "context limit"))
	require.NoError(t, manager.UpdatePageStatus(ctx, resp.JobID, "setup", models.PageStatusPermanentFailed, "", "context limit"))
	require.NoError(t, manager.IncrementJobPageCount(ctx, resp.JobID, false))
	require.NoError(t, manager.UpdateJobStatus(ctx, resp.JobID, models.JobStatusPartiallyCompleted, ""))

	parked, err := storage.GetPage(ctx, resp.JobID, "setup")
	require.NoError(t, err)
	require.Equal(t, models.PageStatusPermanentFailed, parked.Status)
	require.Equal(t, 2, parked.RetryCount)

	require.NoError(t, manager.RetryFailedPage(ctx, resp.JobID, "setup"))

	page, err := storage.GetPage(ctx, resp.JobID, "setup")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusPending, page.Status)
	assert.Zero(t, page.RetryCount)
	assert.Empty(t, page.Error)

	job, err := storage.GetJob(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestDeleteJobRefusesActive(t *testing.T) {
	manager, storage := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	require.NoError(t, manager.UpdateJobStatus(ctx, resp.JobID, models.JobStatusGeneratingPages, ""))
	assert.ErrorIs(t, manager.DeleteJob(ctx, resp.JobID), ErrJobRunning)

	require.NoError(t, manager.CancelJob(ctx, resp.JobID))
	require.NoError(t, manager.DeleteJob(ctx, resp.JobID))

	_, err = storage.GetJob(ctx, resp.JobID)
	assert.ErrorIs(t, err, sqlite.ErrJobNotFound)
}

func TestGetJobWithPages(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	resp, err := manager.CreateJob(ctx, generateRequest("acme", "widget"))
	require.NoError(t, err)

	pages := []*models.WikiPage{
		{PageID: "overview", Title: "Overview", Importance: models.ImportanceHigh},
	}
	require.NoError(t, manager.SetWikiStructure(ctx, resp.JobID, "<wiki_structure/>", pages))

	status, err := manager.GetJobWithPages(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, status.Job.ID)
	require.Len(t, status.Pages, 1)
	assert.Equal(t, "Overview", status.Pages[0].Title)
}
