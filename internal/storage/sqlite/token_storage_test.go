package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

// seedStatsJob creates a job row so the token stats foreign key is satisfied,
// then initializes its stats row.
func seedStatsJob(t *testing.T, db *SQLiteDB, stats interfaces.TokenStatsStorage) string {
	t.Helper()

	ctx := context.Background()
	jobs := NewJobStorage(db, common.GetLogger())
	job := testJob("acme", "widget")
	require.NoError(t, jobs.SaveJob(ctx, job))
	require.NoError(t, stats.InitStats(ctx, job.ID))
	return job.ID
}

func TestInitStatsIdempotent(t *testing.T) {
	db := newTestDB(t)
	stats := NewTokenStatsStorage(db, common.GetLogger())
	ctx := context.Background()

	jobID := seedStatsJob(t, db, stats)

	require.NoError(t, stats.AddProviderStats(ctx, jobID, 100, 50))

	// A second init must not clobber accumulated counters
	require.NoError(t, stats.InitStats(ctx, jobID))

	got, err := stats.GetStats(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.PromptTokens)
	assert.Equal(t, int64(50), got.CompletionTokens)
	assert.Equal(t, int64(1), got.ProviderRequests)
}

func TestAddChunkingStatsAccumulates(t *testing.T) {
	db := newTestDB(t)
	stats := NewTokenStatsStorage(db, common.GetLogger())
	ctx := context.Background()

	jobID := seedStatsJob(t, db, stats)

	require.NoError(t, stats.AddChunkingStats(ctx, jobID, 10, 40, 2, 5000, 4))
	require.NoError(t, stats.AddChunkingStats(ctx, jobID, 5, 15, 1, 2500, 2))

	got, err := stats.GetStats(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.TotalFiles)
	assert.Equal(t, int64(55), got.TotalChunks)
	assert.Equal(t, int64(3), got.SkippedFiles)
	assert.Equal(t, int64(7500), got.EmbeddingTokens)
	assert.Equal(t, int64(6), got.EmbeddingRequests)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestAddStatsRequiresInit(t *testing.T) {
	db := newTestDB(t)
	stats := NewTokenStatsStorage(db, common.GetLogger())
	ctx := context.Background()

	err := stats.AddChunkingStats(ctx, "missing-job", 1, 1, 0, 10, 1)
	assert.Error(t, err)

	err = stats.AddProviderStats(ctx, "missing-job", 10, 5)
	assert.Error(t, err)
}

func TestAddProviderStatsCountsRequests(t *testing.T) {
	db := newTestDB(t)
	stats := NewTokenStatsStorage(db, common.GetLogger())
	ctx := context.Background()

	jobID := seedStatsJob(t, db, stats)

	require.NoError(t, stats.AddProviderStats(ctx, jobID, 1200, 400))
	require.NoError(t, stats.AddProviderStats(ctx, jobID, 800, 300))

	got, err := stats.GetStats(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.PromptTokens)
	assert.Equal(t, int64(700), got.CompletionTokens)
	assert.Equal(t, int64(2), got.ProviderRequests)
}

func TestGetStatsNotFound(t *testing.T) {
	db := newTestDB(t)
	stats := NewTokenStatsStorage(db, common.GetLogger())

	_, err := stats.GetStats(context.Background(), "missing-job")
	assert.Error(t, err)
}

func TestResetStats(t *testing.T) {
	db := newTestDB(t)
	stats := NewTokenStatsStorage(db, common.GetLogger())
	ctx := context.Background()

	jobID := seedStatsJob(t, db, stats)

	require.NoError(t, stats.AddChunkingStats(ctx, jobID, 10, 40, 2, 5000, 4))
	require.NoError(t, stats.AddProviderStats(ctx, jobID, 1200, 400))
	require.NoError(t, stats.ResetStats(ctx, jobID))

	got, err := stats.GetStats(ctx, jobID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalFiles)
	assert.Zero(t, got.TotalChunks)
	assert.Zero(t, got.EmbeddingTokens)
	assert.Zero(t, got.PromptTokens)
	assert.Zero(t, got.CompletionTokens)
	assert.Zero(t, got.ProviderRequests)
}

func TestStatsDeletedWithJob(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobStorage(db, common.GetLogger())
	stats := NewTokenStatsStorage(db, common.GetLogger())
	ctx := context.Background()

	job := testJob("acme", "widget")
	require.NoError(t, jobs.SaveJob(ctx, job))
	require.NoError(t, stats.InitStats(ctx, job.ID))

	require.NoError(t, jobs.DeleteJob(ctx, job.ID))

	_, err := stats.GetStats(ctx, job.ID)
	assert.Error(t, err)
}
