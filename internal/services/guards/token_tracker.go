package guards

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// EstimateTokens approximates a token count from text length. Used when
// a provider reports no usage: roughly four characters per token.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(len(text)+3) / 4
}

// TokenTracker accumulates token accounting per job into SQLite.
type TokenTracker struct {
	storage interfaces.TokenStatsStorage
	logger  arbor.ILogger
}

// NewTokenTracker creates a token tracker
func NewTokenTracker(storage interfaces.TokenStatsStorage, logger arbor.ILogger) *TokenTracker {
	return &TokenTracker{
		storage: storage,
		logger:  logger,
	}
}

// Initialize creates the zeroed stats row for a job
func (t *TokenTracker) Initialize(ctx context.Context, jobID string) error {
	return t.storage.InitStats(ctx, jobID)
}

// AddChunking records one chunking run's counters
func (t *TokenTracker) AddChunking(ctx context.Context, jobID string, stats *models.ChunkingStats, embeddingTokens, embeddingRequests int64) error {
	if stats == nil {
		stats = &models.ChunkingStats{}
	}
	return t.storage.AddChunkingStats(ctx, jobID,
		int64(stats.TotalFiles), int64(stats.TotalChunks), int64(stats.SkippedFiles),
		embeddingTokens, embeddingRequests)
}

// AddProvider records one provider call's usage
func (t *TokenTracker) AddProvider(ctx context.Context, jobID string, usage interfaces.TrackedUsage) error {
	if usage.Estimated {
		t.logger.Debug().
			Str("job_id", jobID).
			Int64("prompt_tokens", usage.PromptTokens).
			Int64("completion_tokens", usage.CompletionTokens).
			Msg("Recording estimated token usage")
	}
	return t.storage.AddProviderStats(ctx, jobID, usage.PromptTokens, usage.CompletionTokens)
}

// Get returns the accumulated stats for a job
func (t *TokenTracker) Get(ctx context.Context, jobID string) (*models.JobTokenStats, error) {
	return t.storage.GetStats(ctx, jobID)
}

// Reset zeroes the stats for a job
func (t *TokenTracker) Reset(ctx context.Context, jobID string) error {
	return t.storage.ResetStats(ctx, jobID)
}
