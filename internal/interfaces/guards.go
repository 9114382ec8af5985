package interfaces

import (
	"context"

	"github.com/ternarybob/codewiki/internal/models"
)

// RateLimiter enforces a per-user sliding request window.
type RateLimiter interface {
	// Allow records the request and reports whether it fits the window.
	Allow(ctx context.Context, userID string) (bool, error)
}

// BudgetTracker enforces a per-user monthly spend ceiling.
type BudgetTracker interface {
	// CheckBudget reports whether the user is under their monthly limit.
	CheckBudget(ctx context.Context, userID string) (bool, error)

	// LogUsage records token spend for a call and updates the month row.
	LogUsage(ctx context.Context, userID, jobID, provider, model string, promptTokens, completionTokens int64) error
}

// TokenTracker aggregates token accounting per job.
type TokenTracker interface {
	Initialize(ctx context.Context, jobID string) error
	AddChunking(ctx context.Context, jobID string, stats *models.ChunkingStats, embeddingTokens, embeddingRequests int64) error
	AddProvider(ctx context.Context, jobID string, usage TrackedUsage) error
	Get(ctx context.Context, jobID string) (*models.JobTokenStats, error)
	Reset(ctx context.Context, jobID string) error
}

// TrackedUsage is one provider call's token counts as recorded by the
// tracker. Estimated is set when the provider reported no usage and the
// counts were derived from text length.
type TrackedUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	Estimated        bool
}
