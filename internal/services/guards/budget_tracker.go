package guards

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

// BudgetTracker enforces a per-user monthly spend ceiling backed by the
// user_monthly_budget and chat_usage_logs tables. A limit of zero or
// below disables the check entirely.
type BudgetTracker struct {
	storage interfaces.GuardStorage
	config  *common.GuardsConfig
	logger  arbor.ILogger
}

// NewBudgetTracker creates a budget tracker
func NewBudgetTracker(storage interfaces.GuardStorage, config *common.GuardsConfig, logger arbor.ILogger) *BudgetTracker {
	return &BudgetTracker{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// currentMonth formats the budget key for now, e.g. "2026-08"
func currentMonth() string {
	return time.Now().Format("2006-01")
}

// CheckBudget reports whether the user is under their monthly limit
func (b *BudgetTracker) CheckBudget(ctx context.Context, userID string) (bool, error) {
	if b.config.MonthlyBudgetUSD <= 0 {
		return true, nil
	}
	if userID == "" {
		userID = "anonymous"
	}

	used, err := b.storage.GetMonthlySpend(ctx, userID, currentMonth())
	if err != nil {
		return false, err
	}

	if used >= b.config.MonthlyBudgetUSD {
		b.logger.Warn().
			Str("user_id", userID).
			Float64("used_usd", used).
			Float64("limit_usd", b.config.MonthlyBudgetUSD).
			Msg("Monthly budget exceeded")
		return false, nil
	}
	return true, nil
}

// LogUsage appends an audit row and folds the cost into the month row
func (b *BudgetTracker) LogUsage(ctx context.Context, userID, jobID, provider, model string, promptTokens, completionTokens int64) error {
	if userID == "" {
		userID = "anonymous"
	}

	cost := float64(promptTokens)/1000*b.config.CostPer1KPrompt +
		float64(completionTokens)/1000*b.config.CostPer1KOutput

	if err := b.storage.LogUsage(ctx, userID, jobID, provider, model, promptTokens, completionTokens, cost); err != nil {
		return err
	}
	return b.storage.AddMonthlySpend(ctx, userID, currentMonth(), cost)
}

// MonthlySpend returns the user's spend for the current month
func (b *BudgetTracker) MonthlySpend(ctx context.Context, userID string) (float64, error) {
	if userID == "" {
		userID = "anonymous"
	}
	return b.storage.GetMonthlySpend(ctx, userID, currentMonth())
}
