package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

// GuardStorage implements SQLite persistence for rate limiting and
// budget accounting
type GuardStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewGuardStorage creates a new guard storage instance
func NewGuardStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.GuardStorage {
	return &GuardStorage{
		db:     db,
		logger: logger,
	}
}

// RecordRequest inserts one request timestamp for a user
func (s *GuardStorage) RecordRequest(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO rate_limit_tracker (user_id, ts_ms) VALUES (?, ?)
	`, userID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// CountRequestsSince counts a user's requests inside the window
func (s *GuardStorage) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rate_limit_tracker WHERE user_id = ? AND ts_ms >= ?
	`, userID, since.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

// PruneRequestsBefore deletes tracker rows older than the cutoff
func (s *GuardStorage) PruneRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.db.ExecContext(ctx, `
		DELETE FROM rate_limit_tracker WHERE ts_ms < ?
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate limit rows: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// GetMonthlySpend returns the accumulated spend for a (user, month) pair
func (s *GuardStorage) GetMonthlySpend(ctx context.Context, userID, month string) (float64, error) {
	var used float64
	err := s.db.db.QueryRowContext(ctx, `
		SELECT used_usd FROM user_monthly_budget WHERE user_id = ? AND month = ?
	`, userID, month).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get monthly spend: %w", err)
	}
	return used, nil
}

// AddMonthlySpend upserts spend onto the (user, month) row
func (s *GuardStorage) AddMonthlySpend(ctx context.Context, userID, month string, amountUSD float64) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO user_monthly_budget (user_id, month, used_usd) VALUES (?, ?, ?)
		ON CONFLICT(user_id, month) DO UPDATE SET used_usd = used_usd + excluded.used_usd
	`, userID, month, amountUSD)
	if err != nil {
		return fmt.Errorf("failed to add monthly spend: %w", err)
	}
	return nil
}

// LogUsage appends one usage audit row
func (s *GuardStorage) LogUsage(ctx context.Context, userID, jobID, provider, model string, promptTokens, completionTokens int64, costUSD float64) error {
	var jobIDArg sql.NullString
	if jobID != "" {
		jobIDArg.Valid = true
		jobIDArg.String = jobID
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO chat_usage_logs (user_id, job_id, provider, model, prompt_tokens, completion_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, userID, jobIDArg, provider, model, promptTokens, completionTokens, costUSD, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}
	return nil
}
