package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// TokenStatsStorage implements SQLite persistence for job token accounting
type TokenStatsStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewTokenStatsStorage creates a new token stats storage instance
func NewTokenStatsStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.TokenStatsStorage {
	return &TokenStatsStorage{
		db:     db,
		logger: logger,
	}
}

// InitStats creates the zeroed stats row for a job if one does not exist
func (s *TokenStatsStorage) InitStats(ctx context.Context, jobID string) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO job_token_stats (job_id, updated_at) VALUES (?, ?)
		ON CONFLICT(job_id) DO NOTHING
	`, jobID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to init token stats: %w", err)
	}
	return nil
}

// AddChunkingStats atomically accumulates chunking-phase counters
func (s *TokenStatsStorage) AddChunkingStats(ctx context.Context, jobID string, files, chunks, skipped, embeddingTokens, embeddingRequests int64) error {
	result, err := s.db.db.ExecContext(ctx, `
		UPDATE job_token_stats
		SET total_files = total_files + ?,
		    total_chunks = total_chunks + ?,
		    skipped_files = skipped_files + ?,
		    embedding_tokens = embedding_tokens + ?,
		    embedding_requests = embedding_requests + ?,
		    updated_at = ?
		WHERE job_id = ?
	`, files, chunks, skipped, embeddingTokens, embeddingRequests, time.Now().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to add chunking stats: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("token stats not initialized for job %s", jobID)
	}
	return nil
}

// AddProviderStats atomically accumulates one provider call's token counts
func (s *TokenStatsStorage) AddProviderStats(ctx context.Context, jobID string, promptTokens, completionTokens int64) error {
	result, err := s.db.db.ExecContext(ctx, `
		UPDATE job_token_stats
		SET prompt_tokens = prompt_tokens + ?,
		    completion_tokens = completion_tokens + ?,
		    provider_requests = provider_requests + 1,
		    updated_at = ?
		WHERE job_id = ?
	`, promptTokens, completionTokens, time.Now().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to add provider stats: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("token stats not initialized for job %s", jobID)
	}
	return nil
}

// GetStats retrieves the stats row for a job
func (s *TokenStatsStorage) GetStats(ctx context.Context, jobID string) (*models.JobTokenStats, error) {
	var stats models.JobTokenStats
	var updatedAt int64

	err := s.db.db.QueryRowContext(ctx, `
		SELECT job_id, embedding_tokens, embedding_requests, total_files, total_chunks,
		       skipped_files, prompt_tokens, completion_tokens, provider_requests, updated_at
		FROM job_token_stats WHERE job_id = ?
	`, jobID).Scan(
		&stats.JobID, &stats.EmbeddingTokens, &stats.EmbeddingRequests,
		&stats.TotalFiles, &stats.TotalChunks, &stats.SkippedFiles,
		&stats.PromptTokens, &stats.CompletionTokens, &stats.ProviderRequests, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("token stats not found for job %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token stats: %w", err)
	}

	stats.UpdatedAt = unixToTime(updatedAt)
	return &stats, nil
}

// ResetStats zeroes the stats row for a job
func (s *TokenStatsStorage) ResetStats(ctx context.Context, jobID string) error {
	_, err := s.db.db.ExecContext(ctx, `
		UPDATE job_token_stats
		SET embedding_tokens = 0, embedding_requests = 0, total_files = 0,
		    total_chunks = 0, skipped_files = 0, prompt_tokens = 0,
		    completion_tokens = 0, provider_requests = 0, updated_at = ?
		WHERE job_id = ?
	`, time.Now().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to reset token stats: %w", err)
	}
	return nil
}
