package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/codewiki/internal/models"
)

// ErrPageNotFound is returned when a (job, page) pair has no row.
var ErrPageNotFound = fmt.Errorf("page not found")

const pageColumns = `job_id, page_id, title, description, importance,
	file_paths, related_pages, parent_section, status, content, error,
	retry_count, started_at, completed_at`

// GetPages retrieves all pages for a job in structure order
func (s *JobStorage) GetPages(ctx context.Context, jobID string) ([]*models.WikiPage, error) {
	query := fmt.Sprintf(`SELECT %s FROM wiki_pages WHERE job_id = ? ORDER BY rowid`, pageColumns)
	rows, err := s.db.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []*models.WikiPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page rows: %w", err)
	}
	return pages, nil
}

// GetPage retrieves a single page
func (s *JobStorage) GetPage(ctx context.Context, jobID, pageID string) (*models.WikiPage, error) {
	query := fmt.Sprintf(`SELECT %s FROM wiki_pages WHERE job_id = ? AND page_id = ?`, pageColumns)
	rows, err := s.db.db.QueryContext(ctx, query, jobID, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query page: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read page: %w", err)
		}
		return nil, ErrPageNotFound
	}
	return scanPage(rows)
}

// UpdatePageStatus transitions a page. A failure carrying an error message
// increments retry_count; moving to generating stamps started_at; terminal
// page states stamp completed_at.
func (s *JobStorage) UpdatePageStatus(ctx context.Context, jobID, pageID string, status models.PageStatus, content, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `UPDATE wiki_pages SET status = ?`
	args := []interface{}{string(status)}

	if content != "" {
		query += `, content = ?`
		args = append(args, content)
	}
	if errMsg != "" {
		query += `, error = ?, retry_count = retry_count + 1`
		args = append(args, errMsg)
	}
	switch status {
	case models.PageStatusGenerating:
		query += `, started_at = ?`
		args = append(args, now)
	case models.PageStatusCompleted, models.PageStatusFailed, models.PageStatusPermanentFailed:
		query += `, completed_at = ?`
		args = append(args, now)
	}

	query += ` WHERE job_id = ? AND page_id = ?`
	args = append(args, jobID, pageID)

	result, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update page status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrPageNotFound
	}
	return nil
}

// ResetPage returns a page to pending with a clean retry counter. Used by
// the per-page retry operation.
func (s *JobStorage) ResetPage(ctx context.Context, jobID, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx, `
		UPDATE wiki_pages
		SET status = 'pending', retry_count = 0, error = NULL, content = NULL,
		    started_at = NULL, completed_at = NULL
		WHERE job_id = ? AND page_id = ?
	`, jobID, pageID)
	if err != nil {
		return fmt.Errorf("failed to reset page: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrPageNotFound
	}
	return nil
}

// ResetStuckPages returns pages stuck in generating back to pending.
// Called on phase 2 entry so a resumed job reclaims in-flight pages.
func (s *JobStorage) ResetStuckPages(ctx context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx, `
		UPDATE wiki_pages SET status = 'pending', started_at = NULL
		WHERE job_id = ? AND status = 'generating'
	`, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck pages: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.logger.Info().Str("job_id", jobID).Int64("pages", affected).Msg("Reset stuck pages")
	}
	return int(affected), nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPage(row scanner) (*models.WikiPage, error) {
	var page models.WikiPage
	var importance, status string
	var description, filePaths, relatedPages, parentSection, content, errMsg sql.NullString
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&page.JobID, &page.PageID, &page.Title, &description, &importance,
		&filePaths, &relatedPages, &parentSection, &status, &content, &errMsg,
		&page.RetryCount, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}

	page.Description = description.String
	page.Importance = models.PageImportance(importance)
	page.FilePaths = unmarshalStringList(filePaths)
	page.RelatedPages = unmarshalStringList(relatedPages)
	page.ParentSection = parentSection.String
	page.Status = models.PageStatus(status)
	page.Content = content.String
	page.Error = errMsg.String
	if startedAt.Valid {
		t := unixToTime(startedAt.Int64)
		page.StartedAt = &t
	}
	if completedAt.Valid {
		t := unixToTime(completedAt.Int64)
		page.CompletedAt = &t
	}

	return &page, nil
}
