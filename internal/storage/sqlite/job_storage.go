package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// ErrJobNotFound is returned when a job ID has no row.
var ErrJobNotFound = fmt.Errorf("job not found")

// unixToTime converts Unix timestamp to time.Time
func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}

// marshalStringList serializes a string slice to a JSON column value.
// Empty slices are stored as "[]" so scans never see NULL vs empty drift.
func marshalStringList(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStringList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

// JobStorage implements SQLite storage for wiki generation jobs
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, owner, repo, repo_type, repo_url, language, provider, model,
	status, current_phase, progress_percent, error,
	total_pages, completed_pages, failed_pages, structure_xml, comprehensive,
	access_token, excluded_dirs, excluded_files, included_dirs, included_files,
	requested_by, created_at, started_at, completed_at, updated_at`

// SaveJob creates or updates a job in the database
func (s *JobStorage) SaveJob(ctx context.Context, job *models.WikiJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	excludedDirs, err := marshalStringList(job.ExcludedDirs)
	if err != nil {
		return fmt.Errorf("failed to serialize excluded dirs: %w", err)
	}
	excludedFiles, err := marshalStringList(job.ExcludedFiles)
	if err != nil {
		return fmt.Errorf("failed to serialize excluded files: %w", err)
	}
	includedDirs, err := marshalStringList(job.IncludedDirs)
	if err != nil {
		return fmt.Errorf("failed to serialize included dirs: %w", err)
	}
	includedFiles, err := marshalStringList(job.IncludedFiles)
	if err != nil {
		return fmt.Errorf("failed to serialize included files: %w", err)
	}

	var model sql.NullString
	if job.Model != nil && *job.Model != "" {
		model.Valid = true
		model.String = *job.Model
	}

	var startedAt, completedAt sql.NullInt64
	if job.StartedAt != nil {
		startedAt.Valid = true
		startedAt.Int64 = job.StartedAt.Unix()
	}
	if job.CompletedAt != nil {
		completedAt.Valid = true
		completedAt.Int64 = job.CompletedAt.Unix()
	}

	comprehensive := 0
	if job.Comprehensive {
		comprehensive = 1
	}

	query := `
		INSERT INTO wiki_jobs (
			id, owner, repo, repo_type, repo_url, language, provider, model,
			status, current_phase, progress_percent, error,
			total_pages, completed_pages, failed_pages, structure_xml, comprehensive,
			access_token, excluded_dirs, excluded_files, included_dirs, included_files,
			requested_by, created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_phase = excluded.current_phase,
			progress_percent = excluded.progress_percent,
			error = excluded.error,
			total_pages = excluded.total_pages,
			completed_pages = excluded.completed_pages,
			failed_pages = excluded.failed_pages,
			structure_xml = excluded.structure_xml,
			comprehensive = excluded.comprehensive,
			access_token = excluded.access_token,
			excluded_dirs = excluded.excluded_dirs,
			excluded_files = excluded.excluded_files,
			included_dirs = excluded.included_dirs,
			included_files = excluded.included_files,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`

	_, err = s.db.db.ExecContext(ctx, query,
		job.ID,
		job.Owner,
		job.Repo,
		string(job.RepoType),
		job.RepoURL,
		job.Language,
		job.Provider,
		model,
		string(job.Status),
		job.CurrentPhase,
		job.ProgressPercent,
		job.Error,
		job.TotalPages,
		job.CompletedPages,
		job.FailedPages,
		job.StructureXML,
		comprehensive,
		job.AccessToken,
		excludedDirs,
		excludedFiles,
		includedDirs,
		includedFiles,
		job.RequestedBy,
		job.CreatedAt.Unix(),
		startedAt,
		completedAt,
		time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save job")
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Job saved")
	return nil
}

// GetJob retrieves a job by ID
func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.WikiJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM wiki_jobs WHERE id = ?`, jobColumns)
	row := s.db.db.QueryRowContext(ctx, query, id)
	return s.scanJob(row)
}

// FindActiveJob looks for a non-terminal job covering the same repository
// tuple. The model comparison is NULL-safe so requests that omit a model
// match jobs created without one.
func (s *JobStorage) FindActiveJob(ctx context.Context, owner, repo, language, provider string, model *string) (*models.WikiJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM wiki_jobs
		WHERE owner = ? AND repo = ? AND language = ? AND provider = ?
		  AND (model = ? OR (model IS NULL AND ? IS NULL))
		  AND status NOT IN ('completed', 'partially_completed', 'failed', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1
	`, jobColumns)

	var modelArg sql.NullString
	if model != nil && *model != "" {
		modelArg.Valid = true
		modelArg.String = *model
	}

	row := s.db.db.QueryRowContext(ctx, query, owner, repo, language, provider, modelArg, modelArg)
	job, err := s.scanJob(row)
	if err == ErrJobNotFound {
		return nil, nil
	}
	return job, err
}

// ListJobs retrieves jobs matching the filter, newest first
func (s *JobStorage) ListJobs(ctx context.Context, filter *models.JobListFilter) ([]*models.WikiJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM wiki_jobs`, jobColumns)
	where, args := buildJobFilter(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return s.scanJobs(rows)
}

// CountJobs counts jobs matching the filter
func (s *JobStorage) CountJobs(ctx context.Context, filter *models.JobListFilter) (int, error) {
	query := `SELECT COUNT(*) FROM wiki_jobs`
	where, args := buildJobFilter(filter)
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	if err := s.db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// buildJobFilter assembles the WHERE clause for list and count queries
func buildJobFilter(filter *models.JobListFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var clauses []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Repo != "" {
		clauses = append(clauses, "repo = ?")
		args = append(args, filter.Repo)
	}

	return strings.Join(clauses, " AND "), args
}

// NextRunnableJob returns the oldest job the dispatcher should work, or
// nil when none exist. Active statuses are included so resumed jobs are
// picked up; the single dispatcher only polls between runs, so an active
// row is never concurrently in flight.
func (s *JobStorage) NextRunnableJob(ctx context.Context) (*models.WikiJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM wiki_jobs
		WHERE status IN ('pending', 'preparing_embeddings', 'generating_structure', 'generating_pages')
		ORDER BY created_at ASC
		LIMIT 1
	`, jobColumns)

	row := s.db.db.QueryRowContext(ctx, query)
	job, err := s.scanJob(row)
	if err == ErrJobNotFound {
		return nil, nil
	}
	return job, err
}

// UpdateJobStatus transitions a job's status. The first transition into
// preparing_embeddings stamps started_at; terminal statuses stamp
// completed_at.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `UPDATE wiki_jobs SET status = ?, error = ?, updated_at = ?`
	args := []interface{}{string(status), errMsg, now}

	if status == models.JobStatusPreparingEmbeddings {
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	}
	if status.IsTerminal() {
		query += `, completed_at = ?`
		args = append(args, now)
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	result, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrJobNotFound
	}

	s.logger.Debug().Str("job_id", id).Str("status", string(status)).Msg("Job status updated")
	return nil
}

// UpdateJobProgress updates the phase and progress of a job
func (s *JobStorage) UpdateJobProgress(ctx context.Context, id string, phase int, percent float64) error {
	query := `UPDATE wiki_jobs SET current_phase = ?, progress_percent = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.db.ExecContext(ctx, query, phase, percent, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SetWikiStructure stores the structure XML and replaces the page rows in
// a single transaction. The job moves to generating_pages at 50%.
func (s *JobStorage) SetWikiStructure(ctx context.Context, id string, structureXML string, pages []*models.WikiPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx, `
		UPDATE wiki_jobs
		SET structure_xml = ?, total_pages = ?, completed_pages = 0, failed_pages = 0,
		    status = 'generating_pages', current_phase = 2, progress_percent = 50, updated_at = ?
		WHERE id = ?
	`, structureXML, len(pages), now, id)
	if err != nil {
		return fmt.Errorf("failed to store structure: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrJobNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM wiki_pages WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear pages: %w", err)
	}

	for _, page := range pages {
		filePaths, err := marshalStringList(page.FilePaths)
		if err != nil {
			return fmt.Errorf("failed to serialize file paths: %w", err)
		}
		relatedPages, err := marshalStringList(page.RelatedPages)
		if err != nil {
			return fmt.Errorf("failed to serialize related pages: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO wiki_pages (
				job_id, page_id, title, description, importance,
				file_paths, related_pages, parent_section, status, retry_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0)
		`, id, page.PageID, page.Title, page.Description, string(page.Importance),
			filePaths, relatedPages, page.ParentSection)
		if err != nil {
			return fmt.Errorf("failed to insert page %s: %w", page.PageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit structure: %w", err)
	}

	s.logger.Info().Str("job_id", id).Int("pages", len(pages)).Msg("Wiki structure stored")
	return nil
}

// IncrementJobPageCount atomically bumps the completed or failed counter
// and recomputes the phase 2 progress band.
func (s *JobStorage) IncrementJobPageCount(ctx context.Context, id string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	column := "failed_pages"
	if completed {
		column = "completed_pages"
	}

	// Progress in phase 2 is 50 + 50 * completed/total
	query := fmt.Sprintf(`
		UPDATE wiki_jobs
		SET %s = %s + 1,
		    progress_percent = CASE WHEN total_pages > 0
		        THEN 50.0 + 50.0 * (completed_pages + %d) / total_pages
		        ELSE progress_percent END,
		    updated_at = ?
		WHERE id = ?
	`, column, column, boolToInt(completed))

	result, err := s.db.db.ExecContext(ctx, query, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to increment page count: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeleteJob removes a job and, via cascade, its pages and token stats
func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx, `DELETE FROM wiki_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrJobNotFound
	}

	s.logger.Info().Str("job_id", id).Msg("Job deleted")
	return nil
}

// RecoverInterruptedJobs resets jobs left in an active status by a
// previous process to pending, and their in-flight pages back to pending.
// Returns the number of jobs recovered.
func (s *JobStorage) RecoverInterruptedJobs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	result, err := s.db.db.ExecContext(ctx, `
		UPDATE wiki_jobs
		SET status = 'pending', updated_at = ?
		WHERE status IN ('preparing_embeddings', 'generating_structure', 'generating_pages')
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover jobs: %w", err)
	}
	jobs, _ := result.RowsAffected()

	if _, err := s.db.db.ExecContext(ctx, `
		UPDATE wiki_pages SET status = 'pending', started_at = NULL
		WHERE status = 'generating'
	`); err != nil {
		return int(jobs), fmt.Errorf("failed to recover pages: %w", err)
	}

	if jobs > 0 {
		s.logger.Info().Int64("jobs", jobs).Msg("Recovered interrupted jobs")
	}
	return int(jobs), nil
}

// scanJob reads one job row
func (s *JobStorage) scanJob(row *sql.Row) (*models.WikiJob, error) {
	var job models.WikiJob
	var repoType, status string
	var model, errMsg, structureXML, accessToken, requestedBy, repoURL sql.NullString
	var excludedDirs, excludedFiles, includedDirs, includedFiles sql.NullString
	var comprehensive int
	var createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&job.ID, &job.Owner, &job.Repo, &repoType, &repoURL, &job.Language, &job.Provider, &model,
		&status, &job.CurrentPhase, &job.ProgressPercent, &errMsg,
		&job.TotalPages, &job.CompletedPages, &job.FailedPages, &structureXML, &comprehensive,
		&accessToken, &excludedDirs, &excludedFiles, &includedDirs, &includedFiles,
		&requestedBy, &createdAt, &startedAt, &completedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.RepoType = models.RepoType(repoType)
	job.Status = models.JobStatus(status)
	job.RepoURL = repoURL.String
	job.Error = errMsg.String
	job.StructureXML = structureXML.String
	job.AccessToken = accessToken.String
	job.RequestedBy = requestedBy.String
	job.Comprehensive = comprehensive != 0
	if model.Valid {
		job.Model = &model.String
	}
	job.ExcludedDirs = unmarshalStringList(excludedDirs)
	job.ExcludedFiles = unmarshalStringList(excludedFiles)
	job.IncludedDirs = unmarshalStringList(includedDirs)
	job.IncludedFiles = unmarshalStringList(includedFiles)
	job.CreatedAt = unixToTime(createdAt)
	job.UpdatedAt = unixToTime(updatedAt)
	if startedAt.Valid {
		t := unixToTime(startedAt.Int64)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := unixToTime(completedAt.Int64)
		job.CompletedAt = &t
	}

	return &job, nil
}

// scanJobs reads multiple job rows
func (s *JobStorage) scanJobs(rows *sql.Rows) ([]*models.WikiJob, error) {
	var jobs []*models.WikiJob

	for rows.Next() {
		var job models.WikiJob
		var repoType, status string
		var model, errMsg, structureXML, accessToken, requestedBy, repoURL sql.NullString
		var excludedDirs, excludedFiles, includedDirs, includedFiles sql.NullString
		var comprehensive int
		var createdAt, updatedAt int64
		var startedAt, completedAt sql.NullInt64

		err := rows.Scan(
			&job.ID, &job.Owner, &job.Repo, &repoType, &repoURL, &job.Language, &job.Provider, &model,
			&status, &job.CurrentPhase, &job.ProgressPercent, &errMsg,
			&job.TotalPages, &job.CompletedPages, &job.FailedPages, &structureXML, &comprehensive,
			&accessToken, &excludedDirs, &excludedFiles, &includedDirs, &includedFiles,
			&requestedBy, &createdAt, &startedAt, &completedAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}

		job.RepoType = models.RepoType(repoType)
		job.Status = models.JobStatus(status)
		job.RepoURL = repoURL.String
		job.Error = errMsg.String
		job.StructureXML = structureXML.String
		job.AccessToken = accessToken.String
		job.RequestedBy = requestedBy.String
		job.Comprehensive = comprehensive != 0
		if model.Valid {
			job.Model = &model.String
		}
		job.ExcludedDirs = unmarshalStringList(excludedDirs)
		job.ExcludedFiles = unmarshalStringList(excludedFiles)
		job.IncludedDirs = unmarshalStringList(includedDirs)
		job.IncludedFiles = unmarshalStringList(includedFiles)
		job.CreatedAt = unixToTime(createdAt)
		job.UpdatedAt = unixToTime(updatedAt)
		if startedAt.Valid {
			t := unixToTime(startedAt.Int64)
			job.StartedAt = &t
		}
		if completedAt.Valid {
			t := unixToTime(completedAt.Int64)
			job.CompletedAt = &t
		}

		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job rows: %w", err)
	}
	return jobs, nil
}
