package sqlite

const schemaSQL = `
-- Wiki generation jobs
-- One row per generation run; the dispatcher polls this table
CREATE TABLE IF NOT EXISTS wiki_jobs (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	repo TEXT NOT NULL,
	repo_type TEXT NOT NULL DEFAULT 'github',
	repo_url TEXT,
	language TEXT NOT NULL DEFAULT 'en',
	provider TEXT NOT NULL,
	model TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	current_phase INTEGER NOT NULL DEFAULT 0,
	progress_percent REAL NOT NULL DEFAULT 0,
	error TEXT,
	total_pages INTEGER NOT NULL DEFAULT 0,
	completed_pages INTEGER NOT NULL DEFAULT 0,
	failed_pages INTEGER NOT NULL DEFAULT 0,
	structure_xml TEXT,
	comprehensive INTEGER NOT NULL DEFAULT 0,
	access_token TEXT,
	excluded_dirs TEXT,
	excluded_files TEXT,
	included_dirs TEXT,
	included_files TEXT,
	requested_by TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wiki_jobs_status ON wiki_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_wiki_jobs_repo ON wiki_jobs(owner, repo, language, provider);

-- Per-page checkpoints
-- Rows are created when the structure is stored and updated as pages generate
CREATE TABLE IF NOT EXISTS wiki_pages (
	job_id TEXT NOT NULL,
	page_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	importance TEXT NOT NULL DEFAULT 'medium',
	file_paths TEXT,
	related_pages TEXT,
	parent_section TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	content TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER,
	completed_at INTEGER,
	PRIMARY KEY (job_id, page_id),
	FOREIGN KEY (job_id) REFERENCES wiki_jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_wiki_pages_status ON wiki_pages(job_id, status);

-- Token accounting per job
CREATE TABLE IF NOT EXISTS job_token_stats (
	job_id TEXT PRIMARY KEY,
	embedding_tokens INTEGER NOT NULL DEFAULT 0,
	embedding_requests INTEGER NOT NULL DEFAULT 0,
	total_files INTEGER NOT NULL DEFAULT 0,
	total_chunks INTEGER NOT NULL DEFAULT 0,
	skipped_files INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	provider_requests INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (job_id) REFERENCES wiki_jobs(id) ON DELETE CASCADE
);

-- Sliding-window request tracking for per-user rate limiting
CREATE TABLE IF NOT EXISTS rate_limit_tracker (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	ts_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_user_ts ON rate_limit_tracker(user_id, ts_ms);

-- Monthly spend per user, keyed by calendar month (YYYY-MM)
CREATE TABLE IF NOT EXISTS user_monthly_budget (
	user_id TEXT NOT NULL,
	month TEXT NOT NULL,
	used_usd REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, month)
);

-- Usage audit log for provider calls
CREATE TABLE IF NOT EXISTS chat_usage_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	job_id TEXT,
	provider TEXT NOT NULL,
	model TEXT,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_usage_user ON chat_usage_logs(user_id, created_at);
`

// InitSchema initializes the database schema
func (s *SQLiteDB) InitSchema() error {
	_, err := s.db.Exec(schemaSQL)
	if err != nil {
		return err
	}
	s.logger.Info().Msg("Database schema initialized")

	// Run migrations for schema evolution
	if err := s.runMigrations(); err != nil {
		return err
	}

	return nil
}

// runMigrations checks for and applies schema migrations for existing databases
func (s *SQLiteDB) runMigrations() error {
	columnsQuery := `PRAGMA table_info(wiki_jobs)`
	rows, err := s.db.Query(columnsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasComprehensive := false
	hasRequestedBy := false
	hasIncludedDirs := false
	hasIncludedFiles := false

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, dfltValue, pk interface{}
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		switch name {
		case "comprehensive":
			hasComprehensive = true
		case "requested_by":
			hasRequestedBy = true
		case "included_dirs":
			hasIncludedDirs = true
		case "included_files":
			hasIncludedFiles = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Add missing columns
	if !hasComprehensive {
		s.logger.Info().Msg("Running migration: Adding comprehensive column to wiki_jobs")
		if _, err := s.db.Exec(`ALTER TABLE wiki_jobs ADD COLUMN comprehensive INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}

	if !hasRequestedBy {
		s.logger.Info().Msg("Running migration: Adding requested_by column to wiki_jobs")
		if _, err := s.db.Exec(`ALTER TABLE wiki_jobs ADD COLUMN requested_by TEXT`); err != nil {
			return err
		}
	}

	if !hasIncludedDirs {
		s.logger.Info().Msg("Running migration: Adding included_dirs column to wiki_jobs")
		if _, err := s.db.Exec(`ALTER TABLE wiki_jobs ADD COLUMN included_dirs TEXT`); err != nil {
			return err
		}
	}

	if !hasIncludedFiles {
		s.logger.Info().Msg("Running migration: Adding included_files column to wiki_jobs")
		if _, err := s.db.Exec(`ALTER TABLE wiki_jobs ADD COLUMN included_files TEXT`); err != nil {
			return err
		}
	}

	if !hasComprehensive || !hasRequestedBy || !hasIncludedDirs || !hasIncludedFiles {
		s.logger.Info().Msg("Schema migrations completed successfully")
	}

	return nil
}
