// -----------------------------------------------------------------------
// Last Modified: Wednesday, 5th November 2025 8:17:54 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/handlers"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/services/embeddings"
	"github.com/ternarybob/codewiki/internal/services/events"
	"github.com/ternarybob/codewiki/internal/services/guards"
	jobsvc "github.com/ternarybob/codewiki/internal/services/jobs"
	"github.com/ternarybob/codewiki/internal/services/llm"
	"github.com/ternarybob/codewiki/internal/services/repo"
	"github.com/ternarybob/codewiki/internal/services/retrieval"
	"github.com/ternarybob/codewiki/internal/services/scheduler"
	"github.com/ternarybob/codewiki/internal/services/wiki"
	"github.com/ternarybob/codewiki/internal/storage/sqlite"
	"github.com/ternarybob/codewiki/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB              *sqlite.SQLiteDB
	JobStorage      interfaces.JobStorage
	TokenStatsStore interfaces.TokenStatsStorage
	GuardStorage    interfaces.GuardStorage

	// Event plumbing
	EventService interfaces.EventService
	ProgressBus  interfaces.ProgressBus

	// Job lifecycle
	JobManager *jobsvc.Manager

	// Guards
	TokenTracker  *guards.TokenTracker
	RateLimiter   *guards.RateLimiter
	BudgetTracker *guards.BudgetTracker

	// Generation services
	LLMService   *llm.Service
	Embedder     *embeddings.Embedder
	Retriever    *retrieval.Service
	Repos        *repo.Resolver
	StructureGen *wiki.StructureGenerator
	PageGen      *wiki.PageGenerator
	CacheWriter  *wiki.CacheWriter

	// Background execution
	Dispatcher       *worker.Dispatcher
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	WikiHandler   *handlers.WikiHandler
	StreamHandler *handlers.StreamHandler
	PageHandler   *handlers.PageHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("provider", cfg.Providers.Default).
		Str("db", cfg.DatabasePath()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (SQLite)
func (a *App) initDatabase() error {
	sqliteCfg := a.Config.Storage.SQLite
	if sqliteCfg.Path == "" {
		sqliteCfg.Path = a.Config.DatabasePath()
	}

	db, err := sqlite.NewSQLiteDB(a.Logger, &sqliteCfg)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	a.DB = db

	a.JobStorage = sqlite.NewJobStorage(db, a.Logger)
	a.TokenStatsStore = sqlite.NewTokenStatsStorage(db, a.Logger)
	a.GuardStorage = sqlite.NewGuardStorage(db, a.Logger)

	a.Logger.Debug().
		Str("storage", "sqlite").
		Str("path", sqliteCfg.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	ctx := context.Background()

	// 1. Event service and progress bus (everything downstream publishes)
	a.EventService = events.NewService(a.Logger)
	a.ProgressBus = events.NewProgressBus(a.Logger, parseDuration(a.Config.Scheduler.StaleCallbackAge, time.Hour))

	// 2. Job manager (status transitions, dedup, page retry)
	a.JobManager = jobsvc.NewManager(a.JobStorage, a.ProgressBus, a.EventService, a.Logger)

	// 3. Guards (token accounting, rate limiting, budget)
	a.TokenTracker = guards.NewTokenTracker(a.TokenStatsStore, a.Logger)
	a.RateLimiter = guards.NewRateLimiter(a.GuardStorage, a.Config.Guards.RequestsPerMinute, a.Logger)
	a.BudgetTracker = guards.NewBudgetTracker(a.GuardStorage, &a.Config.Guards, a.Logger)

	// 4. LLM completion service (provider registry + retry)
	llmService, err := llm.NewService(&a.Config.Providers, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize llm service: %w", err)
	}
	a.LLMService = llmService
	a.Logger.Debug().Str("default_provider", a.Config.Providers.Default).Msg("LLM service initialized")

	// 5. Embedding chain. Missing keys shrink the chain; a fully empty
	// chain is a startup error because generation would be blind.
	embedder, err := embeddings.NewEmbedder(
		ctx,
		&a.Config.Embeddings,
		a.Config.Providers.Google.APIKey,
		a.Config.Providers.OpenAI.APIKey,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.Embedder = embedder

	// 6. Retrieval service (per-job vector index + reranker)
	a.Retriever = retrieval.NewService(a.Embedder, &a.Config.Retrieval, a.Logger)

	// 7. Repository access (GitHub API and local paths)
	a.Repos = repo.NewResolver(a.Logger)

	// 8. Wiki generation services
	a.StructureGen = wiki.NewStructureGenerator(a.LLMService, a.TokenTracker, a.Logger)
	a.PageGen = wiki.NewPageGenerator(a.LLMService, a.Retriever, a.TokenTracker, a.Config.Generation.PageTimeout, a.Logger)
	a.CacheWriter = wiki.NewCacheWriter(a.Config.WikiCacheDir(), a.Logger)

	// 9. Dispatcher drives jobs through their phases off the store
	pipeline := worker.NewEmbeddingPipeline(a.Repos, a.Embedder, a.Config.Embeddings.SyntaxAware, a.Logger)
	a.Dispatcher = worker.NewDispatcher(
		a.JobManager,
		a.JobStorage,
		a.Repos,
		pipeline,
		a.StructureGen,
		a.PageGen,
		a.Retriever,
		a.TokenTracker,
		a.ProgressBus,
		a.CacheWriter,
		&a.Config.Generation,
		a.Logger,
	)

	// 10. Scheduler (rate-limit window pruning)
	a.SchedulerService = scheduler.NewService(a.RateLimiter, a.Logger)

	return nil
}

// initHandlers wires the HTTP layer
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.WikiHandler = handlers.NewWikiHandler(a.JobManager, a.TokenTracker, a.RateLimiter, a.BudgetTracker, a.Logger)
	a.StreamHandler = handlers.NewStreamHandler(a.JobManager, a.ProgressBus, a.Logger)
	a.PageHandler = handlers.NewPageHandler(a.JobStorage, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger)
}

// Start launches the background components
func (a *App) Start() error {
	if err := a.Dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(a.Config.Scheduler.MaintenanceCron); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.Logger.Info().Msg("Scheduler disabled by configuration")
	}

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop the scheduler first so no maintenance runs against a
	// closing database
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	// Stop the dispatcher and wait for the in-flight job to checkpoint
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}

	// Close event subscribers
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage last
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
