package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
	"github.com/ternarybob/codewiki/internal/services/jobs"
	"github.com/ternarybob/codewiki/internal/services/repo"
	"github.com/ternarybob/codewiki/internal/services/wiki"
)

const defaultPollInterval = 5 * time.Second

// Dispatcher is the single long-running loop that drives jobs through
// their phases. One dispatcher runs per process; the store is the only
// coordination medium.
type Dispatcher struct {
	manager   *jobs.Manager
	storage   interfaces.JobStorage
	repos     *repo.Resolver
	pipeline  *EmbeddingPipeline
	structure *wiki.StructureGenerator
	pages     *wiki.PageGenerator
	retriever interfaces.Retriever
	tokens    interfaces.TokenTracker
	bus       interfaces.ProgressBus
	cache     *wiki.CacheWriter
	config    *common.GenerationConfig
	logger    arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(
	manager *jobs.Manager,
	storage interfaces.JobStorage,
	repos *repo.Resolver,
	pipeline *EmbeddingPipeline,
	structure *wiki.StructureGenerator,
	pages *wiki.PageGenerator,
	retriever interfaces.Retriever,
	tokens interfaces.TokenTracker,
	bus interfaces.ProgressBus,
	cache *wiki.CacheWriter,
	config *common.GenerationConfig,
	logger arbor.ILogger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		manager:   manager,
		storage:   storage,
		repos:     repos,
		pipeline:  pipeline,
		structure: structure,
		pages:     pages,
		retriever: retriever,
		tokens:    tokens,
		bus:       bus,
		cache:     cache,
		config:    config,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start recovers interrupted jobs and launches the dispatch loop.
func (d *Dispatcher) Start() error {
	recovered, err := d.storage.RecoverInterruptedJobs(d.ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		d.logger.Info().Int("jobs", recovered).Msg("Re-queued jobs interrupted by restart")
	}

	d.wg.Add(1)
	go d.loop()
	d.logger.Info().Dur("poll_interval", d.pollInterval()).Msg("Dispatcher started")
	return nil
}

// Stop signals the loop and waits for the in-flight job to settle.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Msg("Dispatcher stopped")
}

func (d *Dispatcher) pollInterval() time.Duration {
	if d.config.PollInterval > 0 {
		return d.config.PollInterval
	}
	return defaultPollInterval
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	for {
		job, err := d.storage.NextRunnableJob(d.ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("Failed to poll for runnable jobs")
		} else if job != nil {
			d.runJob(job)
			// Drain the backlog before sleeping again.
			if d.ctx.Err() == nil {
				continue
			}
		}

		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// shouldStop reports whether processing of a job must halt: shutdown in
// progress, or the persisted status changed to paused or cancelled
// behind the dispatcher's back.
func (d *Dispatcher) shouldStop(jobID string) bool {
	if d.ctx.Err() != nil {
		return true
	}
	job, err := d.storage.GetJob(d.ctx, jobID)
	if err != nil {
		d.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to re-read job status")
		return true
	}
	return job.Status == models.JobStatusPaused || job.Status.IsTerminal()
}

// runJob executes the remaining phases of one job. Any unhandled error
// marks the job failed with a truncated message.
func (d *Dispatcher) runJob(job *models.WikiJob) {
	// Guard against commands that landed between the query and now.
	current, err := d.storage.GetJob(d.ctx, job.ID)
	if err != nil {
		d.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Job disappeared before dispatch")
		return
	}
	if current.Status == models.JobStatusPaused || current.Status.IsTerminal() {
		return
	}
	job = current

	d.logger.Info().
		Str("job_id", job.ID).
		Str("repo", job.Owner+"/"+job.Repo).
		Int("phase", job.CurrentPhase).
		Msg("Dispatching job")

	if err := d.executePhases(job); err != nil {
		if d.ctx.Err() != nil {
			// Shutdown mid-job; recovery re-queues it on next start.
			return
		}
		d.failJob(job.ID, err)
	}
	d.retriever.Drop(job.ID)
}

func (d *Dispatcher) executePhases(job *models.WikiJob) error {
	if job.CurrentPhase <= models.PhaseGenerateStructure {
		if d.shouldStop(job.ID) {
			return nil
		}
		if err := d.runEmbeddingPhase(job); err != nil {
			return err
		}

		if d.shouldStop(job.ID) {
			return nil
		}
		if err := d.runStructurePhase(job); err != nil {
			return err
		}
	}

	if d.shouldStop(job.ID) {
		return nil
	}
	return d.runPagePhase(job)
}

func (d *Dispatcher) failJob(jobID string, err error) {
	message := err.Error()
	if len(message) > 500 {
		message = message[:500]
	}
	d.logger.Error().Str("job_id", jobID).Err(err).Msg("Job failed")
	if updateErr := d.manager.UpdateJobStatus(d.ctx, jobID, models.JobStatusFailed, message); updateErr != nil {
		d.logger.Error().Str("job_id", jobID).Err(updateErr).Msg("Failed to mark job failed")
	}
}
