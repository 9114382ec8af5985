package worker

import (
	"fmt"
	"sync"

	"github.com/ternarybob/codewiki/internal/models"
)

// runEmbeddingPhase executes phase 0. Embedding trouble degrades to
// generation without retrieval context instead of failing the job.
func (d *Dispatcher) runEmbeddingPhase(job *models.WikiJob) error {
	if err := d.manager.UpdateJobStatus(d.ctx, job.ID, models.JobStatusPreparingEmbeddings, ""); err != nil {
		return err
	}
	if err := d.tokens.Initialize(d.ctx, job.ID); err != nil {
		return err
	}

	chunks, stats, err := d.pipeline.Run(d.ctx, job)
	if err != nil {
		if d.ctx.Err() != nil {
			return err
		}
		d.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Embedding phase degraded, pages will generate without context")
	} else if len(chunks) > 0 {
		d.retriever.Index(job.ID, chunks)
	}

	if stats != nil {
		embeddingRequests := int64(len(chunks))
		if err := d.tokens.AddChunking(d.ctx, job.ID, stats, int64(stats.TotalTokens), embeddingRequests); err != nil {
			d.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to record chunking stats")
		}
	}

	return d.manager.UpdateProgress(d.ctx, job.ID, models.PhasePrepareEmbeddings, 10)
}

// runStructurePhase executes phase 1 and persists the page checkpoints.
func (d *Dispatcher) runStructurePhase(job *models.WikiJob) error {
	if err := d.manager.UpdateJobStatus(d.ctx, job.ID, models.JobStatusGeneratingStructure, ""); err != nil {
		return err
	}
	if err := d.manager.UpdateProgress(d.ctx, job.ID, models.PhaseGenerateStructure, 10); err != nil {
		return err
	}

	fetcher, err := d.repos.Resolve(job)
	if err != nil {
		return err
	}
	fileTree, err := fetcher.FileTree(d.ctx, job)
	if err != nil {
		return fmt.Errorf("failed to build file tree: %w", err)
	}
	readme, err := fetcher.Readme(d.ctx, job)
	if err != nil {
		d.logger.Warn().Str("job_id", job.ID).Err(err).Msg("README unavailable")
	}

	structure, rawXML, err := d.structure.Generate(d.ctx, job, fileTree, readme)
	if err != nil {
		return err
	}

	pages := make([]*models.WikiPage, 0, len(structure.Pages))
	for _, entry := range structure.Pages {
		pages = append(pages, &models.WikiPage{
			JobID:         job.ID,
			PageID:        entry.ID,
			Title:         entry.Title,
			Description:   entry.Description,
			Importance:    entry.NormalizedImportance(),
			FilePaths:     entry.RelevantFiles,
			RelatedPages:  entry.RelatedPages,
			ParentSection: entry.ParentSection,
			Status:        models.PageStatusPending,
		})
	}
	return d.manager.SetWikiStructure(d.ctx, job.ID, rawXML, pages)
}

// runPagePhase executes phase 2 over all pending pages, then settles
// the job's terminal status and writes the wiki cache.
func (d *Dispatcher) runPagePhase(job *models.WikiJob) error {
	if err := d.manager.UpdateJobStatus(d.ctx, job.ID, models.JobStatusGeneratingPages, ""); err != nil {
		return err
	}

	// Pages stranded in generating by a crash go back to pending.
	if reset, err := d.manager.ResetStuckPages(d.ctx, job.ID); err != nil {
		return err
	} else if reset > 0 {
		d.logger.Info().Str("job_id", job.ID).Int("pages", reset).Msg("Re-queued stuck pages")
	}

	pages, err := d.storage.GetPages(d.ctx, job.ID)
	if err != nil {
		return err
	}

	maxRetries := d.config.MaxPageRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	concurrency := d.config.PageConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var pending []*models.WikiPage
	for _, page := range pages {
		if page.Status == models.PageStatusPending ||
			(page.Status == models.PageStatusFailed && page.RetryCount < maxRetries) {
			pending = append(pending, page)
		}
	}

	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	stopped := false
	for _, page := range pending {
		if d.shouldStop(job.ID) {
			stopped = true
			break
		}
		semaphore <- struct{}{}
		wg.Add(1)
		go func(page *models.WikiPage) {
			defer wg.Done()
			defer func() { <-semaphore }()
			d.processPage(job, page, maxRetries)
		}(page)
	}
	wg.Wait()

	if stopped || d.shouldStop(job.ID) {
		return nil
	}
	return d.finishJob(job.ID)
}

// processPage attempts one page until it completes or exhausts its
// retry budget. Every attempt's outcome is persisted.
func (d *Dispatcher) processPage(job *models.WikiJob, page *models.WikiPage, maxRetries int) {
	d.bus.SetCurrentPage(job.ID, page.Title)
	defer d.bus.SetCurrentPage(job.ID, "")

	retries := page.RetryCount
	for retries < maxRetries {
		if err := d.manager.UpdatePageStatus(d.ctx, job.ID, page.PageID, models.PageStatusGenerating, "", ""); err != nil {
			d.logger.Error().Str("job_id", job.ID).Str("page_id", page.PageID).Err(err).Msg("Failed to mark page generating")
			return
		}

		content, err := d.pages.Generate(d.ctx, job, page)
		if err == nil {
			if err := d.manager.UpdatePageStatus(d.ctx, job.ID, page.PageID, models.PageStatusCompleted, content, ""); err != nil {
				d.logger.Error().Str("job_id", job.ID).Str("page_id", page.PageID).Err(err).Msg("Failed to persist page")
				return
			}
			if err := d.manager.IncrementJobPageCount(d.ctx, job.ID, true); err != nil {
				d.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to update page counters")
			}
			return
		}

		retries++
		d.logger.Warn().
			Str("job_id", job.ID).
			Str("page_id", page.PageID).
			Int("attempt", retries).
			Err(err).
			Msg("Page generation attempt failed")
		status := models.PageStatusFailed
		if retries >= maxRetries {
			status = models.PageStatusPermanentFailed
		}
		if updateErr := d.manager.UpdatePageStatus(d.ctx, job.ID, page.PageID, status, "", err.Error()); updateErr != nil {
			d.logger.Error().Str("job_id", job.ID).Str("page_id", page.PageID).Err(updateErr).Msg("Failed to record page failure")
			return
		}
		if d.ctx.Err() != nil {
			return
		}
	}

	// Retry budget exhausted; the page counts against the job.
	if err := d.manager.IncrementJobPageCount(d.ctx, job.ID, false); err != nil {
		d.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to update page counters")
	}
}

// finishJob computes the terminal status from the page counters and
// writes the wiki cache for any run that produced pages.
func (d *Dispatcher) finishJob(jobID string) error {
	job, err := d.storage.GetJob(d.ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusGeneratingPages {
		return nil
	}

	var final models.JobStatus
	switch {
	case job.TotalPages > 0 && job.CompletedPages == 0:
		final = models.JobStatusFailed
	case job.FailedPages > 0:
		final = models.JobStatusPartiallyCompleted
	default:
		final = models.JobStatusCompleted
	}

	if final != models.JobStatusFailed {
		pages, pagesErr := d.storage.GetPages(d.ctx, jobID)
		if pagesErr != nil {
			d.logger.Warn().Str("job_id", jobID).Err(pagesErr).Msg("Cannot load pages for wiki cache")
		} else if err := d.cache.Write(job, pages); err != nil {
			d.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to write wiki cache")
		}
	}

	errMsg := ""
	if final == models.JobStatusFailed {
		errMsg = "no pages were generated successfully"
	}
	return d.manager.UpdateJobStatus(d.ctx, jobID, final, errMsg)
}
