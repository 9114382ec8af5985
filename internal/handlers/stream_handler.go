package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
	"github.com/ternarybob/codewiki/internal/services/jobs"
)

const heartbeatInterval = 30 * time.Second

// StreamHandler serves the NDJSON progress stream for one job: a
// snapshot frame, then progress frames as the worker emits them, with
// heartbeats every 30 seconds of silence. The stream ends when the job
// reaches a terminal status.
type StreamHandler struct {
	jobs   *jobs.Manager
	bus    interfaces.ProgressBus
	logger arbor.ILogger
}

func NewStreamHandler(manager *jobs.Manager, bus interfaces.ProgressBus, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{jobs: manager, bus: bus, logger: logger}
}

// StreamProgressHandler handles GET /api/wiki_generation/status/{id}/stream.
func (h *StreamHandler) StreamProgressHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	encoder := json.NewEncoder(w)
	writeFrame := func(event *models.ProgressEvent) bool {
		if err := encoder.Encode(event); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// First frame is the current snapshot.
	if !writeFrame(snapshotEvent(job)) {
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	// Buffered so a slow client never blocks the worker's publish path.
	updates := make(chan *models.ProgressEvent, 32)
	h.bus.Register(jobID, func(event *models.ProgressEvent) {
		select {
		case updates <- event:
		default:
		}
	})
	defer h.bus.Unregister(jobID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-updates:
			if !writeFrame(event) {
				return
			}
			if event.Status.IsTerminal() {
				return
			}
			heartbeat.Reset(heartbeatInterval)

		case <-heartbeat.C:
			current, err := h.jobs.GetJob(ctx, jobID)
			if err != nil {
				return
			}
			event := snapshotEvent(current)
			event.Type = "heartbeat"
			event.CurrentPage = h.bus.CurrentPage(jobID)
			if !writeFrame(event) {
				return
			}
			if current.Status.IsTerminal() {
				return
			}
		}
	}
}

func snapshotEvent(job *models.WikiJob) *models.ProgressEvent {
	return &models.ProgressEvent{
		Type:            "snapshot",
		JobID:           job.ID,
		Status:          job.Status,
		CurrentPhase:    job.CurrentPhase,
		ProgressPercent: job.ProgressPercent,
		CompletedPages:  job.CompletedPages,
		FailedPages:     job.FailedPages,
		TotalPages:      job.TotalPages,
		Error:           job.Error,
		Timestamp:       time.Now().UnixMilli(),
	}
}
