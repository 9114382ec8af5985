package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
)

// defaultStaleAge is how long a registered callback may sit without being
// replaced or unregistered before registration sweeps it out.
const defaultStaleAge = time.Hour

type registration struct {
	callback     interfaces.ProgressCallback
	registeredAt time.Time
}

// ProgressBus routes progress events from the worker to the single live
// status stream per job, and tracks the currently generating page title
// for heartbeat lines.
type ProgressBus struct {
	mu          sync.Mutex
	callbacks   map[string]*registration
	currentPage map[string]string
	staleAge    time.Duration
	logger      arbor.ILogger
}

// NewProgressBus creates a progress bus
func NewProgressBus(logger arbor.ILogger, staleAge time.Duration) *ProgressBus {
	if staleAge <= 0 {
		staleAge = defaultStaleAge
	}
	return &ProgressBus{
		callbacks:   make(map[string]*registration),
		currentPage: make(map[string]string),
		staleAge:    staleAge,
		logger:      logger,
	}
}

// Register attaches the callback for a job, replacing any earlier one.
// Stale registrations are garbage collected on each call.
func (b *ProgressBus) Register(jobID string, cb interfaces.ProgressCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-b.staleAge)
	for id, reg := range b.callbacks {
		if reg.registeredAt.Before(cutoff) {
			delete(b.callbacks, id)
			b.logger.Debug().Str("job_id", id).Msg("Dropped stale progress callback")
		}
	}

	b.callbacks[jobID] = &registration{
		callback:     cb,
		registeredAt: time.Now(),
	}
}

// Unregister removes the callback for a job
func (b *ProgressBus) Unregister(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.callbacks, jobID)
	delete(b.currentPage, jobID)
}

// Publish delivers an event to the job's callback if one is registered.
// Callback panics are contained so a broken stream cannot take down the
// worker.
func (b *ProgressBus) Publish(event *models.ProgressEvent) {
	b.mu.Lock()
	reg := b.callbacks[event.JobID]
	b.mu.Unlock()

	if reg == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn().
				Str("job_id", event.JobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Progress callback panicked")
		}
	}()
	reg.callback(event)
}

// SetCurrentPage records the page title the worker is generating
func (b *ProgressBus) SetCurrentPage(jobID, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if title == "" {
		delete(b.currentPage, jobID)
		return
	}
	b.currentPage[jobID] = title
}

// CurrentPage returns the page title the worker is generating, if any
func (b *ProgressBus) CurrentPage(jobID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentPage[jobID]
}

// CallbackCount reports the number of live registrations
func (b *ProgressBus) CallbackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.callbacks)
}
