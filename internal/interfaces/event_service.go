package interfaces

import (
	"context"

	"github.com/ternarybob/codewiki/internal/models"
)

// EventType represents different event types in the system
type EventType string

const (
	EventJobCreated   EventType = "job_created"
	EventJobProgress  EventType = "job_progress"
	EventJobCompleted EventType = "job_completed"
	EventPageStarted  EventType = "page_started"
	EventPageFinished EventType = "page_finished"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}

// ProgressCallback receives progress events for one job.
type ProgressCallback func(event *models.ProgressEvent)

// ProgressBus connects the worker to at most one live status stream per
// job. Registration replaces any earlier callback for the same job.
type ProgressBus interface {
	Register(jobID string, cb ProgressCallback)
	Unregister(jobID string)
	Publish(event *models.ProgressEvent)

	// CurrentPage reports the page title the worker is generating for a
	// job, for heartbeat lines.
	SetCurrentPage(jobID, title string)
	CurrentPage(jobID string) string
}
