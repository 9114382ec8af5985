package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/models"
)

func TestProgressBusPublishToRegisteredCallback(t *testing.T) {
	bus := NewProgressBus(common.GetLogger(), time.Hour)

	var received []*models.ProgressEvent
	bus.Register("job-1", func(event *models.ProgressEvent) {
		received = append(received, event)
	})

	bus.Publish(&models.ProgressEvent{Type: "progress", JobID: "job-1", ProgressPercent: 25})
	bus.Publish(&models.ProgressEvent{Type: "progress", JobID: "job-2", ProgressPercent: 50})

	require.Len(t, received, 1)
	assert.Equal(t, "job-1", received[0].JobID)
	assert.Equal(t, float64(25), received[0].ProgressPercent)
}

func TestProgressBusReplaceCallback(t *testing.T) {
	bus := NewProgressBus(common.GetLogger(), time.Hour)

	var first, second int
	bus.Register("job-1", func(*models.ProgressEvent) { first++ })
	bus.Register("job-1", func(*models.ProgressEvent) { second++ })

	bus.Publish(&models.ProgressEvent{JobID: "job-1"})

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, bus.CallbackCount())
}

func TestProgressBusUnregister(t *testing.T) {
	bus := NewProgressBus(common.GetLogger(), time.Hour)

	var calls int
	bus.Register("job-1", func(*models.ProgressEvent) { calls++ })
	bus.SetCurrentPage("job-1", "Overview")
	bus.Unregister("job-1")

	bus.Publish(&models.ProgressEvent{JobID: "job-1"})

	assert.Zero(t, calls)
	assert.Empty(t, bus.CurrentPage("job-1"))
	assert.Zero(t, bus.CallbackCount())
}

func TestProgressBusSweepsStaleCallbacks(t *testing.T) {
	bus := NewProgressBus(common.GetLogger(), 10*time.Millisecond)

	bus.Register("job-old", func(*models.ProgressEvent) {})
	time.Sleep(25 * time.Millisecond)

	// Registering a new callback sweeps anything past the stale age
	bus.Register("job-new", func(*models.ProgressEvent) {})

	assert.Equal(t, 1, bus.CallbackCount())
}

func TestProgressBusContainsCallbackPanic(t *testing.T) {
	bus := NewProgressBus(common.GetLogger(), time.Hour)

	bus.Register("job-1", func(*models.ProgressEvent) {
		panic("closed stream")
	})

	assert.NotPanics(t, func() {
		bus.Publish(&models.ProgressEvent{JobID: "job-1"})
	})
}

func TestProgressBusCurrentPage(t *testing.T) {
	bus := NewProgressBus(common.GetLogger(), time.Hour)

	assert.Empty(t, bus.CurrentPage("job-1"))

	bus.SetCurrentPage("job-1", "Architecture")
	assert.Equal(t, "Architecture", bus.CurrentPage("job-1"))

	bus.SetCurrentPage("job-1", "")
	assert.Empty(t, bus.CurrentPage("job-1"))
}
