// Package events provides a small asynchronous event bus for cross-cutting
// playback notifications. Session-local state never flows through here;
// only lifecycle facts other components may care about.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

const (
	// Playback lifecycle events.
	EventPlaybackStarted   EventType = "playback.started"
	EventPlaybackPaused    EventType = "playback.paused"
	EventPlaybackResumed   EventType = "playback.resumed"
	EventPlaybackRecovered EventType = "playback.recovered"
	EventPlaybackFallback  EventType = "playback.fallback"
	EventPlaybackFinished  EventType = "playback.finished"
	EventPlaybackError     EventType = "playback.error"

	// In-stream prompts.
	EventMarkerEntered EventType = "playback.marker"
	EventNextUpTick    EventType = "playback.nextup"

	// Server push.
	EventServerNotification EventType = "server.notification"
)

// Event is a bus message.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates an event with an id and timestamp filled in.
func New(eventType EventType, source string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Handler consumes events. Handlers run on the bus dispatch goroutine and
// must not block.
type Handler func(Event)
