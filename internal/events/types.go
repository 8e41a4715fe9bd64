// Package events provides an asynchronous event bus that decouples camera
// lifecycle notifications from their consumers, so publishing never blocks the
// camera coordinator.
package events

import (
	"time"
)

// EventType names a camera lifecycle change.
type EventType string

const (
	EventCameraCreated     EventType = "camera_created"
	EventCameraInitialized EventType = "camera_initialized"
	EventCameraDisposed    EventType = "camera_disposed"
	EventPreviewPaused     EventType = "preview_paused"
	EventPreviewResumed    EventType = "preview_resumed"
	EventRecordingStarted  EventType = "recording_started"
	EventRecordingStopped  EventType = "recording_stopped"
	EventPictureTaken      EventType = "picture_taken"
	EventStreamStarted     EventType = "stream_started"
	EventStreamStopped     EventType = "stream_stopped"
	EventStreamRevoked     EventType = "stream_revoked"
	EventRequestFailed     EventType = "request_failed"
	EventCaptureError      EventType = "capture_error"
)

// CameraEvent describes one lifecycle change of a camera session.
type CameraEvent struct {
	Type      EventType `json:"type"`
	CameraID  int64     `json:"camera_id"`
	DeviceID  string    `json:"device_id,omitempty"`
	Operation string    `json:"operation,omitempty"`
	State     string    `json:"state,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventConsumer processes camera events delivered by the bus
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event. It runs on a bus worker and may
	// block on I/O.
	ProcessEvent(event CameraEvent) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived   uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
	FastPathHits     uint64 // Publishes skipped because no consumer is registered
	EventsSuppressed uint64
}

// PublishRecorder receives per-event publish outcomes
type PublishRecorder interface {
	RecordEventPublished(eventType string, accepted bool)
}
