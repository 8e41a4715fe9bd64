package camera

import (
	"fmt"
	"time"
)

// OperationKind identifies an asynchronous request type. A session admits at
// most one pending request per kind.
type OperationKind int

const (
	OpCreateCamera OperationKind = iota
	OpInitialize
	OpPausePreview
	OpResumePreview
	OpStartRecord
	OpStopRecord
	OpTakePicture
	OpStartImageStream
	OpStopImageStream
)

// AllOperationKinds lists every kind in declaration order.
var AllOperationKinds = []OperationKind{
	OpCreateCamera,
	OpInitialize,
	OpPausePreview,
	OpResumePreview,
	OpStartRecord,
	OpStopRecord,
	OpTakePicture,
	OpStartImageStream,
	OpStopImageStream,
}

// String returns the snake_case name used in logs, metrics and events.
func (k OperationKind) String() string {
	switch k {
	case OpCreateCamera:
		return "create_camera"
	case OpInitialize:
		return "initialize"
	case OpPausePreview:
		return "pause_preview"
	case OpResumePreview:
		return "resume_preview"
	case OpStartRecord:
		return "start_record"
	case OpStopRecord:
		return "stop_record"
	case OpTakePicture:
		return "take_picture"
	case OpStartImageStream:
		return "start_image_stream"
	case OpStopImageStream:
		return "stop_image_stream"
	default:
		return fmt.Sprintf("operation(%d)", int(k))
	}
}

// describe returns the phrase used in "pending ... request exists" errors.
func (k OperationKind) describe() string {
	switch k {
	case OpCreateCamera:
		return "camera creation"
	case OpInitialize:
		return "initialization"
	case OpPausePreview:
		return "pause preview"
	case OpResumePreview:
		return "resume preview"
	case OpStartRecord:
		return "start recording"
	case OpStopRecord:
		return "stop recording"
	case OpTakePicture:
		return "take picture"
	case OpStartImageStream:
		return "start image stream"
	case OpStopImageStream:
		return "stop image stream"
	default:
		return k.String()
	}
}

// State is the lifecycle state of a Session.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StatePreviewing
	StatePaused
	StateRecording
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StatePreviewing:
		return "previewing"
	case StatePaused:
		return "paused"
	case StateRecording:
		return "recording"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Size is a preview resolution in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ResolutionPreset selects the capture resolution.
type ResolutionPreset string

const (
	ResolutionLow       ResolutionPreset = "low"
	ResolutionMedium    ResolutionPreset = "medium"
	ResolutionHigh      ResolutionPreset = "high"
	ResolutionVeryHigh  ResolutionPreset = "veryHigh"
	ResolutionUltraHigh ResolutionPreset = "ultraHigh"
	ResolutionMax       ResolutionPreset = "max"
)

// Dimensions returns the target size for the preset. The zero Size means the
// device's native maximum.
func (p ResolutionPreset) Dimensions() Size {
	switch p {
	case ResolutionLow:
		return Size{Width: 320, Height: 240}
	case ResolutionMedium:
		return Size{Width: 720, Height: 480}
	case ResolutionHigh:
		return Size{Width: 1280, Height: 720}
	case ResolutionVeryHigh:
		return Size{Width: 1920, Height: 1080}
	case ResolutionUltraHigh:
		return Size{Width: 3840, Height: 2160}
	default:
		return Size{}
	}
}

// Valid reports whether p is a known preset.
func (p ResolutionPreset) Valid() bool {
	switch p {
	case ResolutionLow, ResolutionMedium, ResolutionHigh, ResolutionVeryHigh, ResolutionUltraHigh, ResolutionMax:
		return true
	}
	return false
}

// MediaSettings are fixed when a camera is created.
type MediaSettings struct {
	ResolutionPreset ResolutionPreset `json:"resolution_preset"`
	FramesPerSecond  int              `json:"fps,omitempty"`
	VideoBitrate     int              `json:"video_bitrate,omitempty"`
	AudioBitrate     int              `json:"audio_bitrate,omitempty"`
	EnableAudio      bool             `json:"enable_audio"`
}

// Frame is one opaque image buffer routed to the stream sink.
type Frame struct {
	CameraID  int64
	Data      []byte
	Timestamp time.Time
}

// Completion is what a capture backend reports when an operation finishes.
type Completion struct {
	Size Size
	Path string
	Err  error
	// Stopped marks a failed StopRecord after which the backend is no longer
	// recording, so the session returns to Previewing.
	Stopped bool
}

// Result is delivered to a pending request's callback exactly once.
type Result struct {
	CameraID int64
	Size     Size
	Path     string
	Err      error
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	CameraID      int64         `json:"camera_id"`
	DeviceID      string        `json:"device_id"`
	State         string        `json:"state"`
	Settings      MediaSettings `json:"media_settings"`
	PreviewSize   Size          `json:"preview_size"`
	Pending       []string      `json:"pending"`
	StreamArmed   bool          `json:"stream_armed"`
	StreamHolder  bool          `json:"stream_holder"`
	CreatedAt     time.Time     `json:"created_at"`
	RecordingPath string        `json:"recording_path,omitempty"`
}

// DeviceInfo describes an enumerated capture device.
type DeviceInfo struct {
	DisplayName string
	DeviceID    string
}
