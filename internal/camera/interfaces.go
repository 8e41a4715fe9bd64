package camera

import "context"

// CaptureController drives one physical device. Every method is called on the
// coordinator goroutine and must return without waiting for the hardware. The
// outcome of each operation is reported later, from another goroutine, via
// CaptureListener.OnComplete with the matching OperationKind. A non-nil return
// means the operation could not be issued and no completion will follow.
type CaptureController interface {
	// InitCaptureDevice opens the device; reports OpCreateCamera.
	InitCaptureDevice(settings MediaSettings) error

	// StartPreview starts frame acquisition; reports OpInitialize with the preview size.
	StartPreview() error
	PausePreview() error
	ResumePreview() error

	// StartRecord begins encoding to path; StopRecord reports the final path.
	StartRecord(path string) error
	StopRecord() error

	// TakePicture writes the next frame to path and reports it.
	TakePicture(path string) error

	// StartImageStream enables OnFrame delivery; StopImageStream disables it.
	StartImageStream() error
	StopImageStream() error

	// Close releases the device. No completions are reported afterwards. It
	// must not wait for goroutines that may be blocked reporting to the
	// listener.
	Close() error
}

// CaptureListener receives asynchronous reports from a CaptureController.
// Implementations must be safe to call from any goroutine.
type CaptureListener interface {
	OnComplete(kind OperationKind, c Completion)
	OnFrame(data []byte)
	OnError(err error)
}

// CaptureFactory builds a controller bound to one device.
type CaptureFactory interface {
	NewController(deviceID string, settings MediaSettings, listener CaptureListener) (CaptureController, error)
}

// DeviceEnumerator lists the capture devices currently present.
type DeviceEnumerator interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
}

// SinkCloseReason tells a FrameSink why the broker discarded it.
type SinkCloseReason string

const (
	SinkReplaced SinkCloseReason = "replaced" // a newer sink was attached
	SinkDetached SinkCloseReason = "detached" // the subscriber detached itself
	SinkShutdown SinkCloseReason = "shutdown" // the coordinator stopped
)

// FrameSink consumes streamed frames. Send must not block; it returns false
// when the frame was dropped. Close is called once when the broker discards
// the sink.
type FrameSink interface {
	ID() string
	Send(frame Frame) bool
	Close(reason SinkCloseReason)
}
