package camera

import (
	"fmt"

	"github.com/tphakala/camerad/internal/errors"
)

// ComponentCamera identifies camera coordination errors.
const ComponentCamera = "camera"

// Sentinel errors. Returned errors are *errors.EnhancedError values wrapping
// one of these, so errors.Is and KindOf see through the wrapper.
var (
	ErrSessionNotFound       = errors.NewStd("camera not created")
	ErrDuplicateDevice       = errors.NewStd("camera with given device id already exists")
	ErrRequestAlreadyPending = errors.NewStd("request already pending")
	ErrSinkBusy              = errors.NewStd("image stream sink busy")
	ErrInvalidCameraName     = errors.NewStd("invalid camera name")
	ErrInvalidSettings       = errors.NewStd("invalid media settings")
	ErrInvalidState          = errors.NewStd("invalid camera state")
	ErrSessionDisposed       = errors.NewStd("camera disposed")
	ErrCoordinatorStopped    = errors.NewStd("camera coordinator stopped")
)

// ErrorKind is the caller-facing classification of a failed request.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindSessionNotFound       ErrorKind = "session_not_found"
	KindDuplicateDevice       ErrorKind = "duplicate_device"
	KindRequestAlreadyPending ErrorKind = "request_already_pending"
	KindSinkBusy              ErrorKind = "sink_busy"
	KindSystemError           ErrorKind = "system_error"
	KindInvalidArgument       ErrorKind = "invalid_argument"
	KindInvalidState          ErrorKind = "invalid_state"
)

// KindOf classifies err. Any error that is not a recognised domain error,
// including collaborator failures and disposal, is a KindSystemError.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrDuplicateDevice):
		return KindDuplicateDevice
	case errors.Is(err, ErrRequestAlreadyPending):
		return KindRequestAlreadyPending
	case errors.Is(err, ErrSinkBusy):
		return KindSinkBusy
	case errors.Is(err, ErrInvalidCameraName), errors.Is(err, ErrInvalidSettings):
		return KindInvalidArgument
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	default:
		return KindSystemError
	}
}

func sessionNotFoundError(id int64, kind OperationKind) error {
	return errors.New(ErrSessionNotFound).
		Component(ComponentCamera).
		Category(errors.CategoryNotFound).
		Context("camera_id", id).
		Context("operation", kind.String()).
		Build()
}

func pendingError(id int64, kind OperationKind) error {
	return errors.New(fmt.Errorf("pending %s request exists: %w", kind.describe(), ErrRequestAlreadyPending)).
		Component(ComponentCamera).
		Category(errors.CategoryConflict).
		Context("camera_id", id).
		Context("operation", kind.String()).
		Build()
}

func duplicateDeviceError(deviceID string, existing int64) error {
	return errors.New(fmt.Errorf("%w: existing camera %d must be disposed before creating it again", ErrDuplicateDevice, existing)).
		Component(ComponentCamera).
		Category(errors.CategoryConflict).
		Context("device_id", deviceID).
		Context("camera_id", existing).
		Build()
}

func invalidStateError(id int64, kind OperationKind, state State) error {
	return errors.New(fmt.Errorf("cannot %s while %s: %w", kind.describe(), state, ErrInvalidState)).
		Component(ComponentCamera).
		Category(errors.CategoryState).
		Context("camera_id", id).
		Context("operation", kind.String()).
		Context("state", state.String()).
		Build()
}

func sinkBusyError(id int64, reason string) error {
	return errors.New(fmt.Errorf("%s: %w", reason, ErrSinkBusy)).
		Component(ComponentCamera).
		Category(errors.CategoryImageStream).
		Context("camera_id", id).
		Context("operation", OpStartImageStream.String()).
		Build()
}

// systemError wraps a collaborator failure reported for kind.
func systemError(id int64, kind OperationKind, err error) error {
	return errors.New(fmt.Errorf("%s failed: %w", kind.describe(), err)).
		Component(ComponentCamera).
		Category(categoryFor(kind)).
		Context("camera_id", id).
		Context("operation", kind.String()).
		Build()
}

func disposedError(id int64, kind OperationKind) error {
	return errors.New(ErrSessionDisposed).
		Component(ComponentCamera).
		Category(errors.CategoryState).
		Context("camera_id", id).
		Context("operation", kind.String()).
		Build()
}

func invalidSettingsError(field string, value any) error {
	return errors.New(fmt.Errorf("%w: unsupported %s %v", ErrInvalidSettings, field, value)).
		Component(ComponentCamera).
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}

func stoppedError() error {
	return errors.New(ErrCoordinatorStopped).
		Component(ComponentCamera).
		Category(errors.CategoryCancellation).
		Build()
}

func categoryFor(kind OperationKind) errors.ErrorCategory {
	switch kind {
	case OpStartRecord, OpStopRecord:
		return errors.CategoryRecording
	case OpStartImageStream, OpStopImageStream:
		return errors.CategoryImageStream
	default:
		return errors.CategoryCapture
	}
}
