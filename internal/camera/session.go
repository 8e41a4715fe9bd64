package camera

import "time"

// Session is one live camera: its controller, lifecycle state and pending
// requests. It is confined to the coordinator goroutine.
type Session struct {
	id         int64
	deviceID   string
	settings   MediaSettings
	state      State
	controller CaptureController
	pending    *PendingResultTable
	createdAt  time.Time

	previewSize   Size
	recordingPath string

	// Streaming bookkeeping, maintained by StreamSinkBroker. sink is non-nil
	// only while this session holds the shared sink.
	armed bool
	sink  FrameSink
}

func newSession(id int64, deviceID string, settings MediaSettings, now time.Time) *Session {
	return &Session{
		id:        id,
		deviceID:  deviceID,
		settings:  settings,
		state:     StateCreated,
		pending:   NewPendingResultTable(),
		createdAt: now,
	}
}

func (s *Session) ID() int64                    { return s.id }
func (s *Session) DeviceID() string             { return s.deviceID }
func (s *Session) State() State                 { return s.state }
func (s *Session) Pending() *PendingResultTable { return s.pending }

// admit applies the pending-request check and then the state guard for kind.
func (s *Session) admit(kind OperationKind) error {
	if s.pending.Has(kind) {
		return pendingError(s.id, kind)
	}
	if !s.allows(kind) {
		return invalidStateError(s.id, kind, s.state)
	}
	return nil
}

// allows is the state guard table.
func (s *Session) allows(kind OperationKind) bool {
	switch kind {
	case OpCreateCamera:
		return s.state == StateCreated
	case OpInitialize:
		// The device must have finished opening.
		return s.state == StateCreated && !s.pending.Has(OpCreateCamera)
	case OpPausePreview:
		return s.state == StatePreviewing
	case OpResumePreview:
		return s.state == StatePaused
	case OpStartRecord:
		return s.state == StatePreviewing || s.state == StatePaused
	case OpStopRecord:
		return s.state == StateRecording
	case OpTakePicture, OpStartImageStream, OpStopImageStream:
		return s.state != StateDisposed
	default:
		return false
	}
}

// issued records the transition taken when a request for kind is handed to
// the controller.
func (s *Session) issued(kind OperationKind, path string) {
	switch kind {
	case OpInitialize:
		s.state = StateInitializing
	case OpStartRecord:
		s.recordingPath = path
	}
}

// revert undoes issued after the controller refused the request.
func (s *Session) revert(kind OperationKind) {
	switch kind {
	case OpInitialize:
		s.state = StateCreated
	case OpStartRecord:
		s.recordingPath = ""
	}
}

// completed applies the transition for a finished operation. A failed
// completion leaves the state unchanged apart from Initialize, which falls
// back to Created, and a StopRecord that still ended the recording.
func (s *Session) completed(kind OperationKind, c Completion) {
	if s.state == StateDisposed {
		return
	}
	if c.Err != nil {
		if kind == OpStopRecord && c.Stopped {
			s.state = StatePreviewing
			s.recordingPath = ""
			return
		}
		s.revert(kind)
		return
	}

	switch kind {
	case OpInitialize:
		s.state = StatePreviewing
		s.previewSize = c.Size
	case OpPausePreview:
		s.state = StatePaused
	case OpResumePreview:
		s.state = StatePreviewing
	case OpStartRecord:
		s.state = StateRecording
	case OpStopRecord:
		s.state = StatePreviewing
		s.recordingPath = ""
	}
}

// dispose drains pending requests with ErrSessionDisposed and closes the
// controller. Later calls are no-ops.
func (s *Session) dispose() error {
	if s.state == StateDisposed {
		return nil
	}
	s.state = StateDisposed
	s.armed = false

	s.pending.Drain(func(kind OperationKind) Result {
		return Result{CameraID: s.id, Err: disposedError(s.id, kind)}
	})

	if s.controller == nil {
		return nil
	}
	err := s.controller.Close()
	s.controller = nil
	return err
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	kinds := s.pending.Kinds()
	pending := make([]string, len(kinds))
	for i, k := range kinds {
		pending[i] = k.String()
	}
	return SessionInfo{
		CameraID:      s.id,
		DeviceID:      s.deviceID,
		State:         s.state.String(),
		Settings:      s.settings,
		PreviewSize:   s.previewSize,
		Pending:       pending,
		StreamArmed:   s.armed,
		StreamHolder:  s.sink != nil,
		CreatedAt:     s.createdAt,
		RecordingPath: s.recordingPath,
	}
}
