package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateGuard(t *testing.T) {
	t.Parallel()

	states := []State{StateCreated, StateInitializing, StatePreviewing, StatePaused, StateRecording, StateDisposed}
	allowed := map[OperationKind][]State{
		OpInitialize:       {StateCreated},
		OpPausePreview:     {StatePreviewing},
		OpResumePreview:    {StatePaused},
		OpStartRecord:      {StatePreviewing, StatePaused},
		OpStopRecord:       {StateRecording},
		OpTakePicture:      {StateCreated, StateInitializing, StatePreviewing, StatePaused, StateRecording},
		OpStartImageStream: {StateCreated, StateInitializing, StatePreviewing, StatePaused, StateRecording},
		OpStopImageStream:  {StateCreated, StateInitializing, StatePreviewing, StatePaused, StateRecording},
	}

	for kind, ok := range allowed {
		for _, state := range states {
			s := newSession(1, "dev", MediaSettings{}, time.Time{})
			s.state = state
			err := s.admit(kind)
			if containsState(ok, state) {
				assert.NoError(t, err, "%s in %s", kind, state)
				continue
			}
			require.Error(t, err, "%s in %s", kind, state)
			assert.Equal(t, KindInvalidState, KindOf(err))
		}
	}
}

func containsState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func TestSessionPendingCheckedBeforeState(t *testing.T) {
	t.Parallel()

	s := newSession(3, "dev", MediaSettings{}, time.Time{})
	s.state = StateInitializing
	s.pending.TryBegin(OpInitialize, func(Result) {})

	err := s.admit(OpInitialize)
	require.Error(t, err)
	assert.Equal(t, KindRequestAlreadyPending, KindOf(err))
	assert.Contains(t, err.Error(), "pending initialization request exists")
}

func TestSessionInitializeWaitsForDeviceOpen(t *testing.T) {
	t.Parallel()

	s := newSession(1, "dev", MediaSettings{}, time.Time{})
	s.pending.TryBegin(OpCreateCamera, func(Result) {})

	assert.Equal(t, KindInvalidState, KindOf(s.admit(OpInitialize)))
}

func TestSessionTransitions(t *testing.T) {
	t.Parallel()

	s := newSession(1, "dev", MediaSettings{}, time.Time{})

	s.issued(OpInitialize, "")
	assert.Equal(t, StateInitializing, s.State())
	s.completed(OpInitialize, Completion{Err: assert.AnError})
	assert.Equal(t, StateCreated, s.State(), "failed initialization falls back")

	s.issued(OpInitialize, "")
	s.completed(OpInitialize, Completion{Size: Size{Width: 640, Height: 480}})
	assert.Equal(t, StatePreviewing, s.State())
	assert.Equal(t, Size{Width: 640, Height: 480}, s.Info().PreviewSize)

	s.completed(OpPausePreview, Completion{})
	assert.Equal(t, StatePaused, s.State())

	s.issued(OpStartRecord, "/videos/v.mp4")
	s.completed(OpStartRecord, Completion{})
	assert.Equal(t, StateRecording, s.State())
	assert.Equal(t, "/videos/v.mp4", s.Info().RecordingPath)

	s.completed(OpStopRecord, Completion{Err: assert.AnError})
	assert.Equal(t, StateRecording, s.State(), "failed stop keeps recording")

	s.completed(OpStopRecord, Completion{})
	assert.Equal(t, StatePreviewing, s.State())
	assert.Empty(t, s.Info().RecordingPath)
}

func TestSessionStopRecordFailureAfterEncoderReleased(t *testing.T) {
	t.Parallel()

	s := newSession(1, "dev", MediaSettings{}, time.Time{})
	s.state = StatePreviewing
	s.issued(OpStartRecord, "/videos/v.mp4")
	s.completed(OpStartRecord, Completion{})
	require.Equal(t, StateRecording, s.State())

	s.completed(OpStopRecord, Completion{Err: assert.AnError, Stopped: true})
	assert.Equal(t, StatePreviewing, s.State())
	assert.Empty(t, s.Info().RecordingPath)
	assert.NoError(t, s.admit(OpStartRecord), "a new recording can start")

	// Stopped only applies to StopRecord.
	s.completed(OpPausePreview, Completion{Err: assert.AnError, Stopped: true})
	assert.Equal(t, StatePreviewing, s.State())
}

func TestSessionDisposeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctrl := &stubController{}
	s := newSession(9, "dev", MediaSettings{}, time.Time{})
	s.controller = ctrl

	var results []Result
	s.pending.TryBegin(OpTakePicture, func(r Result) { results = append(results, r) })

	require.NoError(t, s.dispose())
	require.NoError(t, s.dispose())

	assert.Equal(t, StateDisposed, s.State())
	assert.Equal(t, 1, ctrl.closes)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrSessionDisposed)
	assert.Equal(t, int64(9), results[0].CameraID)
	assert.Equal(t, KindInvalidState, KindOf(s.admit(OpTakePicture)))
}
