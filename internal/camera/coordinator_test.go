package camera_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/camera/cameratest"
	"github.com/tphakala/camerad/internal/events"
	"github.com/tphakala/camerad/internal/logger"
)

const (
	frontCamera = "Front <video0>"
	backCamera  = "Back <video2>"
)

type harness struct {
	c       *camera.Coordinator
	factory *cameratest.Factory
	metrics *recordingMetrics
	events  *recordingEvents
	cfg     camera.Config
	stop    func()
}

func startCoordinator(t *testing.T, configure func(*camera.Config), opts ...camera.Option) *harness {
	t.Helper()

	root := t.TempDir()
	cfg := camera.DefaultConfig()
	cfg.Paths = camera.CapturePaths{
		PicturesDir: filepath.Join(root, "pictures"),
		VideosDir:   filepath.Join(root, "videos"),
	}
	if configure != nil {
		configure(&cfg)
	}

	h := &harness{
		factory: cameratest.NewFactory(),
		metrics: newRecordingMetrics(),
		events:  &recordingEvents{},
		cfg:     cfg,
	}
	opts = append([]camera.Option{
		camera.WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)),
		camera.WithMetrics(h.metrics),
		camera.WithEventPublisher(h.events),
	}, opts...)
	h.c = camera.NewCoordinator(h.factory, cfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.c.Run(ctx) }()

	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-h.c.Done():
			case <-time.After(5 * time.Second):
				t.Error("coordinator did not stop")
			}
		})
	}
	t.Cleanup(h.stop)
	return h
}

// open creates and initializes a camera.
func (h *harness) open(t *testing.T, name string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := h.c.Create(ctx, name, camera.MediaSettings{})
	require.NoError(t, err)
	_, err = h.c.Initialize(ctx, id)
	require.NoError(t, err)
	return id
}

func (h *harness) session(t *testing.T, id int64) camera.SessionInfo {
	t.Helper()
	list, err := h.c.Sessions(context.Background())
	require.NoError(t, err)
	for _, s := range list {
		if s.CameraID == id {
			return s
		}
	}
	t.Fatalf("camera %d not listed", id)
	return camera.SessionInfo{}
}

// sync waits until every report posted so far has been applied.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	_, err := h.c.Sessions(context.Background())
	require.NoError(t, err)
}

type recordingMetrics struct {
	mu         sync.Mutex
	active     int
	requests   map[string]int
	pending    map[string]int
	discarded  map[string]int
	routed     int
	dropped    map[string]int
	subscriber int
	capture    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		requests:  make(map[string]int),
		pending:   make(map[string]int),
		discarded: make(map[string]int),
		dropped:   make(map[string]int),
		capture:   make(map[string]int),
	}
}

func (m *recordingMetrics) SetActiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *recordingMetrics) RecordRequest(op, outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[op+"/"+outcome]++
}

func (m *recordingMetrics) AddPending(op string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[op] += delta
}

func (m *recordingMetrics) RecordDiscarded(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded[reason]++
}

func (m *recordingMetrics) SetQueueDepth(int) {}

func (m *recordingMetrics) RecordFrameRouted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routed++
}

func (m *recordingMetrics) RecordFrameDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *recordingMetrics) SetStreamSubscribers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriber = n
}

func (m *recordingMetrics) RecordCaptureError(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capture[deviceID]++
}

func (m *recordingMetrics) count(read func(m *recordingMetrics) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return read(m)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.CameraEvent
}

func (r *recordingEvents) TryPublish(ev events.CameraEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recordingEvents) find(t events.EventType) (events.CameraEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return ev, true
		}
	}
	return events.CameraEvent{}, false
}

func TestCoordinatorPreviewLifecycle(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()

	id, err := h.c.Create(ctx, frontCamera, camera.MediaSettings{ResolutionPreset: camera.ResolutionMedium})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "created", h.session(t, id).State)

	size, err := h.c.Initialize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cameratest.DefaultPreviewSize, size)

	require.NoError(t, h.c.PausePreview(ctx, id))
	assert.Equal(t, "paused", h.session(t, id).State)

	err = h.c.PausePreview(ctx, id)
	assert.Equal(t, camera.KindInvalidState, camera.KindOf(err))

	require.NoError(t, h.c.ResumePreview(ctx, id))
	info := h.session(t, id)
	assert.Equal(t, "previewing", info.State)
	assert.Equal(t, size, info.PreviewSize)
	assert.Equal(t, camera.ResolutionMedium, info.Settings.ResolutionPreset)
	assert.Equal(t, 30, info.Settings.FramesPerSecond)

	ctrl := h.factory.Controller("video0")
	assert.Equal(t, []string{"create_camera", "initialize", "pause_preview", "resume_preview"}, ctrl.Calls())

	_, ok := h.events.find(events.EventCameraInitialized)
	assert.True(t, ok)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.active }))
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.requests["pause_preview/rejected"] }))
	assert.Equal(t, 0, h.metrics.count(func(m *recordingMetrics) int { return m.pending["initialize"] }))
}

func TestCoordinatorDuplicateDevice(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()

	first, err := h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	require.NoError(t, err)

	_, err = h.c.Create(ctx, "Another name <video0>", camera.MediaSettings{})
	require.Error(t, err)
	assert.Equal(t, camera.KindDuplicateDevice, camera.KindOf(err))

	require.NoError(t, h.c.Dispose(ctx, first))
	second, err := h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestCoordinatorRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()

	_, err := h.c.Create(ctx, "no device id", camera.MediaSettings{})
	assert.Equal(t, camera.KindInvalidArgument, camera.KindOf(err))

	_, err = h.c.Create(ctx, frontCamera, camera.MediaSettings{ResolutionPreset: "cinema"})
	assert.Equal(t, camera.KindInvalidArgument, camera.KindOf(err))

	err = h.c.AttachSink(ctx, nil)
	assert.Equal(t, camera.KindInvalidArgument, camera.KindOf(err))
	assert.Nil(t, h.factory.Controller("video0"))
}

func TestCoordinatorUnknownSession(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	const id = 42

	_, err := h.c.Initialize(ctx, id)
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(err))
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(h.c.PausePreview(ctx, id)))
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(h.c.ResumePreview(ctx, id)))
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(h.c.StartVideoRecording(ctx, id)))
	_, err = h.c.StopVideoRecording(ctx, id)
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(err))
	_, err = h.c.TakePicture(ctx, id)
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(err))
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(h.c.StartImageStream(ctx, id)))
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(h.c.StopImageStream(ctx, id)))
	assert.ErrorIs(t, h.c.StopImageStream(ctx, id), camera.ErrSessionNotFound)

	assert.NoError(t, h.c.Dispose(ctx, id))
}

func TestCoordinatorOneRequestPerKind(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")

	h.factory.SetManual(true)
	errc := make(chan error, 1)
	go func() { errc <- h.c.StartVideoRecording(ctx, id) }()
	require.Eventually(t, func() bool { return ctrl.Held(camera.OpStartRecord) }, time.Second, 5*time.Millisecond)

	err := h.c.StartVideoRecording(ctx, id)
	require.Error(t, err)
	assert.Equal(t, camera.KindRequestAlreadyPending, camera.KindOf(err))
	assert.Contains(t, err.Error(), "pending start recording request exists")
	assert.Equal(t, 1, ctrl.CallCount(camera.OpStartRecord))

	// Other kinds are still admitted.
	go func() { _, _ = h.c.TakePicture(ctx, id) }()
	require.Eventually(t, func() bool { return ctrl.Held(camera.OpTakePicture) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"start_record", "take_picture"}, h.session(t, id).Pending)

	require.True(t, ctrl.Complete(camera.OpStartRecord))
	require.NoError(t, <-errc)
	require.True(t, ctrl.Complete(camera.OpTakePicture))

	info := h.session(t, id)
	assert.Equal(t, "recording", info.State)
	assert.Empty(t, info.Pending)
}

func TestCoordinatorSyncFailureReverts(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id, err := h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	require.NoError(t, err)

	h.factory.FailSync(camera.OpInitialize, errors.New("no such format"))
	_, err = h.c.Initialize(ctx, id)
	require.Error(t, err)
	assert.Equal(t, camera.KindSystemError, camera.KindOf(err))
	assert.Contains(t, err.Error(), "no such format")

	info := h.session(t, id)
	assert.Equal(t, "created", info.State)
	assert.Empty(t, info.Pending)

	ev, ok := h.events.find(events.EventRequestFailed)
	require.True(t, ok)
	assert.Equal(t, "initialize", ev.Operation)

	h.factory.ClearFailures()
	_, err = h.c.Initialize(ctx, id)
	require.NoError(t, err)
}

func TestCoordinatorAsyncInitializeFailure(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id, err := h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	require.NoError(t, err)

	h.factory.FailAsync(camera.OpInitialize, errors.New("stream timeout"))
	_, err = h.c.Initialize(ctx, id)
	require.Error(t, err)
	assert.Equal(t, camera.KindSystemError, camera.KindOf(err))
	assert.Equal(t, "created", h.session(t, id).State)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.requests["initialize/failed"] }))
}

func TestCoordinatorRecording(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)

	_, err := h.c.StopVideoRecording(ctx, id)
	assert.Equal(t, camera.KindInvalidState, camera.KindOf(err))

	require.NoError(t, h.c.StartVideoRecording(ctx, id))
	info := h.session(t, id)
	assert.Equal(t, "recording", info.State)
	recording := info.RecordingPath
	assert.Regexp(t, regexp.MustCompile(`^VideoCapture_\d{4}_\d{4}_\d{6}_\d{1,3}\.mp4$`), filepath.Base(recording))
	assert.Equal(t, h.cfg.Paths.VideosDir, filepath.Dir(recording))

	h.factory.FailAsync(camera.OpStopRecord, errors.New("muxer error"))
	_, err = h.c.StopVideoRecording(ctx, id)
	require.Error(t, err)
	assert.Equal(t, "recording", h.session(t, id).State)

	h.factory.ClearFailures()
	path, err := h.c.StopVideoRecording(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, recording, path)
	assert.Equal(t, "previewing", h.session(t, id).State)

	ev, ok := h.events.find(events.EventRecordingStopped)
	require.True(t, ok)
	assert.Equal(t, recording, ev.Path)
}

func TestCoordinatorStopRecordingFailureReleasesRecording(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")

	require.NoError(t, h.c.StartVideoRecording(ctx, id))

	h.factory.SetManual(true)
	errc := make(chan error, 1)
	go func() {
		_, err := h.c.StopVideoRecording(ctx, id)
		errc <- err
	}()
	require.Eventually(t, func() bool { return ctrl.Held(camera.OpStopRecord) }, time.Second, 5*time.Millisecond)
	ctrl.CompleteWith(camera.OpStopRecord, camera.Completion{Err: errors.New("encoder exited"), Stopped: true})

	err := <-errc
	require.Error(t, err)
	assert.Equal(t, camera.KindSystemError, camera.KindOf(err))
	info := h.session(t, id)
	assert.Equal(t, "previewing", info.State)
	assert.Empty(t, info.RecordingPath)

	h.factory.SetManual(false)
	require.NoError(t, h.c.StartVideoRecording(ctx, id))
	assert.Equal(t, "recording", h.session(t, id).State)
}

func TestCoordinatorTakePicturePath(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 5, 14, 7, 9, 7*int(time.Millisecond), time.Local)
	h := startCoordinator(t, nil, camera.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	id := h.open(t, frontCamera)

	path, err := h.c.TakePicture(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.cfg.Paths.PicturesDir, "PhotoCapture_2024_0305_140709_7.jpeg"), path)
	assert.DirExists(t, h.cfg.Paths.PicturesDir)

	ev, ok := h.events.find(events.EventPictureTaken)
	require.True(t, ok)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, "video0", ev.DeviceID)
}

func TestCoordinatorCreateFailure(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()

	h.factory.FailAsync(camera.OpCreateCamera, errors.New("permission denied"))
	_, err := h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	require.Error(t, err)
	assert.Equal(t, camera.KindSystemError, camera.KindOf(err))

	list, err := h.c.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.True(t, h.factory.Controller("video0").Closed())

	h.factory.ClearFailures()
	h.factory.FailNewController(errors.New("unsupported device"))
	_, err = h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported device")

	h.factory.ClearFailures()
	_, err = h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	require.NoError(t, err)
}

func TestCoordinatorImageStream(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")
	sink := cameratest.NewSink("ws-1")

	require.NoError(t, h.c.AttachSink(ctx, sink))
	require.NoError(t, h.c.StartImageStream(ctx, id))
	assert.True(t, h.session(t, id).StreamHolder)

	ctrl.EmitFrame([]byte{0xff, 0xd8})
	h.sync(t)
	frames := sink.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, id, frames[0].CameraID)
	assert.Equal(t, []byte{0xff, 0xd8}, frames[0].Data)

	sink.Refuse(true)
	ctrl.EmitFrame([]byte{1})
	h.sync(t)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.dropped["sink_full"] }))
	sink.Refuse(false)

	require.NoError(t, h.c.StopImageStream(ctx, id))
	ctrl.EmitFrame([]byte{2})
	h.sync(t)
	assert.Len(t, sink.Frames(), 1)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.dropped["no_sink"] }))

	require.NoError(t, h.c.DetachSink(ctx, sink))
	assert.Equal(t, []camera.SinkCloseReason{camera.SinkDetached}, sink.CloseReasons())
	assert.Equal(t, 0, h.metrics.count(func(m *recordingMetrics) int { return m.subscriber }))
}

func TestCoordinatorStreamArmedBeforeSink(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")

	require.NoError(t, h.c.StartImageStream(ctx, id))
	info := h.session(t, id)
	assert.True(t, info.StreamArmed)
	assert.False(t, info.StreamHolder)

	ctrl.EmitFrame([]byte{1})
	h.sync(t)

	sink := cameratest.NewSink("ws-late")
	require.NoError(t, h.c.AttachSink(ctx, sink))
	ctrl.EmitFrame([]byte{2})
	h.sync(t)

	frames := sink.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{2}, frames[0].Data)
}

func TestCoordinatorStrictStreamingPolicy(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, func(cfg *camera.Config) {
		cfg.Streaming = camera.StreamingPolicy{Busy: camera.BusyReject}
	})
	ctx := context.Background()
	id := h.open(t, frontCamera)

	err := h.c.StartImageStream(ctx, id)
	assert.Equal(t, camera.KindSinkBusy, camera.KindOf(err))
	assert.Equal(t, 0, h.factory.Controller("video0").CallCount(camera.OpStartImageStream))
}

func TestCoordinatorBusySinkRejected(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	front := h.open(t, frontCamera)
	back := h.open(t, backCamera)

	require.NoError(t, h.c.AttachSink(ctx, cameratest.NewSink("ws-1")))
	require.NoError(t, h.c.StartImageStream(ctx, front))

	err := h.c.StartImageStream(ctx, back)
	require.Error(t, err)
	assert.Equal(t, camera.KindSinkBusy, camera.KindOf(err))
	assert.Contains(t, err.Error(), "held by camera 1")

	require.NoError(t, h.c.StopImageStream(ctx, front))
	require.NoError(t, h.c.StartImageStream(ctx, back))
	assert.True(t, h.session(t, back).StreamHolder)
}

func TestCoordinatorBusySinkTransferred(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, func(cfg *camera.Config) {
		cfg.Streaming.Busy = camera.BusyTransfer
	})
	ctx := context.Background()
	front := h.open(t, frontCamera)
	back := h.open(t, backCamera)
	sink := cameratest.NewSink("ws-1")

	require.NoError(t, h.c.AttachSink(ctx, sink))
	require.NoError(t, h.c.StartImageStream(ctx, front))
	require.NoError(t, h.c.StartImageStream(ctx, back))

	assert.False(t, h.session(t, front).StreamHolder)
	assert.True(t, h.session(t, back).StreamHolder)
	assert.Equal(t, 1, h.factory.Controller("video0").CallCount(camera.OpStopImageStream))

	ev, ok := h.events.find(events.EventStreamRevoked)
	require.True(t, ok)
	assert.Equal(t, front, ev.CameraID)

	// The revoke's own completion has no pending request.
	require.Eventually(t, func() bool {
		return h.metrics.count(func(m *recordingMetrics) int { return m.discarded["no_pending"] }) == 1
	}, time.Second, 5*time.Millisecond)

	h.factory.Controller("video0").EmitFrame([]byte{1})
	h.factory.Controller("video2").EmitFrame([]byte{2})
	h.sync(t)
	frames := sink.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, back, frames[0].CameraID)
}

func TestCoordinatorDisposeResolvesPending(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")
	sink := cameratest.NewSink("ws-1")
	require.NoError(t, h.c.AttachSink(ctx, sink))
	require.NoError(t, h.c.StartImageStream(ctx, id))

	h.factory.SetManual(true)
	errc := make(chan error, 1)
	go func() {
		_, err := h.c.TakePicture(ctx, id)
		errc <- err
	}()
	require.Eventually(t, func() bool { return ctrl.Held(camera.OpTakePicture) }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Dispose(ctx, id))
	err := <-errc
	assert.ErrorIs(t, err, camera.ErrSessionDisposed)
	assert.True(t, ctrl.Closed())
	assert.Equal(t, 0, sink.Closes(), "the sink outlives its holder")

	require.NoError(t, h.c.Dispose(ctx, id))
	_, err = h.c.TakePicture(ctx, id)
	assert.Equal(t, camera.KindSessionNotFound, camera.KindOf(err))

	_, ok := h.events.find(events.EventCameraDisposed)
	assert.True(t, ok)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.requests["take_picture/disposed"] }))
}

func TestCoordinatorShutdownResolvesPending(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")
	sink := cameratest.NewSink("ws-1")
	require.NoError(t, h.c.AttachSink(ctx, sink))

	h.factory.SetManual(true)
	errc := make(chan error, 1)
	go func() {
		_, err := h.c.TakePicture(ctx, id)
		errc <- err
	}()
	require.Eventually(t, func() bool { return ctrl.Held(camera.OpTakePicture) }, time.Second, 5*time.Millisecond)

	h.stop()
	assert.ErrorIs(t, <-errc, camera.ErrSessionDisposed)
	assert.True(t, ctrl.Closed())
	assert.Equal(t, []camera.SinkCloseReason{camera.SinkShutdown}, sink.CloseReasons())

	_, err := h.c.Initialize(ctx, id)
	assert.ErrorIs(t, err, camera.ErrCoordinatorStopped)
	assert.True(t, h.c.BridgeStats().Closed)

	// Reports after shutdown go nowhere.
	ctrl.CompleteWith(camera.OpTakePicture, camera.Completion{})
	ctrl.EmitFrame([]byte{1})
}

func TestCoordinatorRunTwice(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	h.sync(t)
	assert.Error(t, h.c.Run(context.Background()))
}

func TestCoordinatorAbandonedRequestStaysPending(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")
	h.factory.SetManual(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.c.TakePicture(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"take_picture"}, h.session(t, id).Pending)

	_, err = h.c.TakePicture(context.Background(), id)
	assert.Equal(t, camera.KindRequestAlreadyPending, camera.KindOf(err))

	require.True(t, ctrl.Complete(camera.OpTakePicture))
	h.sync(t)
	assert.Empty(t, h.session(t, id).Pending)
}

func TestCoordinatorAbandonedCreateReleasesDevice(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	h.factory.SetManual(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.c.Create(ctx, frontCamera, camera.MediaSettings{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		list, err := h.c.Sessions(context.Background())
		return err == nil && len(list) == 0
	}, time.Second, 5*time.Millisecond)
	ctrl := h.factory.Controller("video0")
	require.NotNil(t, ctrl)
	assert.True(t, ctrl.Closed())

	h.factory.SetManual(false)
	id, err := h.c.Create(context.Background(), frontCamera, camera.MediaSettings{})
	require.NoError(t, err, "the device is free again")
	assert.Equal(t, "created", h.session(t, id).State)
}

func TestCoordinatorDiscardsStrayCompletions(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	ctx := context.Background()
	id := h.open(t, frontCamera)
	ctrl := h.factory.Controller("video0")

	ctrl.CompleteWith(camera.OpPausePreview, camera.Completion{})
	h.sync(t)
	assert.Equal(t, "previewing", h.session(t, id).State)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.discarded["no_pending"] }))

	require.NoError(t, h.c.Dispose(ctx, id))
	ctrl.CompleteWith(camera.OpTakePicture, camera.Completion{Path: "/tmp/late.jpeg"})
	h.sync(t)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.discarded["unknown_session"] }))
	assert.Equal(t, uint64(2), h.c.BridgeStats().Discarded)
}

func TestCoordinatorCaptureError(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, nil)
	id := h.open(t, frontCamera)

	h.factory.Controller("video0").EmitError(errors.New("device unplugged"))
	h.sync(t)

	ev, ok := h.events.find(events.EventCaptureError)
	require.True(t, ok)
	assert.Equal(t, id, ev.CameraID)
	assert.Equal(t, "device unplugged", ev.Error)
	assert.Equal(t, 1, h.metrics.count(func(m *recordingMetrics) int { return m.capture["video0"] }))
	assert.Equal(t, "previewing", h.session(t, id).State)
}

func TestCoordinatorAvailableCameras(t *testing.T) {
	t.Parallel()

	enum := &cameratest.Enumerator{List: []camera.DeviceInfo{
		{DisplayName: "Front", DeviceID: "video0"},
		{DisplayName: "Back", DeviceID: "video2"},
	}}
	h := startCoordinator(t, nil, camera.WithDeviceEnumerator(enum))

	names, err := h.c.AvailableCameras(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{frontCamera, backCamera}, names)

	for _, name := range names {
		_, err := h.c.Create(context.Background(), name, camera.MediaSettings{})
		require.NoError(t, err)
	}
	list, err := h.c.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "video2", list[1].DeviceID)
}
