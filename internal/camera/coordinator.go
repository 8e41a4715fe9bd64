package camera

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/events"
	"github.com/tphakala/camerad/internal/logger"
)

// Label values shared with the metrics package.
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeDisposed = "disposed"

	reasonMailboxFull    = "mailbox_full"
	reasonNoSink         = "no_sink"
	reasonSinkFull       = "sink_full"
	reasonNoPending      = "no_pending"
	reasonUnknownSession = "unknown_session"
)

// MetricsRecorder receives coordinator measurements.
// *metrics.CameraMetrics satisfies it.
type MetricsRecorder interface {
	SetActiveSessions(count int)
	RecordRequest(operation, outcome string, seconds float64)
	AddPending(operation string, delta int)
	RecordDiscarded(reason string)
	SetQueueDepth(depth int)
	RecordFrameRouted()
	RecordFrameDropped(reason string)
	SetStreamSubscribers(count int)
	RecordCaptureError(deviceID string)
}

// EventPublisher accepts lifecycle events without blocking.
// *events.EventBus satisfies it.
type EventPublisher interface {
	TryPublish(event events.CameraEvent) bool
}

// Coordinator is the request surface for camera sessions. Its methods are
// safe for concurrent use; each request is applied on the goroutine running
// Run, which also applies every capture report posted by the controllers.
type Coordinator struct {
	cfg      Config
	bridge   *Bridge
	registry *Registry
	broker   *StreamSinkBroker
	devices  DeviceEnumerator

	log     logger.Logger
	metrics MetricsRecorder
	events  EventPublisher
	now     func() time.Time

	started atomic.Bool
	done    chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger; the default is the global "camera" module.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records coordinator metrics to m.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithEventPublisher publishes lifecycle events to p.
func WithEventPublisher(p EventPublisher) Option {
	return func(c *Coordinator) { c.events = p }
}

// WithDeviceEnumerator sets the source for AvailableCameras.
func WithDeviceEnumerator(d DeviceEnumerator) Option {
	return func(c *Coordinator) { c.devices = d }
}

// WithClock replaces time.Now, used for capture file names and frame times.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator returns a coordinator that builds controllers with factory.
// Call Run to start processing.
func NewCoordinator(factory CaptureFactory, cfg Config, opts ...Option) *Coordinator {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	c := &Coordinator{
		cfg:     cfg,
		bridge:  NewBridge(cfg.MailboxSize),
		log:     logger.Global().Module("camera"),
		metrics: noopMetrics{},
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = NewRegistry(factory, func(id int64) CaptureListener {
		return &sessionListener{id: id, c: c}
	})
	c.registry.now = c.now
	c.broker = NewStreamSinkBroker(cfg.Streaming, c.revokeStream)
	return c
}

// Run processes requests and capture reports until ctx is cancelled, then
// disposes every session and detaches the sink. Pending requests are resolved
// with ErrSessionDisposed.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.started.Swap(true) {
		return errors.Newf("camera coordinator already running").
			Component(ComponentCamera).
			Category(errors.CategoryState).
			Build()
	}
	defer close(c.done)

	c.log.Info("camera coordinator started",
		logger.Int("mailbox_size", c.cfg.MailboxSize),
		logger.Bool("arm_without_sink", c.cfg.Streaming.ArmWithoutSink),
		logger.String("busy_policy", string(c.broker.policy.Busy)))

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case msg := <-c.bridge.queue:
			msg.apply(c)
			c.metrics.SetQueueDepth(c.bridge.Depth())
		}
	}
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// BridgeStats returns mailbox counters.
func (c *Coordinator) BridgeStats() BridgeStats { return c.bridge.Stats() }

func (c *Coordinator) shutdown() {
	// Close first so controllers reporting during teardown cannot block.
	c.bridge.Close()

	sessions := c.registry.Sessions()
	for _, s := range sessions {
		c.removeSession(s)
	}
	c.broker.Shutdown()
	c.metrics.SetStreamSubscribers(0)

	c.log.Info("camera coordinator stopped",
		logger.Int("disposed_sessions", len(sessions)),
		logger.Uint64("frames_dropped", c.bridge.Stats().Dropped))
}

// reply carries a request outcome back to the calling goroutine.
type reply[T any] struct {
	val T
	err error
}

// requestMsg runs fn on the coordinator goroutine.
type requestMsg struct {
	fn func()
}

func (m *requestMsg) apply(*Coordinator) { m.fn() }

// call posts fn to the coordinator and waits for the value it delivers. The
// deliver function may be called at most once, from the coordinator
// goroutine, either inside fn or later when a completion arrives.
func call[T any](ctx context.Context, c *Coordinator, fn func(deliver func(T, error))) (T, error) {
	var zero T
	ch := make(chan reply[T], 1)
	deliver := func(v T, err error) {
		select {
		case ch <- reply[T]{val: v, err: err}:
		default:
		}
	}

	if err := c.bridge.Post(ctx, &requestMsg{fn: func() { fn(deliver) }}); err != nil {
		if errors.Is(err, ErrBridgeClosed) {
			return zero, stoppedError()
		}
		return zero, err
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		select {
		case r := <-ch:
			return r.val, r.err
		default:
			return zero, stoppedError()
		}
	}
}

// operation describes one admitted request.
type operation struct {
	kind OperationKind
	// prepare runs after admission and may refuse the request. Its string is
	// the capture path handed to issue and used as the default result path.
	prepare func(s *Session) (string, error)
	issue   func(ctrl CaptureController, path string) error
	// rollback undoes prepare when the controller refuses the request or
	// the pending table does not admit it.
	rollback func(s *Session)
}

// begin admits op against camera id and hands it to the controller. done
// receives the result exactly once.
func (c *Coordinator) begin(id int64, op operation, done func(Result)) {
	s, ok := c.registry.Find(id)
	if !ok {
		c.reject(op.kind, done, Result{CameraID: id, Err: sessionNotFoundError(id, op.kind)})
		return
	}
	c.beginSession(s, op, done)
}

func (c *Coordinator) beginSession(s *Session, op operation, done func(Result)) {
	if err := s.admit(op.kind); err != nil {
		c.reject(op.kind, done, Result{CameraID: s.id, Err: err})
		return
	}

	var path string
	if op.prepare != nil {
		p, err := op.prepare(s)
		if err != nil {
			c.reject(op.kind, done, Result{CameraID: s.id, Err: err})
			return
		}
		path = p
	}

	started := c.now()
	if !s.pending.TryBegin(op.kind, func(r Result) {
		c.finish(s, op.kind, started, path, r, done)
	}) {
		if op.rollback != nil {
			op.rollback(s)
		}
		c.reject(op.kind, done, Result{CameraID: s.id, Err: pendingError(s.id, op.kind)})
		return
	}
	c.metrics.AddPending(op.kind.String(), 1)
	s.issued(op.kind, path)

	if err := op.issue(s.controller, path); err != nil {
		s.revert(op.kind)
		s.pending.Resolve(op.kind, Result{CameraID: s.id, Err: systemError(s.id, op.kind, err)})
		if op.rollback != nil {
			op.rollback(s)
		}
	}
}

func (c *Coordinator) reject(kind OperationKind, done func(Result), r Result) {
	c.metrics.RecordRequest(kind.String(), outcomeRejected, 0)
	c.log.Debug("request rejected",
		logger.Int64("camera_id", r.CameraID),
		logger.String("operation", kind.String()),
		logger.String("kind", string(KindOf(r.Err))),
		logger.Error(r.Err))
	done(r)
}

// finish is the pending-table callback for every admitted request.
func (c *Coordinator) finish(s *Session, kind OperationKind, started time.Time, path string, r Result, done func(Result)) {
	c.metrics.AddPending(kind.String(), -1)
	if r.Path == "" && r.Err == nil {
		r.Path = path
	}

	elapsed := c.now().Sub(started)
	outcome := outcomeSuccess
	switch {
	case errors.Is(r.Err, ErrSessionDisposed):
		outcome = outcomeDisposed
	case r.Err != nil:
		outcome = outcomeFailed
	}
	c.metrics.RecordRequest(kind.String(), outcome, elapsed.Seconds())

	if r.Err != nil {
		c.log.Warn("camera request failed",
			logger.Int64("camera_id", s.id),
			logger.String("device_id", s.deviceID),
			logger.String("operation", kind.String()),
			logger.Duration("elapsed", elapsed),
			logger.Error(r.Err))
		if outcome == outcomeFailed {
			c.publish(s, events.EventRequestFailed, kind, "", r.Err)
		}
	} else {
		c.log.Debug("camera request completed",
			logger.Int64("camera_id", s.id),
			logger.String("operation", kind.String()),
			logger.String("state", s.state.String()),
			logger.Duration("elapsed", elapsed))
		c.publish(s, successEvent(kind), kind, r.Path, nil)
	}

	done(r)
}

func successEvent(kind OperationKind) events.EventType {
	switch kind {
	case OpCreateCamera:
		return events.EventCameraCreated
	case OpInitialize:
		return events.EventCameraInitialized
	case OpPausePreview:
		return events.EventPreviewPaused
	case OpResumePreview:
		return events.EventPreviewResumed
	case OpStartRecord:
		return events.EventRecordingStarted
	case OpStopRecord:
		return events.EventRecordingStopped
	case OpTakePicture:
		return events.EventPictureTaken
	case OpStartImageStream:
		return events.EventStreamStarted
	default:
		return events.EventStreamStopped
	}
}

func (c *Coordinator) publish(s *Session, t events.EventType, kind OperationKind, path string, err error) {
	if c.events == nil {
		return
	}
	ev := events.CameraEvent{
		Type:      t,
		CameraID:  s.id,
		DeviceID:  s.deviceID,
		State:     s.state.String(),
		Path:      path,
		Timestamp: c.now(),
	}
	if t != events.EventCameraDisposed && t != events.EventCaptureError && t != events.EventStreamRevoked {
		ev.Operation = kind.String()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.events.TryPublish(ev)
}

// removeSession releases the sink, disposes and unregisters s.
func (c *Coordinator) removeSession(s *Session) {
	c.broker.Stop(s)
	removed, err := c.registry.Remove(s.id)
	if !removed {
		return
	}
	if err != nil {
		c.log.Warn("failed to close capture controller",
			logger.Int64("camera_id", s.id),
			logger.String("device_id", s.deviceID),
			logger.Error(err))
	}
	c.metrics.SetActiveSessions(c.registry.Len())
	c.publish(s, events.EventCameraDisposed, OpCreateCamera, "", nil)
	c.log.Info("camera disposed",
		logger.Int64("camera_id", s.id),
		logger.String("device_id", s.deviceID))
}

// revokeStream tells a session that lost the sink to stop pushing frames. The
// resulting StopImageStream completion has no pending entry and is dropped.
func (c *Coordinator) revokeStream(s *Session) {
	if s.controller != nil {
		if err := s.controller.StopImageStream(); err != nil {
			c.log.Warn("failed to stop image stream on revoke",
				logger.Int64("camera_id", s.id),
				logger.Error(err))
		}
	}
	c.publish(s, events.EventStreamRevoked, OpStopImageStream, "", nil)
	c.log.Info("image stream revoked", logger.Int64("camera_id", s.id))
}

// completionMsg carries an OnComplete report.
type completionMsg struct {
	id         int64
	kind       OperationKind
	completion Completion
}

func (m *completionMsg) apply(c *Coordinator) {
	s, ok := c.registry.Find(m.id)
	if !ok {
		c.discard(m.id, m.kind, reasonUnknownSession)
		return
	}
	if !s.pending.Has(m.kind) {
		c.discard(m.id, m.kind, reasonNoPending)
		return
	}

	r := Result{CameraID: s.id, Size: m.completion.Size, Path: m.completion.Path}
	if m.completion.Err != nil {
		r.Err = systemError(s.id, m.kind, m.completion.Err)
	}

	s.completed(m.kind, m.completion)
	s.pending.Resolve(m.kind, r)

	if r.Err == nil {
		return
	}
	switch m.kind {
	case OpCreateCamera:
		c.removeSession(s)
	case OpStartImageStream:
		c.broker.Stop(s)
	}
}

func (c *Coordinator) discard(id int64, kind OperationKind, reason string) {
	c.bridge.markDiscarded()
	c.metrics.RecordDiscarded(reason)
	c.log.Debug("capture completion discarded",
		logger.Int64("camera_id", id),
		logger.String("operation", kind.String()),
		logger.String("reason", reason))
}

// frameMsg carries an OnFrame report.
type frameMsg struct {
	id   int64
	data []byte
	at   time.Time
}

func (m *frameMsg) apply(c *Coordinator) {
	s, ok := c.registry.Find(m.id)
	if !ok {
		c.bridge.markDiscarded()
		c.metrics.RecordDiscarded(reasonUnknownSession)
		return
	}
	if s.sink == nil {
		c.metrics.RecordFrameDropped(reasonNoSink)
		return
	}
	if !s.sink.Send(Frame{CameraID: s.id, Data: m.data, Timestamp: m.at}) {
		c.metrics.RecordFrameDropped(reasonSinkFull)
		return
	}
	c.metrics.RecordFrameRouted()
}

// errorMsg carries an OnError report.
type errorMsg struct {
	id  int64
	err error
}

func (m *errorMsg) apply(c *Coordinator) {
	s, ok := c.registry.Find(m.id)
	if !ok {
		c.bridge.markDiscarded()
		c.metrics.RecordDiscarded(reasonUnknownSession)
		return
	}
	c.metrics.RecordCaptureError(s.deviceID)
	c.log.Error("capture device error",
		logger.Int64("camera_id", s.id),
		logger.String("device_id", s.deviceID),
		logger.String("state", s.state.String()),
		logger.Error(m.err))
	c.publish(s, events.EventCaptureError, OpCreateCamera, "", m.err)
}

type noopMetrics struct{}

func (noopMetrics) SetActiveSessions(int)                 {}
func (noopMetrics) RecordRequest(string, string, float64) {}
func (noopMetrics) AddPending(string, int)                {}
func (noopMetrics) RecordDiscarded(string)                {}
func (noopMetrics) SetQueueDepth(int)                     {}
func (noopMetrics) RecordFrameRouted()                    {}
func (noopMetrics) RecordFrameDropped(string)             {}
func (noopMetrics) SetStreamSubscribers(int)              {}
func (noopMetrics) RecordCaptureError(string)             {}
