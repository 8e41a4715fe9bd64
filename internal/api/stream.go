package api

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/logger"
	"github.com/tphakala/camerad/internal/observability/metrics"
)

// FrameHeader precedes every binary frame message on the stream.
type FrameHeader struct {
	CameraID  int64     `json:"camera_id"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Bytes     int       `json:"bytes"`
}

// wsSink is a camera.FrameSink backed by one websocket connection. Send only
// enqueues; the connection's handler goroutine does the writing.
type wsSink struct {
	id      string
	conn    *websocket.Conn
	queue   chan camera.Frame
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.HTTPMetrics

	closeOnce sync.Once
	closed    chan struct{} // the broker discarded the sink
	reason    camera.SinkCloseReason
}

func newWSSink(conn *websocket.Conn, cfg StreamConfig, m *metrics.HTTPMetrics) *wsSink {
	limit := rate.Inf
	burst := 1
	if cfg.MaxFPS > 0 {
		limit = rate.Limit(cfg.MaxFPS)
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = DefaultStreamQueueSize
	}
	return &wsSink{
		id:      uuid.NewString(),
		conn:    conn,
		queue:   make(chan camera.Frame, queue),
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.WriteTimeout,
		metrics: m,
		closed:  make(chan struct{}),
	}
}

func (s *wsSink) ID() string { return s.id }

// Send queues frame. Frames over the rate limit are skipped without counting
// as a drop; a full queue drops the frame.
func (s *wsSink) Send(frame camera.Frame) bool {
	if !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.RecordFrameDropped("rate_limited")
		}
		return true
	}
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.queue <- frame:
		return true
	default:
		if s.metrics != nil {
			s.metrics.RecordFrameDropped("queue_full")
		}
		return false
	}
}

// Close is called by the coordinator when the sink is replaced or discarded.
// reason is written before closed is closed.
func (s *wsSink) Close(reason camera.SinkCloseReason) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.closed)
	})
}

// closeFrame returns the websocket close code, text and metrics reason for
// a sink the broker discarded.
func closeFrame(reason camera.SinkCloseReason) (code int, text, metricsReason string) {
	switch reason {
	case camera.SinkReplaced:
		return websocket.CloseNormalClosure, "replaced by another subscriber", metrics.WSCloseReasonReplaced
	case camera.SinkShutdown:
		return websocket.CloseGoingAway, "camera service stopping", metrics.WSCloseReasonShutdown
	default:
		return websocket.CloseNormalClosure, "stream detached", metrics.WSCloseReasonClosed
	}
}

// run writes queued frames until the sink is closed, the client goes away or
// a write fails. It returns the close reason.
func (s *wsSink) run(gone <-chan struct{}) string {
	for {
		select {
		case frame := <-s.queue:
			if err := s.write(frame); err != nil {
				GetLogger().Debug("frame stream write failed",
					logger.String("subscriber_id", s.id),
					logger.Error(err))
				return metrics.WSCloseReasonError
			}
			if s.metrics != nil {
				s.metrics.RecordFrameSent()
			}
		case <-s.closed:
			code, text, reason := closeFrame(s.reason)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(time.Second))
			return reason
		case <-gone:
			return metrics.WSCloseReasonClosed
		}
	}
}

func (s *wsSink) write(frame camera.Frame) error {
	header := FrameHeader{
		CameraID:  frame.CameraID,
		Timestamp: frame.Timestamp,
		Bytes:     len(frame.Data),
	}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data)); err == nil {
		header.Width, header.Height = cfg.Width, cfg.Height
	}

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return err
		}
	}
	if err := s.conn.WriteJSON(header); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame.Data)
}

// readLoop discards client messages and closes gone when the client
// disconnects.
func (s *wsSink) readLoop(gone chan<- struct{}) {
	defer close(gone)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// StreamFrames upgrades to a websocket and subscribes it to the image stream.
// A new subscriber replaces the previous one.
func (c *Controller) StreamFrames(ctx echo.Context) error {
	conn, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		c.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}
	defer func() { _ = conn.Close() }()

	sink := newWSSink(conn, c.config.Stream, c.metrics)
	log := c.log.With(logger.String("subscriber_id", sink.id), logger.String("ip", ctx.RealIP()))

	attachCtx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	err = c.cameras.AttachSink(attachCtx, sink)
	cancel()
	if err != nil {
		code, kind := statusForError(err)
		log.Warn("failed to attach frame subscriber", logger.Error(err), logger.String("error_kind", kind))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, http.StatusText(code)),
			time.Now().Add(time.Second))
		return nil
	}

	start := time.Now()
	if c.metrics != nil {
		c.metrics.WSConnectionStarted()
	}
	log.Info("frame subscriber connected")

	gone := make(chan struct{})
	go sink.readLoop(gone)
	reason := sink.run(gone)

	detachCtx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	if err := c.cameras.DetachSink(detachCtx, sink); err != nil {
		log.Debug("failed to detach frame subscriber", logger.Error(err))
	}
	cancel()

	// Unblocks readLoop if the server ended the stream.
	_ = conn.Close()
	<-gone

	if c.metrics != nil {
		c.metrics.WSConnectionClosed(time.Since(start).Seconds(), reason)
	}
	log.Info("frame subscriber disconnected", logger.String("reason", reason))
	return nil
}
