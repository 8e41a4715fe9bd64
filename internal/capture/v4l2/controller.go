package v4l2

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

var errNotPreviewing = errors.NewStd("preview not running")

// Controller drives one V4L2 device. Methods only change state and start or
// signal processes; all reports go to the listener from other goroutines.
type Controller struct {
	deviceID string
	settings camera.MediaSettings
	listener camera.CaptureListener
	opts     Options
	log      logger.Logger

	mu          sync.Mutex
	closed      bool
	capture     *process
	awaitSize   bool // StartPreview is waiting for the first frame
	startTimer  *time.Timer
	paused      bool
	picturePath string
	encoder     *process
	recordPath  string
	streaming   bool
}

func newController(deviceID string, settings camera.MediaSettings, listener camera.CaptureListener, opts Options) *Controller {
	return &Controller{
		deviceID: deviceID,
		settings: settings,
		listener: listener,
		opts:     opts,
		log:      getLogger().With(logger.String("device_id", deviceID)),
	}
}

// InitCaptureDevice checks that the device node exists and can be opened.
func (c *Controller) InitCaptureDevice(settings camera.MediaSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closedError(camera.OpCreateCamera)
	}
	c.settings = settings
	go func() {
		c.report(camera.OpCreateCamera, camera.Completion{Err: openDeviceNode(c.deviceID)})
	}()
	return nil
}

// openDeviceNode opens and closes the device node.
func openDeviceNode(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.New(fmt.Errorf("camera device unavailable: %w", err)).
			Component(componentCapture).
			Category(errors.CategoryCapture).
			Context("device_id", path).
			Build()
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return errors.New(fmt.Errorf("%s is not a character device", path)).
			Component(componentCapture).
			Category(errors.CategoryCapture).
			Context("device_id", path).
			Build()
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.New(fmt.Errorf("failed to open camera device: %w", err)).
			Component(componentCapture).
			Category(errors.CategoryCapture).
			Context("device_id", path).
			Build()
	}
	return f.Close()
}

// StartPreview launches the capture process. Initialize completes with the
// size of the first decoded frame, or fails after StartTimeout.
func (c *Controller) StartPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closedError(camera.OpInitialize)
	}
	if c.capture != nil {
		return errors.New(fmt.Errorf("preview already running on %s", c.deviceID)).
			Component(componentCapture).
			Category(errors.CategoryState).
			Context("device_id", c.deviceID).
			Build()
	}

	splitter := newFrameSplitter(c.opts.MaxFrameSize, c.handleFrame)
	p := newProcess(processConfig{
		ID:          "capture:" + c.deviceID,
		FFmpegPath:  c.opts.FFmpegPath,
		Args:        captureArgs(c.deviceID, c.settings, c.opts),
		Stdout:      splitter,
		StopTimeout: c.opts.StopTimeout,
	})
	if err := p.Start(context.Background()); err != nil {
		return err
	}

	c.capture = p
	c.awaitSize = true
	c.paused = false
	c.startTimer = time.AfterFunc(c.opts.StartTimeout, c.startTimedOut)
	go c.watchCapture(p)
	return nil
}

func (c *Controller) startTimedOut() {
	c.mu.Lock()
	if c.closed || !c.awaitSize {
		c.mu.Unlock()
		return
	}
	c.awaitSize = false
	p := c.capture
	c.capture = nil
	c.mu.Unlock()

	c.log.Warn("no frame received before start timeout",
		logger.Duration("timeout", c.opts.StartTimeout))
	go func() { _ = p.Stop() }()
	c.report(camera.OpInitialize, camera.Completion{
		Err: errors.New(fmt.Errorf("no frame from %s within %s", c.deviceID, c.opts.StartTimeout)).
			Component(componentCapture).
			Category(errors.CategoryTimeout).
			Context("device_id", c.deviceID).
			Timing("start-preview", c.opts.StartTimeout).
			Build(),
	})
}

// watchCapture reports a capture process that exits on its own.
func (c *Controller) watchCapture(p *process) {
	<-p.Done()

	c.mu.Lock()
	if c.closed || c.capture != p {
		c.mu.Unlock()
		return
	}
	c.capture = nil
	awaiting := c.awaitSize
	c.awaitSize = false
	if c.startTimer != nil {
		c.startTimer.Stop()
	}
	c.mu.Unlock()

	err := p.Err()
	if err == nil {
		err = fmt.Errorf("capture process for %s exited", c.deviceID)
	}
	err = errors.New(err).
		Component(componentCapture).
		Category(errors.CategoryCapture).
		Context("device_id", c.deviceID).
		Build()

	if awaiting {
		c.report(camera.OpInitialize, camera.Completion{Err: err})
		return
	}
	c.log.Error("capture process exited", logger.Error(err))
	c.listener.OnError(err)
}

// handleFrame runs on the capture process stdout goroutine.
func (c *Controller) handleFrame(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.awaitSize {
		size, err := frameSize(frame)
		if err != nil {
			c.mu.Unlock()
			c.log.Debug("skipping undecodable frame", logger.Error(err))
			return
		}
		c.awaitSize = false
		if c.startTimer != nil {
			c.startTimer.Stop()
		}
		go c.report(camera.OpInitialize, camera.Completion{Size: size})
	}

	if path := c.picturePath; path != "" {
		c.picturePath = ""
		go c.savePicture(path, frame)
	}
	if c.paused {
		c.mu.Unlock()
		return
	}
	enc := c.encoder
	streaming := c.streaming
	c.mu.Unlock()

	if enc != nil {
		if _, err := enc.Write(frame); err != nil {
			c.log.Debug("failed to feed frame to encoder", logger.Error(err))
		}
	}
	if streaming {
		c.listener.OnFrame(frame)
	}
}

func (c *Controller) savePicture(path string, frame []byte) {
	if err := os.WriteFile(path, frame, 0o644); err != nil { //nolint:gosec // pictures are meant to be shared
		c.report(camera.OpTakePicture, camera.Completion{
			Err: errors.New(fmt.Errorf("failed to write picture: %w", err)).
				Component(componentCapture).
				Category(errors.CategoryFileIO).
				FileContext(path).
				Build(),
		})
		return
	}
	c.report(camera.OpTakePicture, camera.Completion{Path: path})
}

// PausePreview stops frame delivery to the stream and the encoder.
func (c *Controller) PausePreview() error {
	return c.setPaused(camera.OpPausePreview, true)
}

// ResumePreview restarts frame delivery.
func (c *Controller) ResumePreview() error {
	return c.setPaused(camera.OpResumePreview, false)
}

func (c *Controller) setPaused(kind camera.OperationKind, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requirePreview(kind); err != nil {
		return err
	}
	c.paused = paused
	go c.report(kind, camera.Completion{})
	return nil
}

// StartRecord starts an encoder writing to path. A paused preview resumes, as
// the session leaves Paused for Recording.
func (c *Controller) StartRecord(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requirePreview(camera.OpStartRecord); err != nil {
		return err
	}
	if c.encoder != nil {
		return errors.New(fmt.Errorf("already recording to %s", c.recordPath)).
			Component(componentCapture).
			Category(errors.CategoryRecording).
			Context("device_id", c.deviceID).
			Build()
	}
	if c.settings.EnableAudio {
		c.log.Debug("audio capture is not supported by the v4l2 backend, recording video only")
	}

	enc := newProcess(processConfig{
		ID:          "encoder:" + c.deviceID,
		FFmpegPath:  c.opts.FFmpegPath,
		Args:        encoderArgs(path, c.settings, c.opts),
		Stdin:       true,
		StopTimeout: c.opts.StopTimeout,
	})
	if err := enc.Start(context.Background()); err != nil {
		return err
	}
	c.encoder = enc
	c.recordPath = path
	c.paused = false
	c.log.Info("recording started", logger.String("path", path))
	go c.report(camera.OpStartRecord, camera.Completion{Path: path})
	return nil
}

// StopRecord closes the encoder input and reports the file once ffmpeg has
// finalized it. The encoder is released either way, so a failed finalize is
// reported as stopped.
func (c *Controller) StopRecord() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closedError(camera.OpStopRecord)
	}
	enc, path := c.encoder, c.recordPath
	if enc == nil {
		return errors.New(fmt.Errorf("not recording on %s", c.deviceID)).
			Component(componentCapture).
			Category(errors.CategoryRecording).
			Context("device_id", c.deviceID).
			Build()
	}
	c.encoder = nil
	c.recordPath = ""

	go func() {
		if err := enc.Stop(); err != nil {
			c.report(camera.OpStopRecord, camera.Completion{
				Err: errors.New(fmt.Errorf("video encoder failed: %w", err)).
					Component(componentCapture).
					Category(errors.CategoryRecording).
					FileContext(path).
					Build(),
				Stopped: true,
			})
			return
		}
		c.log.Info("recording stopped", logger.String("path", path))
		c.report(camera.OpStopRecord, camera.Completion{Path: path})
	}()
	return nil
}

// TakePicture writes the next frame to path.
func (c *Controller) TakePicture(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requirePreview(camera.OpTakePicture); err != nil {
		return err
	}
	c.picturePath = path
	return nil
}

// StartImageStream forwards frames to the listener.
func (c *Controller) StartImageStream() error {
	return c.setStreaming(camera.OpStartImageStream, true)
}

// StopImageStream stops forwarding frames.
func (c *Controller) StopImageStream() error {
	return c.setStreaming(camera.OpStopImageStream, false)
}

func (c *Controller) setStreaming(kind camera.OperationKind, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closedError(kind)
	}
	c.streaming = on
	go c.report(kind, camera.Completion{})
	return nil
}

// Close stops both processes in the background. It returns immediately.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.startTimer != nil {
		c.startTimer.Stop()
	}
	capture, enc := c.capture, c.encoder
	c.capture, c.encoder = nil, nil
	c.streaming = false
	c.mu.Unlock()

	if capture == nil && enc == nil {
		return nil
	}
	go func() {
		if enc != nil {
			if err := enc.Stop(); err != nil {
				c.log.Warn("encoder exited with error", logger.Error(err))
			}
		}
		if capture != nil {
			_ = capture.Stop()
		}
		c.log.Debug("capture device closed")
	}()
	return nil
}

// report delivers a completion unless the controller has been closed.
func (c *Controller) report(kind camera.OperationKind, comp camera.Completion) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.listener.OnComplete(kind, comp)
}

// requirePreview must be called with mu held.
func (c *Controller) requirePreview(kind camera.OperationKind) error {
	if c.closed {
		return c.closedError(kind)
	}
	if c.capture == nil || c.awaitSize {
		return errors.New(fmt.Errorf("cannot %s on %s: %w", kind, c.deviceID, errNotPreviewing)).
			Component(componentCapture).
			Category(errors.CategoryState).
			Context("device_id", c.deviceID).
			Context("operation", kind.String()).
			Build()
	}
	return nil
}

func (c *Controller) closedError(kind camera.OperationKind) error {
	return errors.New(fmt.Errorf("controller for %s closed", c.deviceID)).
		Component(componentCapture).
		Category(errors.CategoryState).
		Context("device_id", c.deviceID).
		Context("operation", kind.String()).
		Build()
}
