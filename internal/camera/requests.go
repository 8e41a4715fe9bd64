package camera

import (
	"context"
	"fmt"

	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

// AvailableCameras returns the names of the capture devices present, each in
// the "Display Name <device_id>" form accepted by Create.
func (c *Coordinator) AvailableCameras(ctx context.Context) ([]string, error) {
	return availableCameras(ctx, c.devices)
}

// Create opens the camera named cameraName and returns its id once the
// device reports that it opened. Zero fields of settings take the configured
// defaults. If ctx ends first the session is disposed, since the caller never
// learns its id.
func (c *Coordinator) Create(ctx context.Context, cameraName string, settings MediaSettings) (int64, error) {
	info, err := ParseDeviceName(cameraName)
	if err != nil {
		return 0, err
	}
	settings, err = settings.withDefaults(c.cfg.DefaultSettings)
	if err != nil {
		return 0, err
	}

	var sessionID int64 // coordinator goroutine only
	id, err := call(ctx, c, func(deliver func(int64, error)) {
		done := func(r Result) { deliver(r.CameraID, r.Err) }

		s, err := c.registry.Create(info.DeviceID, settings)
		if err != nil {
			c.reject(OpCreateCamera, done, Result{Err: err})
			return
		}
		sessionID = s.id
		c.metrics.SetActiveSessions(c.registry.Len())
		c.log.Info("camera session created",
			logger.Int64("camera_id", s.id),
			logger.String("device_id", s.deviceID),
			logger.String("resolution", string(settings.ResolutionPreset)))

		c.beginSession(s, operation{
			kind: OpCreateCamera,
			issue: func(ctrl CaptureController, _ string) error {
				return ctrl.InitCaptureDevice(settings)
			},
			rollback: c.removeSession,
		}, done)
	})
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		c.abandonCreate(&sessionID)
	}
	return id, err
}

// abandonCreate disposes the session created for a Create whose caller gave
// up. The message queues behind the Create request, so *id is set by the time
// it runs unless that request never reached the coordinator.
func (c *Coordinator) abandonCreate(id *int64) {
	err := c.bridge.Post(context.Background(), &requestMsg{fn: func() {
		if *id == 0 {
			return
		}
		s, ok := c.registry.Find(*id)
		if !ok {
			return
		}
		c.log.Info("disposing camera of abandoned create request",
			logger.Int64("camera_id", s.id),
			logger.String("device_id", s.deviceID))
		c.removeSession(s)
	}})
	if err != nil {
		c.log.Debug("abandoned create not cleaned up", logger.Error(err))
	}
}

// Initialize starts the preview and returns its resolution.
func (c *Coordinator) Initialize(ctx context.Context, id int64) (Size, error) {
	return call(ctx, c, func(deliver func(Size, error)) {
		c.begin(id, operation{
			kind: OpInitialize,
			issue: func(ctrl CaptureController, _ string) error {
				return ctrl.StartPreview()
			},
		}, func(r Result) { deliver(r.Size, r.Err) })
	})
}

// PausePreview pauses a previewing camera.
func (c *Coordinator) PausePreview(ctx context.Context, id int64) error {
	return c.simple(ctx, id, OpPausePreview, CaptureController.PausePreview)
}

// ResumePreview resumes a paused camera.
func (c *Coordinator) ResumePreview(ctx context.Context, id int64) error {
	return c.simple(ctx, id, OpResumePreview, CaptureController.ResumePreview)
}

// StartVideoRecording starts recording to a new file in the videos directory.
func (c *Coordinator) StartVideoRecording(ctx context.Context, id int64) error {
	_, err := call(ctx, c, func(deliver func(struct{}, error)) {
		c.begin(id, operation{
			kind: OpStartRecord,
			prepare: func(*Session) (string, error) {
				return c.cfg.Paths.VideoPath(c.now())
			},
			issue: CaptureController.StartRecord,
		}, func(r Result) { deliver(struct{}{}, r.Err) })
	})
	return err
}

// StopVideoRecording stops recording and returns the path of the video.
func (c *Coordinator) StopVideoRecording(ctx context.Context, id int64) (string, error) {
	return call(ctx, c, func(deliver func(string, error)) {
		c.begin(id, operation{
			kind: OpStopRecord,
			prepare: func(s *Session) (string, error) {
				return s.recordingPath, nil
			},
			issue: func(ctrl CaptureController, _ string) error {
				return ctrl.StopRecord()
			},
		}, func(r Result) { deliver(r.Path, r.Err) })
	})
}

// TakePicture captures a still image and returns its path.
func (c *Coordinator) TakePicture(ctx context.Context, id int64) (string, error) {
	return call(ctx, c, func(deliver func(string, error)) {
		c.begin(id, operation{
			kind: OpTakePicture,
			prepare: func(*Session) (string, error) {
				return c.cfg.Paths.PicturePath(c.now())
			},
			issue: CaptureController.TakePicture,
		}, func(r Result) { deliver(r.Path, r.Err) })
	})
}

// StartImageStream asks for frames from camera id to be routed to the
// attached sink. Whether the request waits for a sink or is refused while
// another camera streams depends on the streaming policy.
func (c *Coordinator) StartImageStream(ctx context.Context, id int64) error {
	_, err := call(ctx, c, func(deliver func(struct{}, error)) {
		c.begin(id, operation{
			kind: OpStartImageStream,
			prepare: func(s *Session) (string, error) {
				return "", c.broker.Start(s)
			},
			issue: func(ctrl CaptureController, _ string) error {
				return ctrl.StartImageStream()
			},
			rollback: func(s *Session) { c.broker.Stop(s) },
		}, func(r Result) { deliver(struct{}{}, r.Err) })
	})
	return err
}

// StopImageStream stops frame delivery from camera id and returns the sink to
// the next waiting camera.
func (c *Coordinator) StopImageStream(ctx context.Context, id int64) error {
	_, err := call(ctx, c, func(deliver func(struct{}, error)) {
		c.begin(id, operation{
			kind: OpStopImageStream,
			prepare: func(s *Session) (string, error) {
				c.broker.Stop(s)
				return "", nil
			},
			issue: func(ctrl CaptureController, _ string) error {
				return ctrl.StopImageStream()
			},
		}, func(r Result) { deliver(struct{}{}, r.Err) })
	})
	return err
}

// Dispose releases camera id. Disposing an unknown or already disposed
// camera succeeds; the only errors are from ctx or a stopped coordinator.
func (c *Coordinator) Dispose(ctx context.Context, id int64) error {
	_, err := call(ctx, c, func(deliver func(struct{}, error)) {
		if s, ok := c.registry.Find(id); ok {
			c.removeSession(s)
		}
		deliver(struct{}{}, nil)
	})
	return err
}

// AttachSink installs sink as the image stream subscriber, replacing and
// closing any previous one.
func (c *Coordinator) AttachSink(ctx context.Context, sink FrameSink) error {
	if sink == nil {
		return errors.New(fmt.Errorf("%w: nil frame sink", ErrInvalidSettings)).
			Component(ComponentCamera).
			Category(errors.CategoryValidation).
			Build()
	}
	_, err := call(ctx, c, func(deliver func(struct{}, error)) {
		c.broker.Attach(sink)
		c.metrics.SetStreamSubscribers(1)
		if h := c.broker.Holder(); h != nil {
			c.log.Info("image stream sink granted",
				logger.String("sink_id", sink.ID()),
				logger.Int64("camera_id", h.id))
		}
		deliver(struct{}{}, nil)
	})
	return err
}

// DetachSink removes sink if it is still the attached subscriber. The camera
// holding it stops streaming; cameras waiting for a sink stay armed.
func (c *Coordinator) DetachSink(ctx context.Context, sink FrameSink) error {
	if sink == nil {
		return nil
	}
	_, err := call(ctx, c, func(deliver func(struct{}, error)) {
		if c.broker.Detach(sink) {
			c.metrics.SetStreamSubscribers(0)
			c.log.Info("image stream sink detached", logger.String("sink_id", sink.ID()))
		}
		deliver(struct{}{}, nil)
	})
	return err
}

// Sessions returns snapshots of the live cameras in creation order.
func (c *Coordinator) Sessions(ctx context.Context) ([]SessionInfo, error) {
	return call(ctx, c, func(deliver func([]SessionInfo, error)) {
		deliver(c.registry.List(), nil)
	})
}

func (c *Coordinator) simple(ctx context.Context, id int64, kind OperationKind, issue func(CaptureController) error) error {
	_, err := call(ctx, c, func(deliver func(struct{}, error)) {
		c.begin(id, operation{
			kind: kind,
			issue: func(ctrl CaptureController, _ string) error {
				return issue(ctrl)
			},
		}, func(r Result) { deliver(struct{}{}, r.Err) })
	})
	return err
}
