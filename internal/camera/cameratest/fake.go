// Package cameratest provides a scriptable capture backend and a recording
// frame sink for exercising camera.Coordinator without hardware.
package cameratest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tphakala/camerad/internal/camera"
)

// DefaultPreviewSize is reported by Initialize unless overridden.
var DefaultPreviewSize = camera.Size{Width: 1280, Height: 720}

// Factory builds Controllers. Failures and manual mode apply to every
// controller it builds, including ones already built.
type Factory struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	newErr      error
	syncFail    map[camera.OperationKind]error
	asyncFail   map[camera.OperationKind]error
	manual      bool
	previewSize camera.Size
}

// NewFactory returns a factory whose controllers complete every operation
// successfully from a separate goroutine.
func NewFactory() *Factory {
	return &Factory{
		controllers: make(map[string]*Controller),
		syncFail:    make(map[camera.OperationKind]error),
		asyncFail:   make(map[camera.OperationKind]error),
		previewSize: DefaultPreviewSize,
	}
}

// FailNewController makes NewController return err.
func (f *Factory) FailNewController(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newErr = err
}

// FailSync makes the controller method for kind return err immediately.
func (f *Factory) FailSync(kind camera.OperationKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncFail[kind] = err
}

// FailAsync makes the completion for kind carry err.
func (f *Factory) FailAsync(kind camera.OperationKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asyncFail[kind] = err
}

// ClearFailures removes every scripted failure.
func (f *Factory) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.syncFail)
	clear(f.asyncFail)
	f.newErr = nil
}

// SetManual holds completions until Controller.Complete is called.
func (f *Factory) SetManual(manual bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manual = manual
}

// SetPreviewSize changes the size reported by StartPreview.
func (f *Factory) SetPreviewSize(size camera.Size) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewSize = size
}

// NewController implements camera.CaptureFactory.
func (f *Factory) NewController(deviceID string, settings camera.MediaSettings, listener camera.CaptureListener) (camera.CaptureController, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	c := &Controller{
		factory:  f,
		deviceID: deviceID,
		settings: settings,
		listener: listener,
		held:     make(map[camera.OperationKind]camera.Completion),
	}
	f.controllers[deviceID] = c
	return c, nil
}

// Controller returns the most recent controller built for deviceID.
func (f *Factory) Controller(deviceID string) *Controller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controllers[deviceID]
}

func (f *Factory) script(kind camera.OperationKind) (syncErr, asyncErr error, manual bool, size camera.Size) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncFail[kind], f.asyncFail[kind], f.manual, f.previewSize
}

// Controller is a fake camera.CaptureController.
type Controller struct {
	factory  *Factory
	deviceID string
	settings camera.MediaSettings
	listener camera.CaptureListener

	mu         sync.Mutex
	calls      []string
	held       map[camera.OperationKind]camera.Completion
	recordPath string
	closed     bool
}

func (c *Controller) InitCaptureDevice(camera.MediaSettings) error {
	return c.operate(camera.OpCreateCamera, "")
}

func (c *Controller) StartPreview() error  { return c.operate(camera.OpInitialize, "") }
func (c *Controller) PausePreview() error  { return c.operate(camera.OpPausePreview, "") }
func (c *Controller) ResumePreview() error { return c.operate(camera.OpResumePreview, "") }

func (c *Controller) StartRecord(path string) error {
	c.mu.Lock()
	c.recordPath = path
	c.mu.Unlock()
	return c.operate(camera.OpStartRecord, "")
}

func (c *Controller) StopRecord() error {
	c.mu.Lock()
	path := c.recordPath
	c.mu.Unlock()
	return c.operate(camera.OpStopRecord, path)
}

func (c *Controller) TakePicture(path string) error  { return c.operate(camera.OpTakePicture, path) }
func (c *Controller) StartImageStream() error        { return c.operate(camera.OpStartImageStream, "") }
func (c *Controller) StopImageStream() error         { return c.operate(camera.OpStopImageStream, "") }
func (c *Controller) Settings() camera.MediaSettings { return c.settings }
func (c *Controller) DeviceID() string               { return c.deviceID }

// Close marks the controller closed; later completions are suppressed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "close")
	c.closed = true
	clear(c.held)
	return nil
}

func (c *Controller) operate(kind camera.OperationKind, path string) error {
	syncErr, asyncErr, manual, size := c.factory.script(kind)

	c.mu.Lock()
	c.calls = append(c.calls, kind.String())
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("controller for %s closed", c.deviceID)
	}
	if syncErr != nil {
		c.mu.Unlock()
		return syncErr
	}

	comp := camera.Completion{Path: path, Err: asyncErr}
	if kind == camera.OpInitialize {
		comp.Size = size
	}
	if manual {
		c.held[kind] = comp
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	go c.report(kind, comp)
	return nil
}

func (c *Controller) report(kind camera.OperationKind, comp camera.Completion) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.listener.OnComplete(kind, comp)
}

// Held reports whether a completion for kind is waiting in manual mode.
func (c *Controller) Held(kind camera.OperationKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[kind]
	return ok
}

// Complete reports the held completion for kind from the calling goroutine.
// It returns false when nothing is held.
func (c *Controller) Complete(kind camera.OperationKind) bool {
	c.mu.Lock()
	comp, ok := c.held[kind]
	delete(c.held, kind)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.listener.OnComplete(kind, comp)
	return true
}

// CompleteWith reports comp for kind regardless of what was requested.
func (c *Controller) CompleteWith(kind camera.OperationKind, comp camera.Completion) {
	c.mu.Lock()
	delete(c.held, kind)
	c.mu.Unlock()
	c.listener.OnComplete(kind, comp)
}

// EmitFrame reports a frame from the calling goroutine.
func (c *Controller) EmitFrame(data []byte) {
	c.listener.OnFrame(data)
}

// EmitError reports an asynchronous device error.
func (c *Controller) EmitError(err error) {
	c.listener.OnError(err)
}

// Calls returns the controller methods invoked so far, by operation name,
// plus "close".
func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// CallCount returns how many times the method for kind was invoked.
func (c *Controller) CallCount(kind camera.OperationKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, name := range c.calls {
		if name == kind.String() {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Enumerator is a fixed camera.DeviceEnumerator.
type Enumerator struct {
	List []camera.DeviceInfo
	Err  error
}

// Devices implements camera.DeviceEnumerator.
func (e *Enumerator) Devices(ctx context.Context) ([]camera.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return slices.Clone(e.List), nil
}
