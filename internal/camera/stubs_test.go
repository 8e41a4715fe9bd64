package camera

import (
	"errors"
	"sync"
)

// stubController records calls and never reports completions.
type stubController struct {
	mu     sync.Mutex
	calls  []string
	closes int
	failOn OperationKind
	fail   bool
}

func (c *stubController) record(kind OperationKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, kind.String())
	if c.fail && c.failOn == kind {
		return errors.New("stub refused")
	}
	return nil
}

func (c *stubController) InitCaptureDevice(MediaSettings) error { return c.record(OpCreateCamera) }
func (c *stubController) StartPreview() error                   { return c.record(OpInitialize) }
func (c *stubController) PausePreview() error                   { return c.record(OpPausePreview) }
func (c *stubController) ResumePreview() error                  { return c.record(OpResumePreview) }
func (c *stubController) StartRecord(string) error              { return c.record(OpStartRecord) }
func (c *stubController) StopRecord() error                     { return c.record(OpStopRecord) }
func (c *stubController) TakePicture(string) error              { return c.record(OpTakePicture) }
func (c *stubController) StartImageStream() error               { return c.record(OpStartImageStream) }
func (c *stubController) StopImageStream() error                { return c.record(OpStopImageStream) }

func (c *stubController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type stubFactory struct {
	err     error
	built   map[string]*stubController
	listens []int64
}

func newStubFactory() *stubFactory {
	return &stubFactory{built: make(map[string]*stubController)}
}

func (f *stubFactory) NewController(deviceID string, _ MediaSettings, listener CaptureListener) (CaptureController, error) {
	if f.err != nil {
		return nil, f.err
	}
	if l, ok := listener.(*sessionListener); ok {
		f.listens = append(f.listens, l.id)
	}
	c := &stubController{}
	f.built[deviceID] = c
	return c, nil
}

type stubSink struct {
	id      string
	frames  []Frame
	closes  int
	reasons []SinkCloseReason
}

func (s *stubSink) ID() string { return s.id }

func (s *stubSink) Send(f Frame) bool {
	s.frames = append(s.frames, f)
	return true
}

func (s *stubSink) Close(reason SinkCloseReason) {
	s.closes++
	s.reasons = append(s.reasons, reason)
}
