package cameratest

import (
	"slices"
	"sync"

	"github.com/tphakala/camerad/internal/camera"
)

// Sink is a camera.FrameSink that records what it receives.
type Sink struct {
	id string

	mu      sync.Mutex
	frames  []camera.Frame
	refuse  bool
	reasons []camera.SinkCloseReason
}

// NewSink returns an accepting sink identified by id.
func NewSink(id string) *Sink {
	return &Sink{id: id}
}

func (s *Sink) ID() string { return s.id }

// Send records frame unless the sink was told to refuse.
func (s *Sink) Send(frame camera.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

// Close records reason.
func (s *Sink) Close(reason camera.SinkCloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

// Refuse makes Send drop every frame.
func (s *Sink) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// Frames returns the frames received so far.
func (s *Sink) Frames() []camera.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.frames)
}

// Closes returns how many times Close was called.
func (s *Sink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons)
}

// CloseReasons returns the reasons passed to Close, in order.
func (s *Sink) CloseReasons() []camera.SinkCloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reasons)
}
