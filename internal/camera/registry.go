package camera

import (
	"slices"
	"time"
)

// Registry owns the live sessions, indexed by camera id and by device id.
// It is confined to the coordinator goroutine.
type Registry struct {
	factory     CaptureFactory
	listenerFor func(id int64) CaptureListener
	now         func() time.Time

	nextID   int64
	byID     map[int64]*Session
	byDevice map[string]*Session
	order    []int64
}

// NewRegistry returns an empty registry. listenerFor supplies the listener
// handed to the factory for a new camera id.
func NewRegistry(factory CaptureFactory, listenerFor func(id int64) CaptureListener) *Registry {
	return &Registry{
		factory:     factory,
		listenerFor: listenerFor,
		now:         time.Now,
		byID:        make(map[int64]*Session),
		byDevice:    make(map[string]*Session),
	}
}

// Create builds a controller for deviceID and registers a new session in
// StateCreated. It fails when the device already has a live session.
func (r *Registry) Create(deviceID string, settings MediaSettings) (*Session, error) {
	if existing, ok := r.byDevice[deviceID]; ok {
		return nil, duplicateDeviceError(deviceID, existing.id)
	}

	r.nextID++
	id := r.nextID

	var listener CaptureListener
	if r.listenerFor != nil {
		listener = r.listenerFor(id)
	}
	controller, err := r.factory.NewController(deviceID, settings, listener)
	if err != nil {
		return nil, systemError(id, OpCreateCamera, err)
	}

	s := newSession(id, deviceID, settings, r.now())
	s.controller = controller
	r.byID[id] = s
	r.byDevice[deviceID] = s
	r.order = append(r.order, id)
	return s, nil
}

// Find returns the live session with id.
func (r *Registry) Find(id int64) (*Session, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// FindDevice returns the live session bound to deviceID.
func (r *Registry) FindDevice(deviceID string) (*Session, bool) {
	s, ok := r.byDevice[deviceID]
	return s, ok
}

// Remove disposes the session and forgets it. It reports whether a session
// was removed; the error, if any, comes from closing the controller.
func (r *Registry) Remove(id int64) (bool, error) {
	s, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	err := s.dispose()
	delete(r.byID, id)
	delete(r.byDevice, s.deviceID)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true, err
}

// Sessions returns the live sessions in creation order.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// List returns snapshots of the live sessions in creation order.
func (r *Registry) List() []SessionInfo {
	out := make([]SessionInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Info())
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}
