package camera

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

// ErrBridgeClosed is returned by Post after the coordinator has stopped.
var ErrBridgeClosed = errors.NewStd("completion bridge closed")

// message is applied on the coordinator goroutine.
type message interface {
	apply(c *Coordinator)
}

// Bridge is the coordinator's mailbox: a bounded queue that carries requests
// and capture reports from any goroutine to the coordinator goroutine. The
// queue channel is never closed, so a late Post cannot panic.
type Bridge struct {
	queue     chan message
	closed    chan struct{}
	closeOnce sync.Once

	posted    atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

// BridgeStats is a snapshot of mailbox counters.
type BridgeStats struct {
	Capacity  int    `json:"capacity"`
	Depth     int    `json:"depth"`
	Posted    uint64 `json:"posted"`
	Dropped   uint64 `json:"dropped"`
	Discarded uint64 `json:"discarded"`
	Closed    bool   `json:"closed"`
}

// NewBridge returns a mailbox holding up to size messages.
func NewBridge(size int) *Bridge {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Bridge{
		queue:  make(chan message, size),
		closed: make(chan struct{}),
	}
}

// Post enqueues msg, waiting for room until ctx is done or the bridge closes.
func (b *Bridge) Post(ctx context.Context, msg message) error {
	select {
	case <-b.closed:
		return ErrBridgeClosed
	default:
	}

	select {
	case b.queue <- msg:
		b.posted.Add(1)
		return nil
	case <-b.closed:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost enqueues msg only if there is room. It reports whether msg was
// accepted.
func (b *Bridge) TryPost(msg message) bool {
	select {
	case <-b.closed:
		b.dropped.Add(1)
		return false
	default:
	}

	select {
	case b.queue <- msg:
		b.posted.Add(1)
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Close rejects further posts. Messages still queued are abandoned.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Closed reports whether Close has been called.
func (b *Bridge) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Depth returns the number of queued messages.
func (b *Bridge) Depth() int { return len(b.queue) }

func (b *Bridge) markDiscarded() { b.discarded.Add(1) }

// Stats returns current mailbox counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Capacity:  cap(b.queue),
		Depth:     len(b.queue),
		Posted:    b.posted.Load(),
		Dropped:   b.dropped.Load(),
		Discarded: b.discarded.Load(),
		Closed:    b.Closed(),
	}
}

// sessionListener is the CaptureListener handed to the factory for one camera.
// It only posts to the bridge; all handling happens on the coordinator
// goroutine.
type sessionListener struct {
	id int64
	c  *Coordinator
}

func (l *sessionListener) OnComplete(kind OperationKind, comp Completion) {
	msg := &completionMsg{id: l.id, kind: kind, completion: comp}
	if err := l.c.bridge.Post(context.Background(), msg); err != nil {
		l.c.log.Debug("completion posted after shutdown",
			logger.Int64("camera_id", l.id),
			logger.String("operation", kind.String()))
	}
}

func (l *sessionListener) OnFrame(data []byte) {
	if !l.c.bridge.TryPost(&frameMsg{id: l.id, data: data, at: l.c.now()}) {
		l.c.metrics.RecordFrameDropped(reasonMailboxFull)
	}
}

func (l *sessionListener) OnError(err error) {
	_ = l.c.bridge.Post(context.Background(), &errorMsg{id: l.id, err: err})
}
