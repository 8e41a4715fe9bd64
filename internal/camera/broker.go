package camera

import (
	"fmt"
	"slices"
	"strings"
)

// BusyPolicy decides what StartImageStream does while another camera holds
// the sink.
type BusyPolicy string

const (
	// BusyReject refuses the request with ErrSinkBusy.
	BusyReject BusyPolicy = "reject"
	// BusyTransfer revokes the holder and moves the sink to the requester.
	BusyTransfer BusyPolicy = "transfer"
)

// ParseBusyPolicy accepts "reject" and "transfer", case-insensitively.
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch p := BusyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case BusyReject, BusyTransfer:
		return p, nil
	case "":
		return BusyReject, nil
	default:
		return "", fmt.Errorf("unknown busy policy %q", s)
	}
}

// StreamingPolicy configures StreamSinkBroker.
type StreamingPolicy struct {
	// ArmWithoutSink lets a camera start streaming before any subscriber is
	// attached. It is granted the sink when one arrives.
	ArmWithoutSink bool
	Busy           BusyPolicy
}

// DefaultStreamingPolicy arms without a sink and rejects while busy.
func DefaultStreamingPolicy() StreamingPolicy {
	return StreamingPolicy{ArmWithoutSink: true, Busy: BusyReject}
}

// StreamSinkBroker owns the single frame sink and hands it to at most one
// session at a time. Handing the sink over is a move: while a session holds
// it, the broker's own reference is nil. It is confined to the coordinator
// goroutine.
type StreamSinkBroker struct {
	policy StreamingPolicy

	sink    FrameSink // attached but unheld
	holder  *Session
	waiting []*Session

	// onRevoke is called when a holder loses the sink without asking.
	onRevoke func(s *Session)
}

// NewStreamSinkBroker returns a broker with no sink attached.
func NewStreamSinkBroker(policy StreamingPolicy, onRevoke func(s *Session)) *StreamSinkBroker {
	if policy.Busy == "" {
		policy.Busy = BusyReject
	}
	return &StreamSinkBroker{policy: policy, onRevoke: onRevoke}
}

// Current returns the attached sink wherever it is, or nil.
func (b *StreamSinkBroker) Current() FrameSink {
	if b.holder != nil {
		return b.holder.sink
	}
	return b.sink
}

// Holder returns the session holding the sink, or nil.
func (b *StreamSinkBroker) Holder() *Session { return b.holder }

// Waiting returns the ids of sessions armed without the sink, in arrival order.
func (b *StreamSinkBroker) Waiting() []int64 {
	ids := make([]int64, len(b.waiting))
	for i, s := range b.waiting {
		ids[i] = s.id
	}
	return ids
}

// Attach installs sink. An existing sink is revoked from its holder and
// closed. The first waiting session, if any, is granted the new sink.
func (b *StreamSinkBroker) Attach(sink FrameSink) {
	if old := b.Current(); old != nil {
		if old.ID() == sink.ID() {
			return
		}
		b.revokeHolder()
		b.sink = nil
		old.Close(SinkReplaced)
	}
	b.sink = sink
	b.grantNext()
}

// Detach removes sink if it is the attached one. The holder is revoked and
// waiting sessions stay armed. It reports whether sink was attached.
func (b *StreamSinkBroker) Detach(sink FrameSink) bool {
	return b.detach(sink, SinkDetached)
}

func (b *StreamSinkBroker) detach(sink FrameSink, reason SinkCloseReason) bool {
	current := b.Current()
	if current == nil || (sink != nil && current.ID() != sink.ID()) {
		return false
	}
	b.revokeHolder()
	b.sink = nil
	current.Close(reason)
	return true
}

// Start arms s for streaming. The returned error is ErrSinkBusy when the
// policy refuses.
func (b *StreamSinkBroker) Start(s *Session) error {
	if b.holder == s || slices.Contains(b.waiting, s) {
		return nil
	}

	switch {
	case b.sink != nil:
		b.moveTo(s)
	case b.holder == nil:
		if !b.policy.ArmWithoutSink {
			return sinkBusyError(s.id, "no image stream subscriber attached")
		}
		s.armed = true
		b.waiting = append(b.waiting, s)
	case b.policy.Busy == BusyTransfer:
		b.revokeHolder()
		b.moveTo(s)
	default:
		return sinkBusyError(s.id, fmt.Sprintf("image stream held by camera %d", b.holder.id))
	}
	return nil
}

// Stop disarms s. If s held the sink it returns to the broker and passes to
// the next waiting session. It reports whether s held the sink.
func (b *StreamSinkBroker) Stop(s *Session) bool {
	s.armed = false
	if b.holder != s {
		if i := slices.Index(b.waiting, s); i >= 0 {
			b.waiting = slices.Delete(b.waiting, i, i+1)
		}
		return false
	}
	b.sink = s.sink
	s.sink = nil
	b.holder = nil
	b.grantNext()
	return true
}

// Shutdown detaches and closes any sink and forgets every session.
func (b *StreamSinkBroker) Shutdown() {
	b.detach(nil, SinkShutdown)
	for _, s := range b.waiting {
		s.armed = false
	}
	b.waiting = nil
}

func (b *StreamSinkBroker) moveTo(s *Session) {
	s.sink = b.sink
	s.armed = true
	b.sink = nil
	b.holder = s
}

// revokeHolder takes the sink back from the holder and disarms it.
func (b *StreamSinkBroker) revokeHolder() {
	h := b.holder
	if h == nil {
		return
	}
	b.sink = h.sink
	h.sink = nil
	h.armed = false
	b.holder = nil
	if b.onRevoke != nil {
		b.onRevoke(h)
	}
}

func (b *StreamSinkBroker) grantNext() {
	if b.sink == nil || b.holder != nil || len(b.waiting) == 0 {
		return
	}
	next := b.waiting[0]
	b.waiting = b.waiting[1:]
	b.moveTo(next)
}
