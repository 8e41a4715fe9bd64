// Package metrics provides Prometheus metrics for camerad components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CameraMetrics contains Prometheus metrics for camera coordination
type CameraMetrics struct {
	registry *prometheus.Registry

	// Session metrics
	sessionsActive    prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	pendingOperations *prometheus.GaugeVec

	// Bridge metrics
	completionsDiscarded *prometheus.CounterVec
	bridgeQueueDepth     prometheus.Gauge

	// Streaming metrics
	framesRouted      prometheus.Counter
	framesDropped     *prometheus.CounterVec
	streamSubscribers prometheus.Gauge

	// Capture metrics
	captureErrors *prometheus.CounterVec

	// Event bus metrics
	eventsPublished *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewCameraMetrics creates and registers new camera metrics
func NewCameraMetrics(registry *prometheus.Registry) (*CameraMetrics, error) {
	m := &CameraMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CameraMetrics) initMetrics() {
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_sessions_active",
		Help: "Number of live camera sessions",
	})

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_requests_total",
			Help: "Total number of camera requests by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camera_request_duration_seconds",
			Help:    "Time from request admission to reply",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount14), // 1ms to ~16s
		},
		[]string{"operation"},
	)

	m.pendingOperations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camera_pending_operations",
			Help: "Number of in-flight requests awaiting a capture completion",
		},
		[]string{"operation"},
	)

	m.completionsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_completions_discarded_total",
			Help: "Capture reports dropped by the coordinator",
		},
		[]string{"reason"}, // no_pending, unknown_session
	)

	m.bridgeQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_bridge_queue_depth",
		Help: "Messages waiting in the coordinator mailbox",
	})

	m.framesRouted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camera_frames_routed_total",
		Help: "Total number of frames handed to the stream sink",
	})

	m.framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_frames_dropped_total",
			Help: "Total number of frames dropped before reaching the sink",
		},
		[]string{"reason"}, // mailbox_full, no_sink, sink_full
	)

	m.streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_stream_subscribers",
		Help: "Number of attached image stream subscribers",
	})

	m.captureErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_capture_errors_total",
			Help: "Asynchronous capture device errors",
		},
		[]string{"device_id"},
	)

	m.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_events_published_total",
			Help: "Camera lifecycle events offered to the event bus",
		},
		[]string{"type", "outcome"},
	)

	m.collectors = []prometheus.Collector{
		m.sessionsActive,
		m.requestsTotal,
		m.requestDuration,
		m.pendingOperations,
		m.completionsDiscarded,
		m.bridgeQueueDepth,
		m.framesRouted,
		m.framesDropped,
		m.streamSubscribers,
		m.captureErrors,
		m.eventsPublished,
	}
}

// Describe implements the Collector interface
func (m *CameraMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *CameraMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// SetActiveSessions records the number of live sessions
func (m *CameraMetrics) SetActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordRequest records a replied request and, when the request reached the
// capture backend, how long it took.
func (m *CameraMetrics) RecordRequest(operation, outcome string, seconds float64) {
	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	if seconds > 0 {
		m.requestDuration.WithLabelValues(operation).Observe(seconds)
	}
}

// AddPending adjusts the in-flight gauge for an operation by delta
func (m *CameraMetrics) AddPending(operation string, delta int) {
	m.pendingOperations.WithLabelValues(operation).Add(float64(delta))
}

// RecordDiscarded counts a capture report dropped for reason
func (m *CameraMetrics) RecordDiscarded(reason string) {
	m.completionsDiscarded.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the current mailbox depth
func (m *CameraMetrics) SetQueueDepth(depth int) {
	m.bridgeQueueDepth.Set(float64(depth))
}

// RecordFrameRouted counts a frame accepted by the sink
func (m *CameraMetrics) RecordFrameRouted() {
	m.framesRouted.Inc()
}

// RecordFrameDropped counts a frame dropped for reason
func (m *CameraMetrics) RecordFrameDropped(reason string) {
	m.framesDropped.WithLabelValues(reason).Inc()
}

// SetStreamSubscribers records whether a subscriber sink is attached
func (m *CameraMetrics) SetStreamSubscribers(count int) {
	m.streamSubscribers.Set(float64(count))
}

// RecordCaptureError counts an asynchronous device error
func (m *CameraMetrics) RecordCaptureError(deviceID string) {
	m.captureErrors.WithLabelValues(deviceID).Inc()
}

// RecordEventPublished counts an event offered to the bus
func (m *CameraMetrics) RecordEventPublished(eventType string, accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "dropped"
	}
	m.eventsPublished.WithLabelValues(eventType, outcome).Inc()
}
