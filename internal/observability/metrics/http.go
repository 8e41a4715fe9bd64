// Package metrics provides HTTP handler metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/tphakala/camerad/internal/logger"
)

// HTTPMetrics contains Prometheus metrics for the REST API and the frame
// streaming websocket.
type HTTPMetrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestErrors   *prometheus.CounterVec

	// Websocket metrics
	wsActiveConnections prometheus.Gauge
	wsTotalConnections  *prometheus.CounterVec
	wsConnectionSeconds prometheus.Histogram
	wsFramesSent        prometheus.Counter
	wsFramesDropped     *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP handler metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camera_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"method", "route"},
	)

	m.httpRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_http_request_errors_total",
			Help: "Total number of HTTP requests answered with an error body",
		},
		[]string{"route", "error_kind"},
	)

	m.wsActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_ws_active_connections",
		Help: "Number of open image stream websocket connections",
	})

	m.wsTotalConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_ws_connections_total",
			Help: "Image stream websocket connections by close reason",
		},
		[]string{"reason"},
	)

	m.wsConnectionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "camera_ws_connection_duration_seconds",
		Help:    "Lifetime of image stream websocket connections",
		Buckets: prometheus.ExponentialBuckets(1, BucketFactor2, BucketCount15),
	})

	m.wsFramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camera_ws_frames_sent_total",
		Help: "Frames written to websocket subscribers",
	})

	m.wsFramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_ws_frames_dropped_total",
			Help: "Frames dropped by websocket subscribers",
		},
		[]string{"reason"}, // rate_limited, queue_full
	)
}

// getCollectors returns all collectors in order for Describe/Collect operations
func (m *HTTPMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestErrors,
		m.wsActiveConnections,
		m.wsTotalConnections,
		m.wsConnectionSeconds,
		m.wsFramesSent,
		m.wsFramesDropped,
	}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *HTTPMetrics) RecordHTTPRequest(method, route, status string, duration float64) {
	m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// RecordHTTPRequestError records an error response by camera error kind
func (m *HTTPMetrics) RecordHTTPRequestError(route, errorKind string) {
	m.httpRequestErrors.WithLabelValues(route, errorKind).Inc()
}

// Websocket close reason constants to prevent high cardinality metrics
const (
	WSCloseReasonClosed   = "closed"   // Client disconnect
	WSCloseReasonReplaced = "replaced" // Sink replaced by a newer subscriber
	WSCloseReasonError    = "error"    // Write or read failure
	WSCloseReasonShutdown = "shutdown" // Camera coordinator stopped
)

// WSConnectionStarted increments the active connection gauge
func (m *HTTPMetrics) WSConnectionStarted() {
	m.wsActiveConnections.Inc()
}

// WSConnectionClosed decrements active connections and records duration.
// Unknown reasons are recorded as errors.
func (m *HTTPMetrics) WSConnectionClosed(duration float64, reason string) {
	switch reason {
	case WSCloseReasonClosed, WSCloseReasonReplaced, WSCloseReasonError, WSCloseReasonShutdown:
	default:
		reason = WSCloseReasonError
	}

	m.wsActiveConnections.Dec()
	m.wsTotalConnections.WithLabelValues(reason).Inc()
	m.wsConnectionSeconds.Observe(duration)
}

// RecordFrameSent records a frame written to a subscriber
func (m *HTTPMetrics) RecordFrameSent() {
	m.wsFramesSent.Inc()
}

// RecordFrameDropped records a frame a subscriber did not send
func (m *HTTPMetrics) RecordFrameDropped(reason string) {
	m.wsFramesDropped.WithLabelValues(reason).Inc()
}

// GetActiveWSConnections returns the current number of open websocket connections
func (m *HTTPMetrics) GetActiveWSConnections() float64 {
	metric := &dto.Metric{}
	if err := m.wsActiveConnections.Write(metric); err != nil {
		log.Warn("Failed to write websocket active connections metric", logger.Error(err))
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
