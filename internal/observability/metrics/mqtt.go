package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for the MQTT event publisher.
type MQTTMetrics struct {
	registry *prometheus.Registry

	connectionStatus  prometheus.Gauge
	lastConnectTime   prometheus.Gauge
	eventsDelivered   *prometheus.CounterVec
	publishErrors     *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	messageSize       prometheus.Histogram
	publishLatency    prometheus.Histogram

	collectors []prometheus.Collector
}

// NewMQTTMetrics creates and registers MQTT publisher metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.connectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})

	m.lastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})

	m.eventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_mqtt_events_delivered_total",
			Help: "Camera events delivered to the broker",
		},
		[]string{"type"},
	)

	m.publishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_mqtt_errors_total",
			Help: "MQTT failures by stage",
		},
		[]string{"stage"}, // connect, publish, marshal
	)

	m.reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camera_mqtt_reconnect_attempts_total",
		Help: "Total number of MQTT reconnection attempts",
	})

	m.messageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "camera_mqtt_message_size_bytes",
		Help:    "Size of published MQTT payloads in bytes",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
	})

	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "camera_mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	m.collectors = []prometheus.Collector{
		m.connectionStatus,
		m.lastConnectTime,
		m.eventsDelivered,
		m.publishErrors,
		m.reconnectAttempts,
		m.messageSize,
		m.publishLatency,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// UpdateConnectionStatus updates the connection gauge and, on connect, the
// last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
		m.lastConnectTime.SetToCurrentTime()
		return
	}
	m.connectionStatus.Set(0)
}

// RecordDelivered counts a delivered event and its payload size.
func (m *MQTTMetrics) RecordDelivered(eventType string, sizeBytes int) {
	m.eventsDelivered.WithLabelValues(eventType).Inc()
	m.messageSize.Observe(float64(sizeBytes))
}

// RecordError counts a failure at stage.
func (m *MQTTMetrics) RecordError(stage string) {
	m.publishErrors.WithLabelValues(stage).Inc()
}

// IncrementReconnectAttempts counts a reconnection attempt.
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	m.reconnectAttempts.Inc()
}

// StartPublishTimer starts a timer for measuring publish latency.
func (m *MQTTMetrics) StartPublishTimer() *PublishTimer {
	return &PublishTimer{startTime: time.Now(), metrics: m}
}

// PublishTimer measures a single publish.
type PublishTimer struct {
	startTime time.Time
	metrics   *MQTTMetrics
}

// ObserveDuration stops the timer and records the duration.
func (pt *PublishTimer) ObserveDuration() {
	pt.metrics.publishLatency.Observe(time.Since(pt.startTime).Seconds())
}
