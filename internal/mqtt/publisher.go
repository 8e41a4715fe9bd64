package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/events"
	"github.com/tphakala/camerad/internal/observability/metrics"
)

// EventPublisher is an events.EventConsumer that forwards camera events to
// the broker as JSON, one topic per event type.
type EventPublisher struct {
	client  Client
	topic   string
	timeout time.Duration
	metrics *metrics.MQTTMetrics
}

// NewEventPublisher returns a publisher sending to <config.Topic>/<type>.
func NewEventPublisher(client Client, config Config, m *metrics.MQTTMetrics) *EventPublisher {
	timeout := config.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	return &EventPublisher{
		client:  client,
		topic:   strings.TrimSuffix(config.Topic, "/"),
		timeout: timeout,
		metrics: m,
	}
}

func (p *EventPublisher) Name() string { return "mqtt" }

// ProcessEvent publishes event. Events arriving while the broker is
// unreachable are dropped and reported as errors.
func (p *EventPublisher) ProcessEvent(event events.CameraEvent) error {
	if !p.client.IsConnected() {
		p.metrics.RecordError("not_connected")
		return errors.New(fmt.Errorf("mqtt not connected, dropping %s event", event.Type)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("event_type", string(event.Type)).
			Build()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordError("marshal")
		return errors.New(fmt.Errorf("failed to marshal camera event: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.TopicFor(event.Type), payload); err != nil {
		return err
	}
	p.metrics.RecordDelivered(string(event.Type), len(payload))
	return nil
}

// TopicFor returns the topic events of type t are published to.
func (p *EventPublisher) TopicFor(t events.EventType) string {
	return p.topic + "/" + string(t)
}
