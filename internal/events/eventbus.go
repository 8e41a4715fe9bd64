package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/camerad/internal/logger"
)

// EventBus provides asynchronous event processing with non-blocking guarantees
type EventBus struct {
	// Channel for events
	eventChan chan CameraEvent

	// Configuration
	bufferSize int
	workers    int

	// State management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	stopped atomic.Bool
	mu      sync.Mutex

	// Consumers
	consumers []EventConsumer

	// Metrics
	stats    EventBusStats
	recorder PublishRecorder

	dedup *EventDeduplicator

	logger logger.Logger
}

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int

	// Deduplication suppresses repeated failure events. Nil disables it.
	Deduplication *DeduplicationConfig
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    1000,
		Workers:       2,
		Deduplication: DefaultDeduplicationConfig(),
	}
}

// NewEventBus creates an event bus. Workers start when the first consumer
// registers.
func NewEventBus(config *Config, log logger.Logger) *EventBus {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if log == nil {
		log = logger.Global().Module("events")
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		eventChan:  make(chan CameraEvent, config.BufferSize),
		bufferSize: config.BufferSize,
		workers:    config.Workers,
		ctx:        ctx,
		cancel:     cancel,
		consumers:  make([]EventConsumer, 0),
		logger:     log,
	}
	if config.Deduplication != nil && config.Deduplication.Enabled {
		eb.dedup = NewEventDeduplicator(config.Deduplication, log.Module("dedup"))
	}

	eb.logger.Info("event bus initialized",
		logger.Int("buffer_size", config.BufferSize),
		logger.Int("workers", config.Workers))

	return eb
}

// SetRecorder installs a metrics recorder for publish outcomes
func (eb *EventBus) SetRecorder(r PublishRecorder) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.recorder = r
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return fmt.Errorf("event bus not initialized")
	}
	if eb.stopped.Load() {
		return fmt.Errorf("event bus shut down")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}

	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	// Start workers if this is the first consumer
	if len(eb.consumers) == 1 {
		eb.start()
	}

	return nil
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped.
func (eb *EventBus) TryPublish(event CameraEvent) bool {
	if eb == nil {
		return false
	}

	eb.mu.Lock()
	hasConsumers := len(eb.consumers) > 0
	recorder := eb.recorder
	eb.mu.Unlock()

	if !eb.running.Load() || !hasConsumers {
		atomic.AddUint64(&eb.stats.FastPathHits, 1)
		return false
	}

	if !eb.dedup.ShouldPublish(event) {
		atomic.AddUint64(&eb.stats.EventsSuppressed, 1)
		return false
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		if recorder != nil {
			recorder.RecordEventPublished(string(event.Type), true)
		}
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		if recorder != nil {
			recorder.RecordEventPublished(string(event.Type), false)
		}
		eb.logger.Debug("event dropped due to full buffer",
			logger.String("type", string(event.Type)),
			logger.Int64("camera_id", event.CameraID))
		return false
	}
}

// start begins the worker goroutines. Caller holds eb.mu.
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}

	eb.logger.Debug("starting event bus workers", logger.Int("count", eb.workers))

	for i := 0; i < eb.workers; i++ {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

// worker processes events from the channel until the bus is shut down, then
// drains what is still buffered.
func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	log := eb.logger.With(logger.Int("worker_id", id))

	for {
		select {
		case <-eb.ctx.Done():
			for {
				select {
				case event := <-eb.eventChan:
					eb.processEvent(event, log)
				default:
					return
				}
			}
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event CameraEvent, log logger.Logger) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("type", string(event.Type)))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.Error(err),
					logger.String("type", string(event.Type)))
				return
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
		}()
	}
}

// Shutdown stops accepting events and waits up to timeout for the workers to
// drain the buffer.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || eb.stopped.Swap(true) {
		return nil
	}

	eb.logger.Info("shutting down event bus", logger.Duration("timeout", timeout))

	eb.running.Store(false)
	eb.cancel()
	eb.dedup.Shutdown()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}

	return EventBusStats{
		EventsReceived:   atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsProcessed:  atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:    atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:   atomic.LoadUint64(&eb.stats.ConsumerErrors),
		FastPathHits:     atomic.LoadUint64(&eb.stats.FastPathHits),
		EventsSuppressed: atomic.LoadUint64(&eb.stats.EventsSuppressed),
	}
}
