package events

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/camerad/internal/logger"
)

// DeduplicationConfig holds configuration for failure event deduplication
type DeduplicationConfig struct {
	Enabled         bool
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultDeduplicationConfig returns default deduplication settings
func DefaultDeduplicationConfig() *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:         true,
		TTL:             30 * time.Second,
		CleanupInterval: 1 * time.Minute,
	}
}

// EventDeduplicator suppresses repeats of the same failure event. A flapping
// device reports the same capture error many times a second; only the first
// report within TTL is published.
type EventDeduplicator struct {
	config *DeduplicationConfig
	seen   *cache.Cache

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	logger      logger.Logger
}

// NewEventDeduplicator creates a deduplicator. Expired entries are purged
// every CleanupInterval until Shutdown.
func NewEventDeduplicator(config *DeduplicationConfig, log logger.Logger) *EventDeduplicator {
	if config == nil {
		config = DefaultDeduplicationConfig()
	}
	if log == nil {
		log = logger.Global().Module("events")
	}

	d := &EventDeduplicator{
		config: config,
		// Purging is driven by cleanupLoop so it stops with the bus.
		seen:        cache.New(config.TTL, 0),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      log,
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go d.cleanupLoop()
	} else {
		close(d.cleanupDone)
	}

	return d
}

// ShouldPublish reports whether event should reach consumers. Only failure
// events are deduplicated.
func (d *EventDeduplicator) ShouldPublish(event CameraEvent) bool {
	if d == nil || !d.config.Enabled || !isFailure(event.Type) {
		return true
	}

	d.totalSeen.Add(1)
	key := dedupeKey(event)

	if err := d.seen.Add(key, int64(0), cache.DefaultExpiration); err == nil {
		return true
	}

	suppressed, err := d.seen.IncrementInt64(key, 1)
	if err != nil {
		// Expired between Add and Increment.
		d.seen.Set(key, int64(0), cache.DefaultExpiration)
		return true
	}
	d.totalSuppressed.Add(1)

	if suppressed%10 == 0 {
		d.logger.Debug("suppressing duplicate event",
			logger.String("type", string(event.Type)),
			logger.Int64("camera_id", event.CameraID),
			logger.String("operation", event.Operation),
			logger.Int64("suppressed", suppressed))
	}
	return false
}

func isFailure(t EventType) bool {
	return t == EventCaptureError || t == EventRequestFailed
}

// dedupeKey identifies a failure by what failed, not when.
func dedupeKey(event CameraEvent) string {
	h := sha256.New()
	h.Write([]byte(event.Type))
	h.Write([]byte(event.DeviceID))
	h.Write([]byte(event.Operation))
	h.Write([]byte(event.Error))

	sum := h.Sum(nil)
	return strconv.FormatUint(binary.BigEndian.Uint64(sum[:8]), 16)
}

// cleanupLoop periodically removes expired entries
func (d *EventDeduplicator) cleanupLoop() {
	ticker := time.NewTicker(d.config.CleanupInterval)
	defer ticker.Stop()
	defer close(d.cleanupDone)

	for {
		select {
		case <-ticker.C:
			d.seen.DeleteExpired()
		case <-d.stopCleanup:
			return
		}
	}
}

// GetStats returns deduplication statistics
func (d *EventDeduplicator) GetStats() DeduplicationStats {
	if d == nil {
		return DeduplicationStats{}
	}
	return DeduplicationStats{
		TotalSeen:       d.totalSeen.Load(),
		TotalSuppressed: d.totalSuppressed.Load(),
		CacheSize:       d.seen.ItemCount(),
	}
}

// Shutdown stops the cleanup loop
func (d *EventDeduplicator) Shutdown() {
	if d == nil {
		return
	}
	select {
	case <-d.stopCleanup:
	default:
		close(d.stopCleanup)
	}
	<-d.cleanupDone
}

// DeduplicationStats contains deduplication metrics
type DeduplicationStats struct {
	TotalSeen       uint64
	TotalSuppressed uint64
	CacheSize       int
}
