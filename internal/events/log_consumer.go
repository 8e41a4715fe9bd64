package events

import "github.com/tphakala/camerad/internal/logger"

// LogConsumer writes every camera event to a logger. Failure events are
// logged at warn level.
type LogConsumer struct {
	log logger.Logger
}

// NewLogConsumer returns a consumer logging to log.
func NewLogConsumer(log logger.Logger) *LogConsumer {
	return &LogConsumer{log: log}
}

func (c *LogConsumer) Name() string { return "log" }

func (c *LogConsumer) ProcessEvent(event CameraEvent) error {
	fields := []logger.Field{
		logger.String("type", string(event.Type)),
		logger.Int64("camera_id", event.CameraID),
		logger.String("device_id", event.DeviceID),
	}
	if event.Operation != "" {
		fields = append(fields, logger.String("operation", event.Operation))
	}
	if event.Path != "" {
		fields = append(fields, logger.String("path", event.Path))
	}

	if isFailure(event.Type) {
		fields = append(fields, logger.String("error", event.Error))
		c.log.Warn("camera event", fields...)
		return nil
	}
	c.log.Info("camera event", fields...)
	return nil
}
