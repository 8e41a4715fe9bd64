// Package api provides the HTTP server for camerad: the JSON camera API under
// /api/v1 and the websocket frame stream.
package api

import (
	"fmt"
	"time"

	"github.com/tphakala/camerad/internal/conf"
	"github.com/tphakala/camerad/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRequestTimeout  = 15 * time.Second
	DefaultCameraCacheTTL  = 30 * time.Second

	DefaultStreamMaxFPS       = 15
	DefaultStreamQueueSize    = 8
	DefaultStreamWriteTimeout = 5 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	// Server binding
	Listen string // host:port to listen on

	// Security settings
	AllowedOrigins []string // CORS allowed origins; empty allows any

	// Timeouts
	ReadTimeout     time.Duration // Maximum duration for reading request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum time to wait for next request
	ShutdownTimeout time.Duration // Maximum time to wait for graceful shutdown
	RequestTimeout  time.Duration // Maximum wait for a camera operation

	// Limits
	BodyLimit string // Maximum request body size (e.g., "1M", "10M")

	CameraCacheTTL time.Duration // How long the available camera list is cached
	Stream         StreamConfig

	// Logging
	Debug bool // Enable debug mode
}

// StreamConfig configures websocket frame subscribers.
type StreamConfig struct {
	MaxFPS       float64       // per-subscriber frame rate limit
	QueueSize    int           // frames buffered per subscriber
	WriteTimeout time.Duration // per-message write deadline
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8090",
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		RequestTimeout:  DefaultRequestTimeout,
		BodyLimit:       "1M",
		CameraCacheTTL:  DefaultCameraCacheTTL,
		Stream: StreamConfig{
			MaxFPS:       DefaultStreamMaxFPS,
			QueueSize:    DefaultStreamQueueSize,
			WriteTimeout: DefaultStreamWriteTimeout,
		},
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()

	if settings.API.Listen != "" {
		cfg.Listen = settings.API.Listen
	}
	cfg.AllowedOrigins = settings.API.CORSOrigins
	if settings.API.CameraCacheTTL > 0 {
		cfg.CameraCacheTTL = settings.API.CameraCacheTTL
	}
	if settings.Camera.RequestTimeout > 0 {
		cfg.RequestTimeout = settings.Camera.RequestTimeout
	}
	if s := settings.API.Stream; s.MaxFPS > 0 {
		cfg.Stream.MaxFPS = s.MaxFPS
	}
	if s := settings.API.Stream; s.QueueSize > 0 {
		cfg.Stream.QueueSize = s.QueueSize
	}
	if s := settings.API.Stream; s.WriteTimeout > 0 {
		cfg.Stream.WriteTimeout = s.WriteTimeout
	}

	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	// Validate timeouts
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("stream queue size must be positive")
	}

	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, request_timeout=%s, debug=%v",
		c.Listen, c.RequestTimeout, c.Debug)
}
