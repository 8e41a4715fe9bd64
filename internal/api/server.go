package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/camerad/internal/logger"
	"github.com/tphakala/camerad/internal/observability/metrics"
)

// Server is the camerad HTTP server. It owns the Echo instance, its
// middleware and the API controller.
type Server struct {
	echo       *echo.Echo
	config     *Config
	controller *Controller
	log        logger.Logger
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	metrics *metrics.HTTPMetrics
	log     logger.Logger
}

// WithServerMetrics records HTTP request and websocket metrics.
func WithServerMetrics(m *metrics.HTTPMetrics) ServerOption {
	return func(o *serverOptions) {
		o.metrics = m
	}
}

// WithServerLogger replaces the api module logger.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(o *serverOptions) {
		o.log = l
	}
}

// New creates a new HTTP server serving cameras.
func New(config *Config, cameras CameraService, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	o := serverOptions{log: GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = config.Debug

	e.Server.ReadTimeout = config.ReadTimeout
	e.Server.WriteTimeout = config.WriteTimeout
	e.Server.IdleTimeout = config.IdleTimeout

	// Recovery middleware - should be first
	e.Use(echomw.Recover())
	corsConfig := echomw.DefaultCORSConfig
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}
	e.Use(echomw.CORSWithConfig(corsConfig))
	e.Use(echomw.BodyLimit(config.BodyLimit))

	controllerOpts := []Option{WithLogger(o.log)}
	if o.metrics != nil {
		controllerOpts = append(controllerOpts, WithHTTPMetrics(o.metrics))
	}

	s := &Server{
		echo:       e,
		config:     config,
		controller: NewController(e, cameras, config, controllerOpts...),
		log:        o.log,
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("debug", config.Debug))
	return s, nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP requests on ln until ctx is cancelled, then shuts the
// server down gracefully within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	s.log.Info("starting HTTP server", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutdown signal received, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}
