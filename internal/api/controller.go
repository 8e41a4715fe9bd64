package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/logger"
	"github.com/tphakala/camerad/internal/observability/metrics"
)

// CameraService is the camera request surface the API drives.
// *camera.Coordinator satisfies it.
type CameraService interface {
	AvailableCameras(ctx context.Context) ([]string, error)
	Create(ctx context.Context, cameraName string, settings camera.MediaSettings) (int64, error)
	Initialize(ctx context.Context, id int64) (camera.Size, error)
	PausePreview(ctx context.Context, id int64) error
	ResumePreview(ctx context.Context, id int64) error
	StartVideoRecording(ctx context.Context, id int64) error
	StopVideoRecording(ctx context.Context, id int64) (string, error)
	TakePicture(ctx context.Context, id int64) (string, error)
	StartImageStream(ctx context.Context, id int64) error
	StopImageStream(ctx context.Context, id int64) error
	Dispose(ctx context.Context, id int64) error
	AttachSink(ctx context.Context, sink camera.FrameSink) error
	DetachSink(ctx context.Context, sink camera.FrameSink) error
	Sessions(ctx context.Context) ([]camera.SessionInfo, error)
	BridgeStats() camera.BridgeStats
	Done() <-chan struct{}
}

const cameraListKey = "cameras"

// Controller manages the API routes and handlers
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	cameras     CameraService
	config      *Config
	metrics     *metrics.HTTPMetrics
	cameraCache *cache.Cache // available camera names
	upgrader    websocket.Upgrader
	startTime   time.Time
	log         logger.Logger
	memory      memoryReader
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithHTTPMetrics records request and websocket metrics.
func WithHTTPMetrics(m *metrics.HTTPMetrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithLogger replaces the api module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// NewController creates the API controller and registers its routes on e
// under /api/v1.
func NewController(e *echo.Echo, cameras CameraService, config *Config, opts ...Option) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Controller{
		Echo:    e,
		cameras: cameras,
		config:  config,
		// No janitor: expired entries are dropped on the next Get.
		cameraCache: cache.New(config.CameraCacheTTL, 0),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin(config.AllowedOrigins),
		},
		startTime: time.Now(),
		log:       GetLogger(),
		memory:    virtualMemory,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Group = e.Group("/api/v1")
	c.Group.Use(c.MetricsMiddleware())
	c.Group.Use(c.LoggingMiddleware())
	c.initRoutes()
	return c
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.Group.GET("/cameras", c.ListAvailableCameras)
	c.Group.POST("/cameras", c.CreateCamera)
	c.Group.GET("/sessions", c.ListSessions)
	c.Group.DELETE("/cameras/:id", c.DisposeCamera)

	c.Group.POST("/cameras/:id/initialize", c.InitializeCamera)
	c.Group.POST("/cameras/:id/preview/pause", c.simple(camera.OpPausePreview, CameraService.PausePreview))
	c.Group.POST("/cameras/:id/preview/resume", c.simple(camera.OpResumePreview, CameraService.ResumePreview))
	c.Group.POST("/cameras/:id/recording/start", c.simple(camera.OpStartRecord, CameraService.StartVideoRecording))
	c.Group.POST("/cameras/:id/recording/stop", c.StopRecording)
	c.Group.POST("/cameras/:id/picture", c.TakePicture)
	c.Group.POST("/cameras/:id/stream/start", c.simple(camera.OpStartImageStream, CameraService.StartImageStream))
	c.Group.POST("/cameras/:id/stream/stop", c.simple(camera.OpStopImageStream, CameraService.StopImageStream))

	c.Group.GET("/stream", c.StreamFrames)
}

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(kind, message string, code int) *ErrorResponse {
	return &ErrorResponse{
		Error:         kind,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString(),
	}
}

// Error kinds that do not come from the camera package.
const (
	kindTimeout     = "timeout"
	kindUnavailable = "unavailable"
)

// statusForError maps a camera error to its HTTP status and error kind.
func statusForError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, kindTimeout
	}
	if errors.Is(err, camera.ErrCoordinatorStopped) {
		return http.StatusServiceUnavailable, kindUnavailable
	}
	kind := camera.KindOf(err)
	switch kind {
	case camera.KindSessionNotFound:
		return http.StatusNotFound, string(kind)
	case camera.KindDuplicateDevice, camera.KindRequestAlreadyPending, camera.KindSinkBusy, camera.KindInvalidState:
		return http.StatusConflict, string(kind)
	case camera.KindInvalidArgument:
		return http.StatusBadRequest, string(kind)
	default:
		return http.StatusInternalServerError, string(camera.KindSystemError)
	}
}

// HandleError writes the error response for err and logs it with a
// correlation id.
func (c *Controller) HandleError(ctx echo.Context, err error) error {
	code, kind := statusForError(err)
	return c.writeError(ctx, err, kind, code)
}

func (c *Controller) writeError(ctx echo.Context, err error, kind string, code int) error {
	resp := NewErrorResponse(kind, err.Error(), code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("error_kind", kind),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Debug("API request rejected", fields...)
	}
	if c.metrics != nil {
		c.metrics.RecordHTTPRequestError(ctx.Path(), kind)
	}

	return ctx.JSON(code, resp)
}

// badRequest reports a malformed request.
func (c *Controller) badRequest(ctx echo.Context, err error) error {
	return c.writeError(ctx, err, string(camera.KindInvalidArgument), http.StatusBadRequest)
}

// requestContext bounds a camera call by the configured request timeout.
func (c *Controller) requestContext(ctx echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request().Context(), c.config.RequestTimeout)
}

func cameraID(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return 0, errors.New("camera id must be an integer")
	}
	return id, nil
}

// LoggingMiddleware creates a middleware function that logs API requests
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("path", req.URL.Path),
				logger.Int("status", ctx.Response().Status),
				logger.String("ip", ctx.RealIP()),
				logger.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				fields = append(fields, logger.Error(err))
			}
			c.log.Debug("API request", fields...)
			return err
		}
	}
}

// MetricsMiddleware records request counts and latency by route template.
func (c *Controller) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if c.metrics == nil {
				return next(ctx)
			}
			start := time.Now()
			err := next(ctx)
			status := ctx.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			c.metrics.RecordHTTPRequest(ctx.Request().Method, ctx.Path(), strconv.Itoa(status), time.Since(start).Seconds())
			return err
		}
	}
}

// checkOrigin allows any origin when allowed is empty, otherwise only the
// listed origins.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		if !ok {
			_, ok = set["*"]
		}
		return ok
	}
}
