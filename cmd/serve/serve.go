// Package serve implements the camerad daemon command.
package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/camerad/internal/api"
	"github.com/tphakala/camerad/internal/buildinfo"
	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/capture/v4l2"
	"github.com/tphakala/camerad/internal/conf"
	"github.com/tphakala/camerad/internal/events"
	"github.com/tphakala/camerad/internal/logger"
	"github.com/tphakala/camerad/internal/mqtt"
	"github.com/tphakala/camerad/internal/observability"
	"github.com/tphakala/camerad/internal/telemetry"
)

// eventBusShutdownTimeout bounds how long queued events may drain on exit.
const eventBusShutdownTimeout = 5 * time.Second

// flagBindings maps serve flags to their configuration keys.
var flagBindings = map[string]string{
	"listen":           "api.listen",
	"pictures":         "camera.picturesdir",
	"videos":           "camera.videosdir",
	"ffmpeg":           "capture.ffmpegpath",
	"telemetry":        "telemetry.enabled",
	"telemetry-listen": "telemetry.listen",
	"mqtt":             "mqtt.enabled",
	"mqtt-broker":      "mqtt.broker",
}

// Command creates the serve command, which runs the camera coordinator and
// the HTTP API until interrupted.
func Command(v *viper.Viper, settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the camera daemon",
		Long:  "Start the camera coordinator, the HTTP API and the frame stream, plus the optional telemetry endpoint and MQTT event publisher.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, build)
		},
	}

	if err := setupFlags(cmd, v); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, v *viper.Viper) error {
	cmd.Flags().String("listen", "", "API listen address, host:port")
	cmd.Flags().String("pictures", "", "Directory for pictures")
	cmd.Flags().String("videos", "", "Directory for video recordings")
	cmd.Flags().String("ffmpeg", "", "Path to the ffmpeg binary")
	cmd.Flags().Bool("telemetry", false, "Enable Prometheus telemetry endpoint")
	cmd.Flags().String("telemetry-listen", "", "Listen address and port of telemetry endpoint")
	cmd.Flags().Bool("mqtt", false, "Publish camera events to MQTT")
	cmd.Flags().String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")

	for flag, key := range flagBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// Run starts every camerad service and blocks until ctx is cancelled or one
// of them fails.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	defer func() { _ = central.Close() }()
	log := logger.Global().Module("main")

	log.Info("starting camerad",
		logger.String("version", build.GetVersion()),
		logger.String("build_date", build.GetBuildDate()))

	flushSentry, err := telemetry.InitSentry(settings, build)
	if err != nil {
		// Error tracking is optional; carry on without it.
		log.Warn("failed to initialize sentry", logger.Error(err))
		flushSentry = func() {}
	}
	defer flushSentry()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	bus, err := startEventBus(ctx, settings, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Shutdown(eventBusShutdownTimeout); err != nil {
			log.Warn("event bus shutdown incomplete", logger.Error(err))
		}
	}()

	factory := v4l2.NewFactory(v4l2.OptionsFromSettings(&settings.Capture))
	ffmpegPath, err := factory.ValidateFFmpeg()
	if err != nil {
		return err
	}
	log.Info("using ffmpeg", logger.String("path", ffmpegPath))

	cameraConfig, err := CameraConfig(settings)
	if err != nil {
		return err
	}
	coordinator := camera.NewCoordinator(factory, cameraConfig,
		camera.WithMetrics(metrics.Camera),
		camera.WithEventPublisher(bus),
		camera.WithDeviceEnumerator(v4l2.NewEnumerator(settings.Capture.DevRoot, settings.Capture.SysfsRoot)))

	server, err := api.New(api.ConfigFromSettings(settings), coordinator, api.WithServerMetrics(metrics.HTTP))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			return fmt.Errorf("failed to create telemetry endpoint: %w", err)
		}
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	err = g.Wait()
	log.Info("camerad stopped")
	return err
}

// startEventBus creates the event bus with its log consumer and, when
// enabled, the MQTT publisher. An unreachable broker is logged and left to
// reconnect in the background.
func startEventBus(ctx context.Context, settings *conf.Settings, metrics *observability.Metrics) (*events.EventBus, error) {
	bus := events.NewEventBus(EventBusConfig(&settings.Events), logger.Global().Module("events"))
	bus.SetRecorder(metrics.Camera)

	if err := bus.RegisterConsumer(events.NewLogConsumer(logger.Global().Module("camera-events"))); err != nil {
		return nil, fmt.Errorf("failed to register event log consumer: %w", err)
	}

	if !settings.MQTT.Enabled {
		return bus, nil
	}

	mqttConfig := mqtt.ConfigFromSettings(&settings.MQTT)
	client, err := mqtt.NewClient(mqttConfig, metrics.MQTT)
	if err != nil {
		_ = bus.Shutdown(eventBusShutdownTimeout)
		return nil, fmt.Errorf("failed to create MQTT client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		logger.Global().Module("mqtt").Warn("initial MQTT connection failed, events are dropped until connected",
			logger.Error(err))
	}
	if err := bus.RegisterConsumer(mqtt.NewEventPublisher(client, mqttConfig, metrics.MQTT)); err != nil {
		client.Disconnect()
		_ = bus.Shutdown(eventBusShutdownTimeout)
		return nil, fmt.Errorf("failed to register MQTT publisher: %w", err)
	}
	context.AfterFunc(ctx, client.Disconnect)
	return bus, nil
}

// EventBusConfig converts event settings to the bus configuration.
func EventBusConfig(s *conf.EventsSettings) *events.Config {
	cfg := events.DefaultConfig()
	if s.BufferSize > 0 {
		cfg.BufferSize = s.BufferSize
	}
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	cfg.Deduplication.Enabled = s.Dedup
	if s.DedupWindow > 0 {
		cfg.Deduplication.TTL = s.DedupWindow
	}
	return cfg
}

// CameraConfig converts camera settings to the coordinator configuration.
func CameraConfig(settings *conf.Settings) (camera.Config, error) {
	busy, err := camera.ParseBusyPolicy(settings.Camera.Streaming.BusyPolicy)
	if err != nil {
		return camera.Config{}, err
	}

	cfg := camera.DefaultConfig()
	if settings.Camera.MailboxSize > 0 {
		cfg.MailboxSize = settings.Camera.MailboxSize
	}
	cfg.Paths = camera.CapturePaths{
		PicturesDir: settings.Camera.PicturesDir,
		VideosDir:   settings.Camera.VideosDir,
	}
	cfg.Streaming = camera.StreamingPolicy{
		ArmWithoutSink: settings.Camera.Streaming.ArmWithoutSink,
		Busy:           busy,
	}

	d := settings.Camera.Defaults
	if d.ResolutionPreset != "" {
		cfg.DefaultSettings.ResolutionPreset = camera.ResolutionPreset(d.ResolutionPreset)
	}
	if d.FPS > 0 {
		cfg.DefaultSettings.FramesPerSecond = d.FPS
	}
	if d.VideoBitrate > 0 {
		cfg.DefaultSettings.VideoBitrate = d.VideoBitrate
	}
	if d.AudioBitrate > 0 {
		cfg.DefaultSettings.AudioBitrate = d.AudioBitrate
	}
	cfg.DefaultSettings.EnableAudio = d.EnableAudio
	return cfg, nil
}
