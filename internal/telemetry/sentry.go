// Package telemetry provides opt-in, privacy-filtered error tracking with
// Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/camerad/internal/buildinfo"
	"github.com/tphakala/camerad/internal/conf"
	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

// flushTimeout bounds how long shutdown waits for queued Sentry events.
const flushTimeout = 2 * time.Second

func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// PlatformInfo holds privacy-safe platform information for telemetry
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// InitSentry initializes the Sentry SDK when enabled in settings and routes
// enhanced errors to it. The returned function flushes pending events and
// detaches the reporter; it is a no-op when Sentry is disabled.
func InitSentry(settings *conf.Settings, build *buildinfo.Context) (func(), error) {
	if !settings.Sentry.Enabled {
		getLogger().Debug("sentry telemetry is disabled (opt-in required)")
		return func() {}, nil
	}

	environment := settings.Sentry.Environment
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,
		Debug:      false,

		// Privacy-compliant settings
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          build.Release(),

		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	platform := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", platform.OS)
		scope.SetTag("arch", platform.Architecture)
		scope.SetTag("go_version", platform.GoVersion)
		scope.SetContext("platform", map[string]any{
			"num_cpu": platform.NumCPU,
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	getLogger().Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.String("release", build.Release()))

	return func() {
		errors.SetTelemetryReporter(nil)
		if !sentry.Flush(flushTimeout) {
			getLogger().Warn("sentry flush timed out", logger.Duration("timeout", flushTimeout))
		}
	}, nil
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
