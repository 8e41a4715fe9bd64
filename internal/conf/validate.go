// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

var validPresets = map[string]bool{
	"low": true, "medium": true, "high": true, "veryHigh": true, "ultraHigh": true, "max": true,
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		func(s *Settings) error { return validateCameraSettings(&s.Camera) },
		func(s *Settings) error { return validateAPISettings(&s.API) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateTelemetrySettings(&s.Telemetry) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCameraSettings(settings *CameraSettings) error {
	var errs []string

	if settings.MailboxSize <= 0 {
		errs = append(errs, "camera.mailboxsize must be positive")
	}
	if settings.PicturesDir == "" {
		errs = append(errs, "camera.picturesdir must be set")
	}
	if settings.VideosDir == "" {
		errs = append(errs, "camera.videosdir must be set")
	}
	if settings.RequestTimeout <= 0 {
		errs = append(errs, "camera.requesttimeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(settings.Streaming.BusyPolicy)) {
	case "", "reject", "transfer":
	default:
		errs = append(errs, fmt.Sprintf("camera.streaming.busypolicy %q must be reject or transfer", settings.Streaming.BusyPolicy))
	}
	if preset := settings.Defaults.ResolutionPreset; preset != "" && !validPresets[preset] {
		errs = append(errs, fmt.Sprintf("camera.defaults.resolutionpreset %q is not a known preset", preset))
	}
	if settings.Defaults.FPS < 0 || settings.Defaults.VideoBitrate < 0 || settings.Defaults.AudioBitrate < 0 {
		errs = append(errs, "camera.defaults values must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("camera settings errors: %v", errs)
	}
	return nil
}

func validateAPISettings(settings *APISettings) error {
	var errs []string

	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("api.listen %q: %v", settings.Listen, err))
	}
	if settings.Stream.MaxFPS <= 0 {
		errs = append(errs, "api.stream.maxfps must be positive")
	}
	if settings.Stream.QueueSize <= 0 {
		errs = append(errs, "api.stream.queuesize must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("API settings errors: %v", errs)
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string
	if settings.Broker == "" {
		errs = append(errs, "mqtt.broker must be set when MQTT is enabled")
	} else if u, err := url.Parse(settings.Broker); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q must be a URL like tcp://host:1883", settings.Broker))
	}
	if settings.Topic == "" {
		errs = append(errs, "mqtt.topic must be set when MQTT is enabled")
	}
	if settings.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("MQTT settings errors: %v", errs)
	}
	return nil
}

func validateTelemetrySettings(settings *TelemetrySettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("telemetry.listen %q: %w", settings.Listen, err)
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if settings.Enabled && settings.DSN == "" {
		return fmt.Errorf("sentry.dsn must be set when Sentry is enabled")
	}
	return nil
}
