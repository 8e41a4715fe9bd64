// config.go: settings struct for camerad and the functions that load it.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/camerad/internal/logger"
)

// Settings is the complete camerad configuration.
type Settings struct {
	Debug bool `yaml:"debug"`

	Logging   logger.LoggingConfig `yaml:"logging"`
	Camera    CameraSettings       `yaml:"camera"`
	Capture   CaptureSettings      `yaml:"capture"`
	API       APISettings          `yaml:"api"`
	Events    EventsSettings       `yaml:"events"`
	MQTT      MQTTSettings         `yaml:"mqtt"`
	Telemetry TelemetrySettings    `yaml:"telemetry"`
	Sentry    SentrySettings       `yaml:"sentry"`
}

// CameraSettings configure the camera coordinator.
type CameraSettings struct {
	MailboxSize    int               `yaml:"mailboxsize"`    // coordinator mailbox capacity
	PicturesDir    string            `yaml:"picturesdir"`    // where TakePicture writes
	VideosDir      string            `yaml:"videosdir"`      // where recordings are written
	RequestTimeout time.Duration     `yaml:"requesttimeout"` // API wait for a camera reply
	Streaming      StreamingSettings `yaml:"streaming"`
	Defaults       MediaDefaults     `yaml:"defaults"`
}

// StreamingSettings select the image stream sink policy.
type StreamingSettings struct {
	ArmWithoutSink bool   `yaml:"armwithoutsink"`
	BusyPolicy     string `yaml:"busypolicy"` // reject or transfer
}

// MediaDefaults fill in media settings a client leaves empty.
type MediaDefaults struct {
	ResolutionPreset string `yaml:"resolutionpreset"`
	FPS              int    `yaml:"fps"`
	VideoBitrate     int    `yaml:"videobitrate"`
	AudioBitrate     int    `yaml:"audiobitrate"`
	EnableAudio      bool   `yaml:"enableaudio"`
}

// CaptureSettings configure the V4L2 capture backend.
type CaptureSettings struct {
	FFmpegPath   string        `yaml:"ffmpegpath"`
	DevRoot      string        `yaml:"devroot"`      // usually /dev
	SysfsRoot    string        `yaml:"sysfsroot"`    // usually /sys/class/video4linux
	InputFormat  string        `yaml:"inputformat"`  // v4l2 input format requested from the device
	StartTimeout time.Duration `yaml:"starttimeout"` // how long Initialize waits for the first frame
	VideoCodec   string        `yaml:"videocodec"`
}

// APISettings configure the HTTP API.
type APISettings struct {
	Listen         string         `yaml:"listen"`
	CameraCacheTTL time.Duration  `yaml:"cameracachettl"`
	CORSOrigins    []string       `yaml:"corsorigins"`
	Stream         StreamSettings `yaml:"stream"`
}

// StreamSettings configure websocket frame subscribers.
type StreamSettings struct {
	MaxFPS       float64       `yaml:"maxfps"`
	QueueSize    int           `yaml:"queuesize"`
	WriteTimeout time.Duration `yaml:"writetimeout"`
}

// EventsSettings configure the event bus.
type EventsSettings struct {
	BufferSize  int           `yaml:"buffersize"`
	Workers     int           `yaml:"workers"`
	Dedup       bool          `yaml:"dedup"`
	DedupWindow time.Duration `yaml:"dedupwindow"`
}

// MQTTSettings configure the MQTT event publisher.
type MQTTSettings struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"clientid"`
	Topic          string        `yaml:"topic"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	Retain         bool          `yaml:"retain"`
	ConnectTimeout time.Duration `yaml:"connecttimeout"`
}

// TelemetrySettings configure the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Debug   bool   `yaml:"debug"` // also serve pprof
}

// SentrySettings configure error reporting.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// NewViper returns a viper instance with camerad defaults, config search
// paths and CAMERAD_ environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}
	setDefaultConfig(v)
	configureEnvironmentVariables(v)
	return v
}

// Load reads configFile, or config.yaml from the default paths when
// configFile is empty, into Settings. A missing config.yaml is not an error;
// defaults and environment apply.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		GetLogger().Debug("no config file found, using defaults")
	} else {
		GetLogger().Info("loaded config file", logger.String("path", v.ConfigFileUsed()))
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml in
// order: the working directory, the user config directory and /etc.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "camerad"))
	}
	return append(paths, "/etc/camerad")
}

// RenderYAML renders settings as a config.yaml document.
func RenderYAML(settings *Settings) ([]byte, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}
