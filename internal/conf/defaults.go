// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/camerad/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.fileoutput.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.fileoutput.path", logger.DefaultLogPath)
	v.SetDefault("logging.fileoutput.level", logger.DefaultLogLevel)

	v.SetDefault("camera.mailboxsize", 256)
	v.SetDefault("camera.picturesdir", "data/pictures")
	v.SetDefault("camera.videosdir", "data/videos")
	v.SetDefault("camera.requesttimeout", 15*time.Second)
	v.SetDefault("camera.streaming.armwithoutsink", true)
	v.SetDefault("camera.streaming.busypolicy", "reject")
	v.SetDefault("camera.defaults.resolutionpreset", "high")
	v.SetDefault("camera.defaults.fps", 30)
	v.SetDefault("camera.defaults.videobitrate", 2_000_000)
	v.SetDefault("camera.defaults.audiobitrate", 128_000)
	v.SetDefault("camera.defaults.enableaudio", false)

	v.SetDefault("capture.ffmpegpath", "ffmpeg")
	v.SetDefault("capture.devroot", "/dev")
	v.SetDefault("capture.sysfsroot", "/sys/class/video4linux")
	v.SetDefault("capture.inputformat", "mjpeg")
	v.SetDefault("capture.starttimeout", 10*time.Second)
	v.SetDefault("capture.videocodec", "libx264")

	v.SetDefault("api.listen", ":8090")
	v.SetDefault("api.cameracachettl", 30*time.Second)
	v.SetDefault("api.corsorigins", []string{})
	v.SetDefault("api.stream.maxfps", 15.0)
	v.SetDefault("api.stream.queuesize", 8)
	v.SetDefault("api.stream.writetimeout", 5*time.Second)

	v.SetDefault("events.buffersize", 1000)
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.dedup", true)
	v.SetDefault("events.dedupwindow", 30*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "camerad")
	v.SetDefault("mqtt.topic", "camerad/events")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.connecttimeout", 10*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "127.0.0.1:9090")
	v.SetDefault("telemetry.debug", false)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
