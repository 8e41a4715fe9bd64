package serve

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/conf"
)

func TestCameraConfig(t *testing.T) {
	settings := &conf.Settings{}
	settings.Camera.MailboxSize = 32
	settings.Camera.PicturesDir = "/srv/pictures"
	settings.Camera.VideosDir = "/srv/videos"
	settings.Camera.Streaming.BusyPolicy = "Transfer"
	settings.Camera.Streaming.ArmWithoutSink = false
	settings.Camera.Defaults = conf.MediaDefaults{
		ResolutionPreset: "medium",
		FPS:              15,
		EnableAudio:      true,
	}

	cfg, err := CameraConfig(settings)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.MailboxSize)
	assert.Equal(t, camera.CapturePaths{PicturesDir: "/srv/pictures", VideosDir: "/srv/videos"}, cfg.Paths)
	assert.Equal(t, camera.StreamingPolicy{ArmWithoutSink: false, Busy: camera.BusyTransfer}, cfg.Streaming)
	assert.Equal(t, camera.ResolutionMedium, cfg.DefaultSettings.ResolutionPreset)
	assert.Equal(t, 15, cfg.DefaultSettings.FramesPerSecond)
	assert.True(t, cfg.DefaultSettings.EnableAudio)
	assert.Equal(t, camera.DefaultConfig().DefaultSettings.VideoBitrate, cfg.DefaultSettings.VideoBitrate,
		"unset defaults keep the coordinator defaults")
}

func TestCameraConfigRejectsUnknownBusyPolicy(t *testing.T) {
	settings := &conf.Settings{}
	settings.Camera.Streaming.BusyPolicy = "steal"

	_, err := CameraConfig(settings)
	require.Error(t, err)
}

func TestEventBusConfig(t *testing.T) {
	cfg := EventBusConfig(&conf.EventsSettings{
		BufferSize:  64,
		Workers:     4,
		Dedup:       true,
		DedupWindow: time.Minute,
	})
	assert.Equal(t, 64, cfg.BufferSize)
	assert.Equal(t, 4, cfg.Workers)
	require.NotNil(t, cfg.Deduplication)
	assert.True(t, cfg.Deduplication.Enabled)
	assert.Equal(t, time.Minute, cfg.Deduplication.TTL)

	cfg = EventBusConfig(&conf.EventsSettings{})
	assert.False(t, cfg.Deduplication.Enabled)
	assert.Positive(t, cfg.BufferSize)
}

func TestFlagsOverrideConfig(t *testing.T) {
	v := viper.New()
	v.SetDefault("api.listen", ":8090")

	cmd := &cobra.Command{Use: "serve"}
	require.NoError(t, setupFlags(cmd, v))
	require.NoError(t, cmd.Flags().Parse([]string{"--listen", "127.0.0.1:9000", "--mqtt"}))

	assert.Equal(t, "127.0.0.1:9000", v.GetString("api.listen"))
	assert.True(t, v.GetBool("mqtt.enabled"))
	assert.False(t, v.GetBool("telemetry.enabled"), "unset flags do not override")
}
