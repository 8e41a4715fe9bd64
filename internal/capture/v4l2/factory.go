// Package v4l2 implements the camera capture collaborators for Linux V4L2
// devices. Frames are acquired by an ffmpeg child process that copies the
// device's MJPEG stream to a pipe; recordings are encoded by a second ffmpeg
// fed with those frames.
package v4l2

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/conf"
	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

const componentCapture = "capture"

// Defaults used when Options leave a field empty.
const (
	DefaultFFmpegPath   = "ffmpeg"
	DefaultDevRoot      = "/dev"
	DefaultSysfsRoot    = "/sys/class/video4linux"
	DefaultInputFormat  = "mjpeg"
	DefaultVideoCodec   = "libx264"
	DefaultStartTimeout = 10 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

func getLogger() logger.Logger {
	return logger.Global().Module("capture")
}

// Options configure controllers built by a Factory.
type Options struct {
	FFmpegPath   string
	InputFormat  string
	VideoCodec   string
	StartTimeout time.Duration // first frame deadline for StartPreview
	StopTimeout  time.Duration
	MaxFrameSize int
}

// OptionsFromSettings converts the capture section of the configuration.
func OptionsFromSettings(s *conf.CaptureSettings) Options {
	return Options{
		FFmpegPath:   s.FFmpegPath,
		InputFormat:  s.InputFormat,
		VideoCodec:   s.VideoCodec,
		StartTimeout: s.StartTimeout,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = DefaultFFmpegPath
	}
	if o.InputFormat == "" {
		o.InputFormat = DefaultInputFormat
	}
	if o.VideoCodec == "" {
		o.VideoCodec = DefaultVideoCodec
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	return o
}

// Factory builds one Controller per camera session.
type Factory struct {
	opts Options
}

// NewFactory returns a factory using opts.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

// ValidateFFmpeg resolves the configured ffmpeg binary.
func (f *Factory) ValidateFFmpeg() (string, error) {
	path, err := exec.LookPath(f.opts.FFmpegPath)
	if err != nil {
		return "", errors.New(fmt.Errorf("ffmpeg not found: %w", err)).
			Component(componentCapture).
			Category(errors.CategoryConfiguration).
			Context("ffmpeg_path", f.opts.FFmpegPath).
			Build()
	}
	return path, nil
}

// NewController implements camera.CaptureFactory.
func (f *Factory) NewController(deviceID string, settings camera.MediaSettings, listener camera.CaptureListener) (camera.CaptureController, error) {
	ffmpeg, err := f.ValidateFFmpeg()
	if err != nil {
		return nil, err
	}
	opts := f.opts
	opts.FFmpegPath = ffmpeg
	return newController(deviceID, settings, listener, opts), nil
}

// captureArgs builds the ffmpeg arguments that copy MJPEG frames from device
// to stdout. Devices that cannot deliver MJPEG are transcoded.
func captureArgs(device string, settings camera.MediaSettings, opts Options) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-input_format", opts.InputFormat,
	}
	if size := settings.ResolutionPreset.Dimensions(); size.Width > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", size.Width, size.Height))
	}
	if settings.FramesPerSecond > 0 {
		args = append(args, "-framerate", strconv.Itoa(settings.FramesPerSecond))
	}
	args = append(args, "-i", device)

	if opts.InputFormat == "mjpeg" {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", "mjpeg", "-q:v", "3")
	}
	return append(args, "-f", "image2pipe", "pipe:1")
}

// encoderArgs builds the ffmpeg arguments that encode MJPEG frames read from
// stdin into an mp4 file at path.
func encoderArgs(path string, settings camera.MediaSettings, opts Options) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
	}
	if settings.FramesPerSecond > 0 {
		args = append(args, "-framerate", strconv.Itoa(settings.FramesPerSecond))
	}
	args = append(args,
		"-i", "pipe:0",
		"-c:v", opts.VideoCodec,
		"-pix_fmt", "yuv420p",
	)
	if opts.VideoCodec == "libx264" {
		args = append(args, "-preset", "veryfast")
	}
	if settings.VideoBitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(settings.VideoBitrate))
	}
	return append(args, "-movflags", "+faststart", "-y", path)
}

var (
	_ camera.CaptureFactory    = (*Factory)(nil)
	_ camera.CaptureController = (*Controller)(nil)
	_ camera.DeviceEnumerator  = (*Enumerator)(nil)
)
