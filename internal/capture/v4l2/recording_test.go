package v4l2

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/camera/cameratest"
	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

// fakeFFmpeg writes an ffmpeg stand-in. Invoked as an encoder (input
// pipe:0) it copies stdin to the output path and exits with encoderExit;
// otherwise it writes frame to stdout every 20ms until interrupted.
func fakeFFmpeg(t *testing.T, frame []byte, encoderExit int) string {
	t.Helper()
	requireBinary(t, "sh")

	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.jpeg")
	require.NoError(t, os.WriteFile(framePath, frame, 0o600))

	script := fmt.Sprintf(`#!/bin/sh
trap 'exit 0' INT TERM
for arg in "$@"; do last=$arg; done
case " $* " in
*" pipe:0 "*)
	cat > "$last"
	exit %d ;;
esac
while :; do
	cat '%s'
	sleep 0.02
done
`, encoderExit, framePath)
	path := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700)) //nolint:gosec // test executable
	return path
}

func recordingController(t *testing.T, ffmpeg string) (*Controller, *recordingListener) {
	t.Helper()
	c, l := previewingController(t)
	c.opts.FFmpegPath = ffmpeg
	c.opts.StopTimeout = 2 * time.Second
	return c, l
}

func TestRecordingResumesPausedPreview(t *testing.T) {
	t.Parallel()
	frame := testJPEG(t, 8, 8)
	c, l := recordingController(t, fakeFFmpeg(t, frame, 0))
	out := filepath.Join(t.TempDir(), "VideoCapture_test.mp4")

	require.NoError(t, c.StartImageStream())
	assert.Equal(t, camera.OpStartImageStream, l.next(t).kind)
	require.NoError(t, c.PausePreview())
	assert.Equal(t, camera.OpPausePreview, l.next(t).kind)

	require.NoError(t, c.StartRecord(out))
	got := l.next(t)
	assert.Equal(t, camera.OpStartRecord, got.kind)
	require.NoError(t, got.comp.Err)

	c.handleFrame(frame)
	assert.Equal(t, 1, l.frameCount(), "recording delivers frames again")

	require.NoError(t, c.StopRecord())
	got = l.next(t)
	assert.Equal(t, camera.OpStopRecord, got.kind)
	require.NoError(t, got.comp.Err)
	assert.Equal(t, out, got.comp.Path)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, frame, data, "the encoder received the frame")

	c.handleFrame(frame)
	assert.Equal(t, 2, l.frameCount(), "preview keeps running after the recording")
}

func TestStopRecordEncoderFailureReleasesEncoder(t *testing.T) {
	t.Parallel()
	frame := testJPEG(t, 8, 8)
	c, l := recordingController(t, fakeFFmpeg(t, frame, 1))
	dir := t.TempDir()

	require.NoError(t, c.StartRecord(filepath.Join(dir, "first.mp4")))
	assert.Equal(t, camera.OpStartRecord, l.next(t).kind)
	c.handleFrame(frame)

	require.NoError(t, c.StopRecord())
	got := l.next(t)
	assert.Equal(t, camera.OpStopRecord, got.kind)
	require.Error(t, got.comp.Err)
	assert.True(t, errors.IsCategory(got.comp.Err, errors.CategoryRecording))
	assert.True(t, got.comp.Stopped, "the failed encoder no longer records")

	assert.Error(t, c.StopRecord(), "nothing left to stop")
	require.NoError(t, c.StartRecord(filepath.Join(dir, "second.mp4")))
	assert.Equal(t, camera.OpStartRecord, l.next(t).kind)
}

func TestCoordinatorRecordFromPausedKeepsPreviewRunning(t *testing.T) {
	t.Parallel()
	frame := testJPEG(t, 16, 12)
	factory := NewFactory(Options{
		FFmpegPath:   fakeFFmpeg(t, frame, 0),
		StartTimeout: 5 * time.Second,
		StopTimeout:  2 * time.Second,
	})

	root := t.TempDir()
	cfg := camera.DefaultConfig()
	cfg.Paths = camera.CapturePaths{
		PicturesDir: filepath.Join(root, "pictures"),
		VideosDir:   filepath.Join(root, "videos"),
	}
	coord := camera.NewCoordinator(factory, cfg,
		camera.WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))

	runCtx, cancel := context.WithCancel(context.Background())
	go func() { _ = coord.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-coord.Done():
		case <-time.After(5 * time.Second):
			t.Error("coordinator did not stop")
		}
	})

	ctx := context.Background()
	state := func() string {
		list, err := coord.Sessions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		return list[0].State
	}

	id, err := coord.Create(ctx, "Null </dev/null>", camera.MediaSettings{})
	require.NoError(t, err)
	size, err := coord.Initialize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, camera.Size{Width: 16, Height: 12}, size)

	sink := cameratest.NewSink("ws-1")
	require.NoError(t, coord.AttachSink(ctx, sink))
	require.NoError(t, coord.StartImageStream(ctx, id))
	require.Eventually(t, func() bool { return len(sink.Frames()) > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, coord.PausePreview(ctx, id))
	assert.Equal(t, "paused", state())

	require.NoError(t, coord.StartVideoRecording(ctx, id))
	assert.Equal(t, "recording", state())
	seen := len(sink.Frames())
	require.Eventually(t, func() bool { return len(sink.Frames()) > seen }, 5*time.Second, 10*time.Millisecond,
		"frames flow while recording")

	path, err := coord.StopVideoRecording(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "previewing", state())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size(), "the encoder received frames")

	seen = len(sink.Frames())
	require.Eventually(t, func() bool { return len(sink.Frames()) > seen }, 5*time.Second, 10*time.Millisecond,
		"frames flow after the recording stops")

	require.NoError(t, coord.PausePreview(ctx, id), "the preview can be paused again")
	require.NoError(t, coord.Dispose(ctx, id))
}
