package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tphakala/camerad/internal/errors"
)

const (
	pictureExtension = "jpeg"
	videoExtension   = "mp4"
)

// CapturePaths builds output file names for pictures and videos.
type CapturePaths struct {
	PicturesDir string
	VideosDir   string
}

// PicturePath returns <PicturesDir>/PhotoCapture_<timestamp>.jpeg, creating
// the directory when needed.
func (p CapturePaths) PicturePath(now time.Time) (string, error) {
	path, err := capturePath(p.PicturesDir, "PhotoCapture_", now, pictureExtension)
	if err != nil {
		return "", pathError("failed to get capture path for picture", OpTakePicture, err)
	}
	return path, nil
}

// VideoPath returns <VideosDir>/VideoCapture_<timestamp>.mp4, creating the
// directory when needed.
func (p CapturePaths) VideoPath(now time.Time) (string, error) {
	path, err := capturePath(p.VideosDir, "VideoCapture_", now, videoExtension)
	if err != nil {
		return "", pathError("failed to get path for video capture", OpStartRecord, err)
	}
	return path, nil
}

// captureTimestamp renders local time as YYYY_MMDD_HHMMSS_ followed by the
// unpadded millisecond.
func captureTimestamp(now time.Time) string {
	return now.Format("2006_0102_150405_") + strconv.Itoa(now.Nanosecond()/int(time.Millisecond))
}

func capturePath(dir, prefix string, now time.Time, ext string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("capture directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, prefix+captureTimestamp(now)+"."+ext), nil
}

func pathError(msg string, kind OperationKind, err error) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component(ComponentCamera).
		Category(errors.CategoryFileIO).
		Context("operation", kind.String()).
		Build()
}
