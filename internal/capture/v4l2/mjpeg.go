package v4l2

import (
	"bytes"
	"image/jpeg"

	"github.com/tphakala/camerad/internal/camera"
)

// JPEG start and end of image markers.
var (
	markerSOI = []byte{0xFF, 0xD8}
	markerEOI = []byte{0xFF, 0xD9}
)

// DefaultMaxFrameSize bounds the bytes buffered while looking for an end of
// image marker. A 4K MJPEG frame at high quality stays well below this.
const DefaultMaxFrameSize = 8 << 20

// nextFrame finds the first complete JPEG image in data. It returns the frame
// bounds, or ok=false with skip set to the number of leading bytes that can be
// discarded because they cannot start a frame.
func nextFrame(data []byte) (start, end int, skip int, ok bool) {
	start = bytes.Index(data, markerSOI)
	if start < 0 {
		// Keep a trailing 0xFF, it may be the first half of a marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return 0, 0, n - 1, false
		}
		return 0, 0, len(data), false
	}
	eoi := bytes.Index(data[start+len(markerSOI):], markerEOI)
	if eoi < 0 {
		return 0, 0, start, false
	}
	end = start + len(markerSOI) + eoi + len(markerEOI)
	return start, end, 0, true
}

// frameSplitter is the stdout of the capture process. It cuts the
// image2pipe byte stream into individual JPEG frames and hands each one,
// as a fresh slice, to emit.
type frameSplitter struct {
	buf     []byte
	max     int
	emit    func(frame []byte)
	frames  uint64
	dropped uint64
}

func newFrameSplitter(maxFrameSize int, emit func([]byte)) *frameSplitter {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &frameSplitter{max: maxFrameSize, emit: emit}
}

// Write implements io.Writer. It never fails; oversized garbage is dropped.
func (s *frameSplitter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	for {
		start, end, skip, ok := nextFrame(s.buf)
		if !ok {
			s.buf = s.buf[skip:]
			break
		}
		frame := make([]byte, end-start)
		copy(frame, s.buf[start:end])
		s.buf = s.buf[end:]
		s.frames++
		s.emit(frame)
	}

	if len(s.buf) > s.max {
		s.buf = s.buf[:0]
		s.dropped++
	}
	// Compact so the backing array does not grow without bound.
	if cap(s.buf) > 2*s.max {
		s.buf = append([]byte(nil), s.buf...)
	}
	return len(p), nil
}

// frameSize decodes the dimensions from a JPEG header.
func frameSize(frame []byte) (camera.Size, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return camera.Size{}, err
	}
	return camera.Size{Width: cfg.Width, Height: cfg.Height}, nil
}
