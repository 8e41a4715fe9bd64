package v4l2

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

// Enumerator lists V4L2 capture nodes. Device ids are device node paths such
// as /dev/video0; display names come from sysfs.
type Enumerator struct {
	devRoot   string
	sysfsRoot string
}

// NewEnumerator returns an enumerator scanning devRoot for video nodes and
// reading their names from sysfsRoot.
func NewEnumerator(devRoot, sysfsRoot string) *Enumerator {
	if devRoot == "" {
		devRoot = DefaultDevRoot
	}
	if sysfsRoot == "" {
		sysfsRoot = DefaultSysfsRoot
	}
	return &Enumerator{devRoot: devRoot, sysfsRoot: sysfsRoot}
}

// Devices implements camera.DeviceEnumerator. Metadata nodes, which share a
// physical camera with a capture node, are skipped.
func (e *Enumerator) Devices(ctx context.Context) ([]camera.DeviceInfo, error) {
	matches, err := filepath.Glob(filepath.Join(e.devRoot, "video*"))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to scan for video devices: %w", err)).
			Component(componentCapture).
			Category(errors.CategoryFileIO).
			Context("dev_root", e.devRoot).
			Build()
	}

	type node struct {
		index int
		path  string
	}
	nodes := make([]node, 0, len(matches))
	for _, path := range matches {
		n, ok := videoIndex(filepath.Base(path))
		if !ok {
			continue
		}
		nodes = append(nodes, node{index: n, path: path})
	}
	slices.SortFunc(nodes, func(a, b node) int { return a.index - b.index })

	devices := make([]camera.DeviceInfo, 0, len(nodes))
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := filepath.Base(n.path)
		if !e.isCaptureNode(base) {
			getLogger().Debug("skipping non-capture video node", logger.String("device", n.path))
			continue
		}
		devices = append(devices, camera.DeviceInfo{
			DisplayName: e.displayName(base, n.index),
			DeviceID:    n.path,
		})
	}
	return devices, nil
}

// isCaptureNode reads <sysfs>/videoN/index. Index 0 is the capture node of a
// UVC camera; higher indices are metadata. Missing sysfs data counts as a
// capture node.
func (e *Enumerator) isCaptureNode(base string) bool {
	data, err := os.ReadFile(filepath.Join(e.sysfsRoot, base, "index"))
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(data)) == "0"
}

func (e *Enumerator) displayName(base string, index int) string {
	data, err := os.ReadFile(filepath.Join(e.sysfsRoot, base, "name"))
	if err == nil {
		// '<' and '>' would break the "Name <device>" camera name format.
		name := strings.Map(func(r rune) rune {
			if r == '<' || r == '>' {
				return -1
			}
			return r
		}, strings.TrimSpace(string(data)))
		if name != "" {
			return name
		}
	}
	return "Video Device " + strconv.Itoa(index)
}

// videoIndex parses N from "videoN".
func videoIndex(base string) (int, bool) {
	digits, ok := strings.CutPrefix(base, "video")
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
