package camera

import (
	"context"
	"fmt"
	"strings"

	"github.com/tphakala/camerad/internal/errors"
)

// UniqueDeviceName formats the camera name clients pass to Create:
// "Display Name <device_id>".
func UniqueDeviceName(info DeviceInfo) string {
	return info.DisplayName + " <" + info.DeviceID + ">"
}

// ParseDeviceName extracts the device id from a name built by
// UniqueDeviceName.
func ParseDeviceName(name string) (DeviceInfo, error) {
	open := strings.LastIndex(name, " <")
	if open < 0 || !strings.HasSuffix(name, ">") {
		return DeviceInfo{}, invalidNameError(name)
	}
	deviceID := name[open+2 : len(name)-1]
	if deviceID == "" || strings.ContainsAny(deviceID, "<>") {
		return DeviceInfo{}, invalidNameError(name)
	}
	return DeviceInfo{DisplayName: name[:open], DeviceID: deviceID}, nil
}

func invalidNameError(name string) error {
	return errors.New(fmt.Errorf("%w %q: expected \"Display Name <device_id>\"", ErrInvalidCameraName, name)).
		Component(ComponentCamera).
		Category(errors.CategoryValidation).
		Context("camera_name", name).
		Build()
}

// availableCameras lists unique camera names from enumerator.
func availableCameras(ctx context.Context, enumerator DeviceEnumerator) ([]string, error) {
	if enumerator == nil {
		return []string{}, nil
	}
	devices, err := enumerator.Devices(ctx)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to get available cameras: %w", err)).
			Component(ComponentCamera).
			Category(errors.CategoryCapture).
			Build()
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, UniqueDeviceName(d))
	}
	return names, nil
}
