//go:build !linux

package v4l2

import (
	"github.com/opencollab/capture-go"
)

// ListDevices is not supported on this platform.
func ListDevices(verbose bool) ([]capture.Device, error) {
	return nil, ErrUnsupported
}

// OpenDevice is not supported on this platform.
func OpenDevice(path string) (capture.Device, error) {
	return nil, ErrUnsupported
}
