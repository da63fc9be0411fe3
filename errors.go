package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat means the format is nil or not advertised by the device.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrDurationOutOfRange means the frame duration is outside every frame
	// rate range of the format. Durations are never clamped.
	ErrDurationOutOfRange = errors.New("frame duration out of range")

	// ErrDeviceBusy means the configuration lock is held elsewhere, or the
	// device is streaming and cannot be reconfigured.
	ErrDeviceBusy = errors.New("device busy")

	// ErrInvalidDuration means the duration is not a positive rational.
	ErrInvalidDuration = errors.New("invalid frame duration")

	// ErrNotLocked is returned by device setters called outside a
	// LockForConfiguration/UnlockForConfiguration bracket.
	ErrNotLocked = errors.New("device not locked for configuration")

	// ErrNoDevice means a nil device was passed.
	ErrNoDevice = errors.New("no device")

	// ErrNoFormats means the device advertises no usable formats.
	ErrNoFormats = errors.New("device has no formats")
)

// ConfigError is returned by the configuration functions in this package. Err
// wraps one of the Err* kinds above, so callers test with errors.Is.
type ConfigError struct {
	Op       string // E.g. "configure", "throttle".
	DeviceID string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(op string, dev Device, err error) error {
	ce := &ConfigError{Op: op, Err: err}
	if dev != nil {
		ce.DeviceID = dev.ID()
	}
	return ce
}

func isBusy(err error) bool {
	return errors.Is(err, ErrDeviceBusy)
}
