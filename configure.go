package capture

import (
	"fmt"
)

// ConfigureDevice makes f the active format of dev and sets both the minimum
// and maximum frame duration to d.
//
// ConfigureDevice takes the configuration lock itself and releases it before
// returning, also on failure. Nothing is written unless f is one of the
// device's formats and d lies in one of f's frame rate ranges. Calling it again
// with the same arguments leaves the device in the same state.
//
// Errors are *ConfigError, wrapping ErrNoDevice, ErrUnsupportedFormat,
// ErrInvalidDuration, ErrDurationOutOfRange, ErrDeviceBusy, or an error from
// the device.
func ConfigureDevice(dev Device, f Format, d Duration) error {
	const op = "configure"
	if err := validate(dev, f, d); err != nil {
		return configError(op, dev, err)
	}
	if err := dev.LockForConfiguration(); err != nil {
		return configError(op, dev, lockError(err))
	}
	defer dev.UnlockForConfiguration()

	if err := apply(dev, f, d, d); err != nil {
		return configError(op, dev, err)
	}
	return nil
}

// ConfigureLocked is ConfigureDevice for callers that already hold the
// configuration lock of dev, e.g. to make more changes in the same bracket.
func ConfigureLocked(dev Device, f Format, d Duration) error {
	const op = "configure"
	if err := validate(dev, f, d); err != nil {
		return configError(op, dev, err)
	}
	if err := apply(dev, f, d, d); err != nil {
		return configError(op, dev, err)
	}
	return nil
}

// ConfigureFrameDurations sets the min and max frame durations of dev, keeping
// its active format. Both durations must lie in the same frame rate range of
// the active format.
func ConfigureFrameDurations(dev Device, minDur, maxDur Duration) error {
	const op = "configure frame durations"
	if dev == nil {
		return configError(op, nil, ErrNoDevice)
	}
	if !minDur.Valid() || !maxDur.Valid() {
		return configError(op, dev, fmt.Errorf("%w: min %s, max %s", ErrInvalidDuration, minDur, maxDur))
	}
	if minDur.Compare(maxDur) > 0 {
		return configError(op, dev, fmt.Errorf("%w: min %s longer than max %s", ErrInvalidDuration, minDur, maxDur))
	}
	if err := dev.LockForConfiguration(); err != nil {
		return configError(op, dev, lockError(err))
	}
	defer dev.UnlockForConfiguration()

	f := dev.ActiveFormat()
	if f == nil {
		return configError(op, dev, fmt.Errorf("%w: no active format", ErrUnsupportedFormat))
	}
	if !rangeContainsBoth(f, minDur, maxDur) {
		return configError(op, dev, fmt.Errorf("%w: %s-%s not supported by %s", ErrDurationOutOfRange, minDur, maxDur, FormatString(f)))
	}
	if err := dev.SetActiveMinFrameDuration(minDur); err != nil {
		return configError(op, dev, fmt.Errorf("setting min frame duration: %w", err))
	}
	if err := dev.SetActiveMaxFrameDuration(maxDur); err != nil {
		return configError(op, dev, fmt.Errorf("setting max frame duration: %w", err))
	}
	return nil
}

func validate(dev Device, f Format, d Duration) error {
	if dev == nil {
		return ErrNoDevice
	}
	if f == nil {
		return fmt.Errorf("%w: nil format", ErrUnsupportedFormat)
	}
	if !HasFormat(dev, f) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, FormatString(f))
	}
	if !d.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}
	if !SupportsDuration(f, d) {
		return fmt.Errorf("%w: %s (%gfps) not supported by %s", ErrDurationOutOfRange, d, d.FrameRate(), FormatString(f))
	}
	return nil
}

// apply writes the format first: on most devices changing the format resets
// the frame durations.
func apply(dev Device, f Format, minDur, maxDur Duration) error {
	if err := dev.SetActiveFormat(f); err != nil {
		return fmt.Errorf("setting active format: %w", err)
	}
	if err := dev.SetActiveMinFrameDuration(minDur); err != nil {
		return fmt.Errorf("setting min frame duration: %w", err)
	}
	if err := dev.SetActiveMaxFrameDuration(maxDur); err != nil {
		return fmt.Errorf("setting max frame duration: %w", err)
	}
	return nil
}

func rangeContainsBoth(f Format, minDur, maxDur Duration) bool {
	for _, r := range f.FrameRateRanges() {
		if r.Contains(minDur) && r.Contains(maxDur) {
			return true
		}
	}
	return false
}

// lockError makes sure a failure to lock is reported as ErrDeviceBusy.
func lockError(err error) error {
	if isBusy(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
}
