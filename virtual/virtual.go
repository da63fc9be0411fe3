// Package virtual implements an in-memory capture device.
//
// A virtual Device keeps configuration state and enforces the configuration
// lock like a real device does. It is used for dry runs and tests, and by
// backends that apply configuration only when recording starts.
package virtual

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/opencollab/capture-go"
)

// Device is an in-memory capture device.
type Device struct {
	id      string
	name    string
	formats []capture.Format

	lock sync.Mutex // Configuration lock, held between Lock and Unlock.

	mu     sync.Mutex // Protects fields below.
	locked bool
	inUse  int
	active capture.Format
	minDur capture.Duration
	maxDur capture.Duration
	writes int
}

var _ capture.Device = (*Device)(nil)

// New returns a device with a random ID. The first format, if any, is active
// with its fastest frame rate.
func New(name string, formats ...capture.Format) *Device {
	return NewWithID(uuid.NewString(), name, formats...)
}

// NewWithID is like New with an explicit ID, e.g. a device path.
func NewWithID(id, name string, formats ...capture.Format) *Device {
	d := &Device{
		id:      id,
		name:    name,
		formats: formats,
	}
	if len(formats) > 0 {
		d.active = formats[0]
		if ranges := formats[0].FrameRateRanges(); len(ranges) > 0 {
			d.minDur = ranges[0].MinFrameDuration
			d.maxDur = ranges[0].MaxFrameDuration
		}
	}
	return d
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Formats() []capture.Format {
	return d.formats
}

// LockForConfiguration takes the configuration lock. It fails with
// capture.ErrDeviceBusy if the lock is held, or if the device is in use by a
// recorder.
func (d *Device) LockForConfiguration() error {
	if !d.lock.TryLock() {
		return fmt.Errorf("%w: %s locked for configuration", capture.ErrDeviceBusy, d.id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inUse > 0 {
		d.lock.Unlock()
		return fmt.Errorf("%w: %s is recording", capture.ErrDeviceBusy, d.id)
	}
	d.locked = true
	return nil
}

// UnlockForConfiguration releases the configuration lock. Calling it without
// holding the lock does nothing.
func (d *Device) UnlockForConfiguration() {
	d.mu.Lock()
	wasLocked := d.locked
	d.locked = false
	d.mu.Unlock()
	if wasLocked {
		d.lock.Unlock()
	}
}

// Locked reports whether the configuration lock is held.
func (d *Device) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// Acquire marks the device as in use, e.g. by a running recorder. Until the
// returned release function is called, the configuration cannot be locked.
// Acquire fails if the configuration is locked.
func (d *Device) Acquire() (release func(), err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return nil, fmt.Errorf("%w: %s locked for configuration", capture.ErrDeviceBusy, d.id)
	}
	d.inUse++
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.inUse--
			d.mu.Unlock()
		})
	}, nil
}

func (d *Device) ActiveFormat() capture.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// SetActiveFormat makes f active. As on hardware devices, the frame
// durations are reset to the fastest frame rate of f.
func (d *Device) SetActiveFormat(f capture.Format) error {
	if !capture.HasFormat(d, f) {
		return capture.ErrUnsupportedFormat
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return capture.ErrNotLocked
	}
	d.active = f
	if ranges := f.FrameRateRanges(); len(ranges) > 0 {
		d.minDur = ranges[0].MinFrameDuration
		d.maxDur = ranges[0].MinFrameDuration
	}
	d.writes++
	return nil
}

func (d *Device) ActiveMinFrameDuration() capture.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minDur
}

func (d *Device) SetActiveMinFrameDuration(dur capture.Duration) error {
	return d.setDuration(&d.minDur, dur)
}

func (d *Device) ActiveMaxFrameDuration() capture.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxDur
}

func (d *Device) SetActiveMaxFrameDuration(dur capture.Duration) error {
	return d.setDuration(&d.maxDur, dur)
}

func (d *Device) setDuration(dst *capture.Duration, dur capture.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return capture.ErrNotLocked
	}
	if d.active == nil || !capture.SupportsDuration(d.active, dur) {
		return capture.ErrDurationOutOfRange
	}
	*dst = dur
	d.writes++
	return nil
}

// Writes returns the number of successful setter calls, for tests.
func (d *Device) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}
