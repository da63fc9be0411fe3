// Package capture configures camera capture devices: selecting the active
// format and the minimum and maximum frame duration.
//
// Devices and formats are interfaces. Concrete devices live in the backend
// packages: v4l2 (Linux kernel devices), gstreamer and ffmpeg (configured in
// software, applied when recording), and virtual (in memory).
package capture

import (
	"fmt"
)

// Format describes one capture capability of a device: a pixel format, frame
// dimensions and the frame rates the device can deliver them at. Formats are
// immutable.
//
// A device's formats are compared by interface equality, so implementations
// should be pointer types that a device hands out from Formats.
type Format interface {
	PixelFormat() string
	Dimensions() (width, height int)
	FrameRateRanges() []FrameRateRange
}

// Device is a camera whose active configuration can be changed.
//
// Setters must be called between LockForConfiguration and
// UnlockForConfiguration, otherwise they return ErrNotLocked.
type Device interface {
	ID() string
	Name() string

	// Formats returns the formats supported by the device.
	Formats() []Format

	// LockForConfiguration acquires exclusive access to the device
	// configuration. It does not block: if another holder has the lock, an
	// error wrapping ErrDeviceBusy is returned.
	LockForConfiguration() error
	UnlockForConfiguration()

	ActiveFormat() Format
	SetActiveFormat(f Format) error

	ActiveMinFrameDuration() Duration
	SetActiveMinFrameDuration(d Duration) error
	ActiveMaxFrameDuration() Duration
	SetActiveMaxFrameDuration(d Duration) error
}

// FrameRateRange is a range of frame rates supported by a format. For a
// discrete rate, the min and max are equal.
type FrameRateRange struct {
	MinFrameRate     float64
	MaxFrameRate     float64
	MinFrameDuration Duration // Duration at MaxFrameRate.
	MaxFrameDuration Duration // Duration at MinFrameRate.
}

// NewFrameRateRange returns the range of frame durations from minDur up to
// and including maxDur. Valid arguments are swapped if given in reverse. A
// range with an invalid duration contains nothing.
func NewFrameRateRange(minDur, maxDur Duration) FrameRateRange {
	if minDur.Valid() && maxDur.Valid() && minDur.Compare(maxDur) > 0 {
		minDur, maxDur = maxDur, minDur
	}
	return FrameRateRange{
		MinFrameRate:     maxDur.FrameRate(),
		MaxFrameRate:     minDur.FrameRate(),
		MinFrameDuration: minDur,
		MaxFrameDuration: maxDur,
	}
}

// DiscreteFrameRate returns a range containing exactly duration d.
func DiscreteFrameRate(d Duration) FrameRateRange {
	return NewFrameRateRange(d, d)
}

// Contains reports whether d lies within the range, inclusive at both ends.
func (r FrameRateRange) Contains(d Duration) bool {
	if !d.Valid() || !r.MinFrameDuration.Valid() || !r.MaxFrameDuration.Valid() {
		return false
	}
	return d.Compare(r.MinFrameDuration) >= 0 && d.Compare(r.MaxFrameDuration) <= 0
}

func (r FrameRateRange) String() string {
	if r.MinFrameDuration.Equal(r.MaxFrameDuration) {
		return fmt.Sprintf("%gfps", r.MaxFrameRate)
	}
	return fmt.Sprintf("%g-%gfps", r.MinFrameRate, r.MaxFrameRate)
}

// VideoFormat is a plain Format, used by the backends in this module.
type VideoFormat struct {
	Pixel  string // Pixel format, e.g. "YUYV", "MJPG", "YUY2".
	Width  int
	Height int
	Ranges []FrameRateRange
}

var _ Format = (*VideoFormat)(nil)

func (f *VideoFormat) PixelFormat() string {
	return f.Pixel
}

func (f *VideoFormat) Dimensions() (int, int) {
	return f.Width, f.Height
}

func (f *VideoFormat) FrameRateRanges() []FrameRateRange {
	return f.Ranges
}

func (f *VideoFormat) String() string {
	return FormatString(f)
}

// FormatString formats f as e.g. "MJPG 1280x720 (30fps 15fps)".
func FormatString(f Format) string {
	w, h := f.Dimensions()
	s := fmt.Sprintf("%s %dx%d", f.PixelFormat(), w, h)
	ranges := f.FrameRateRanges()
	if len(ranges) == 0 {
		return s
	}
	s += " ("
	for i, r := range ranges {
		if i > 0 {
			s += " "
		}
		s += r.String()
	}
	return s + ")"
}

// SupportsDuration reports whether any frame rate range of f contains d.
func SupportsDuration(f Format, d Duration) bool {
	for _, r := range f.FrameRateRanges() {
		if r.Contains(d) {
			return true
		}
	}
	return false
}

// HasFormat reports whether f is one of the formats advertised by dev.
func HasFormat(dev Device, f Format) bool {
	if f == nil {
		return false
	}
	for _, df := range dev.Formats() {
		if df == f {
			return true
		}
	}
	return false
}
