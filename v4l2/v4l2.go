// Package v4l2 configures Video4Linux2 capture devices directly through the
// kernel API, without cgo.
//
// Formats are enumerated with VIDIOC_ENUM_FMT, VIDIOC_ENUM_FRAMESIZES and
// VIDIOC_ENUM_FRAMEINTERVALS. The active format is set with VIDIOC_S_FMT and
// the frame duration with VIDIOC_S_PARM. V4L2 has a single frame interval, so
// the minimum frame duration is applied and the maximum is only recorded.
//
// The configuration lock is an exclusive flock on the device node, so two
// processes using this package cannot configure the same device at once.
package v4l2

import (
	"errors"
	"fmt"

	"github.com/opencollab/capture-go"
)

// ErrUnsupported is returned on platforms without V4L2.
var ErrUnsupported = errors.New("v4l2 is only available on linux")

// ErrNotCapture is returned by Open for devices that cannot capture video,
// such as metadata nodes of UVC cameras.
var ErrNotCapture = errors.New("not a video capture device")

// FourCC is a V4L2 pixel format code.
type FourCC uint32

// Common pixel formats.
const (
	PixelFormatYUYV  FourCC = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	PixelFormatMJPEG FourCC = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
	PixelFormatH264  FourCC = 'H' | '2'<<8 | '6'<<16 | '4'<<24
	PixelFormatNV12  FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
)

// ParseFourCC returns the code for a four character string such as "MJPG".
// Shorter strings are padded with spaces, as V4L2 does.
func ParseFourCC(s string) (FourCC, error) {
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("invalid fourcc %q", s)
	}
	var c FourCC
	for i := 0; i < 4; i++ {
		b := byte(' ')
		if i < len(s) {
			b = s[i]
		}
		c |= FourCC(b) << (8 * i)
	}
	return c, nil
}

func (c FourCC) String() string {
	b := []byte{byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)}
	n := len(b)
	for n > 0 && (b[n-1] == ' ' || b[n-1] == 0) {
		n--
	}
	return string(b[:n])
}

// Format is a pixel format at one frame size, with the frame intervals the
// driver reports for it.
type Format struct {
	capture.VideoFormat
	Code        FourCC
	Description string // Driver description, e.g. "Motion-JPEG".
}

func (f *Format) String() string {
	return capture.FormatString(f)
}

// fract is struct v4l2_fract.
type fract struct {
	numerator   uint32
	denominator uint32
}

func fractDuration(f fract) capture.Duration {
	return capture.Duration{Value: int64(f.numerator), Timescale: int32(f.denominator)}
}

func durationFract(d capture.Duration) (fract, error) {
	if !d.Valid() || d.Value > 1<<32-1 {
		return fract{}, fmt.Errorf("%w: %s", capture.ErrInvalidDuration, d)
	}
	return fract{numerator: uint32(d.Value), denominator: uint32(d.Timescale)}, nil
}

// intervalRange converts a discrete, stepwise or continuous frame interval
// report to a frame rate range.
func intervalRange(discrete bool, first, last fract) (capture.FrameRateRange, bool) {
	lo := fractDuration(first)
	if discrete {
		if !lo.Valid() {
			return capture.FrameRateRange{}, false
		}
		return capture.DiscreteFrameRate(lo), true
	}
	hi := fractDuration(last)
	if !lo.Valid() || !hi.Valid() {
		return capture.FrameRateRange{}, false
	}
	return capture.NewFrameRateRange(lo, hi), true
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
