package capture_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencollab/capture-go"
	"github.com/opencollab/capture-go/virtual"
)

func TestHighestFrameRate(t *testing.T) {
	dev, _, hd := testCamera()

	f, r, err := capture.HighestFrameRate(dev)
	require.NoError(t, err)
	assert.Equal(t, capture.Format(hd), f)
	assert.Equal(t, float64(60), r.MaxFrameRate)

	f, d, err := capture.ConfigureHighestFrameRate(dev)
	require.NoError(t, err)
	assert.Equal(t, capture.Format(hd), f)
	assert.Equal(t, capture.FrameDuration(60), d)
	assert.Equal(t, capture.Format(hd), dev.ActiveFormat())
	assert.Equal(t, d, dev.ActiveMinFrameDuration())
	assert.Equal(t, d, dev.ActiveMaxFrameDuration())
}

func TestHighestFrameRateTie(t *testing.T) {
	a := &capture.VideoFormat{Pixel: "YUYV", Width: 640, Height: 480, Ranges: []capture.FrameRateRange{capture.NewFrameRateRange(capture.FrameDuration(30), capture.FrameDuration(5))}}
	b := &capture.VideoFormat{Pixel: "MJPG", Width: 640, Height: 480, Ranges: []capture.FrameRateRange{capture.DiscreteFrameRate(capture.FrameDuration(30))}}
	dev := virtual.New("tie", a, b)

	f, _, err := capture.HighestFrameRate(dev)
	require.NoError(t, err)
	assert.Equal(t, capture.Format(a), f, "first format should win a tie")
}

func TestHighestFrameRateNoFormats(t *testing.T) {
	_, _, err := capture.HighestFrameRate(virtual.New("empty"))
	assert.ErrorIs(t, err, capture.ErrNoFormats)

	_, _, err = capture.ConfigureHighestFrameRate(nil)
	assert.ErrorIs(t, err, capture.ErrNoDevice)
}

func TestThrottle(t *testing.T) {
	dev, vga, _ := testCamera()
	require.NoError(t, capture.ConfigureDevice(dev, vga, capture.FrameDuration(30)))

	for _, level := range []capture.PressureLevel{capture.PressureNominal, capture.PressureFair, capture.PressureShutdown} {
		changed, err := capture.Throttle(dev, level)
		require.NoError(t, err)
		assert.False(t, changed, "level %s", level)
		assert.Equal(t, capture.FrameDuration(30), dev.ActiveMinFrameDuration())
	}

	for _, level := range []capture.PressureLevel{capture.PressureSerious, capture.PressureCritical} {
		changed, err := capture.Throttle(dev, level)
		require.NoError(t, err)
		assert.True(t, changed, "level %s", level)
		assert.Equal(t, capture.Format(vga), dev.ActiveFormat())
		assert.Equal(t, capture.Duration{Value: 1, Timescale: 20}, dev.ActiveMinFrameDuration())
		assert.Equal(t, capture.Duration{Value: 1, Timescale: 15}, dev.ActiveMaxFrameDuration())
	}
	assert.False(t, dev.Locked())
}

func TestThrottledFrameDurations(t *testing.T) {
	minDur, maxDur := capture.ThrottledFrameDurations()
	assert.Equal(t, float64(20), minDur.FrameRate())
	assert.Equal(t, float64(15), maxDur.FrameRate())
}

func TestThrottleUnsupported(t *testing.T) {
	dev, _, hd := testCamera()
	require.NoError(t, capture.ConfigureDevice(dev, hd, capture.FrameDuration(60)))

	changed, err := capture.Throttle(dev, capture.PressureSerious)
	assert.False(t, changed)
	assert.ErrorIs(t, err, capture.ErrDurationOutOfRange)
	assert.Equal(t, capture.FrameDuration(60), dev.ActiveMinFrameDuration())
}

func TestParsePressureLevel(t *testing.T) {
	for l := capture.PressureNominal; l <= capture.PressureShutdown; l++ {
		got, err := capture.ParsePressureLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	got, err := capture.ParsePressureLevel(" Serious ")
	require.NoError(t, err)
	assert.Equal(t, capture.PressureSerious, got)

	_, err = capture.ParsePressureLevel("hot")
	assert.Error(t, err)
	assert.Equal(t, "pressure(9)", capture.PressureLevel(9).String())
}
