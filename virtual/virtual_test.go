package virtual

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencollab/capture-go"
)

func newCamera() (*Device, *capture.VideoFormat, *capture.VideoFormat) {
	slow := &capture.VideoFormat{Pixel: "YUYV", Width: 640, Height: 480, Ranges: []capture.FrameRateRange{
		capture.NewFrameRateRange(capture.FrameDuration(30), capture.FrameDuration(5)),
	}}
	fast := &capture.VideoFormat{Pixel: "MJPG", Width: 1280, Height: 720, Ranges: []capture.FrameRateRange{
		capture.DiscreteFrameRate(capture.FrameDuration(60)),
	}}
	return New("Virtual", slow, fast), slow, fast
}

func TestNew(t *testing.T) {
	d, slow, _ := newCamera()
	assert.Len(t, d.ID(), 36)
	assert.Equal(t, "Virtual", d.Name())
	assert.Equal(t, capture.Format(slow), d.ActiveFormat())
	assert.Equal(t, capture.FrameDuration(30), d.ActiveMinFrameDuration())
	assert.Equal(t, capture.FrameDuration(5), d.ActiveMaxFrameDuration())

	d2, _, _ := newCamera()
	assert.NotEqual(t, d.ID(), d2.ID())

	empty := NewWithID("x", "none")
	assert.Nil(t, empty.ActiveFormat())
	assert.False(t, empty.ActiveMinFrameDuration().Valid())
}

func TestSettersRequireLock(t *testing.T) {
	d, _, fast := newCamera()

	assert.ErrorIs(t, d.SetActiveFormat(fast), capture.ErrNotLocked)
	assert.ErrorIs(t, d.SetActiveMinFrameDuration(capture.FrameDuration(10)), capture.ErrNotLocked)
	assert.ErrorIs(t, d.SetActiveMaxFrameDuration(capture.FrameDuration(10)), capture.ErrNotLocked)
	assert.Equal(t, 0, d.Writes())

	require.NoError(t, d.LockForConfiguration())
	require.NoError(t, d.SetActiveFormat(fast))
	assert.Equal(t, capture.FrameDuration(60), d.ActiveMinFrameDuration())
	assert.Equal(t, capture.FrameDuration(60), d.ActiveMaxFrameDuration())
	assert.ErrorIs(t, d.SetActiveMinFrameDuration(capture.FrameDuration(30)), capture.ErrDurationOutOfRange)
	d.UnlockForConfiguration()
	assert.Equal(t, 1, d.Writes())

	// Unlocking twice is harmless.
	d.UnlockForConfiguration()
	assert.False(t, d.Locked())
}

func TestSetActiveFormatForeign(t *testing.T) {
	d, slow, _ := newCamera()
	copied := *slow

	require.NoError(t, d.LockForConfiguration())
	defer d.UnlockForConfiguration()
	assert.ErrorIs(t, d.SetActiveFormat(&copied), capture.ErrUnsupportedFormat)
	assert.ErrorIs(t, d.SetActiveFormat(nil), capture.ErrUnsupportedFormat)
}

func TestLockExclusive(t *testing.T) {
	d, _, _ := newCamera()

	require.NoError(t, d.LockForConfiguration())
	assert.ErrorIs(t, d.LockForConfiguration(), capture.ErrDeviceBusy)
	_, err := d.Acquire()
	assert.ErrorIs(t, err, capture.ErrDeviceBusy)
	d.UnlockForConfiguration()

	release, err := d.Acquire()
	require.NoError(t, err)
	assert.ErrorIs(t, d.LockForConfiguration(), capture.ErrDeviceBusy)
	assert.False(t, d.Locked())
	release()
	release()

	require.NoError(t, d.LockForConfiguration())
	d.UnlockForConfiguration()
}
