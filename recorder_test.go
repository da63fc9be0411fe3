package capture_test

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencollab/capture-go"
)

// writeFrame writes a jpeg under a temporary name and renames it, so the
// watcher never sees a partial file.
func writeFrame(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	tmp := filepath.Join(dir, name+".tmp")
	f, err := os.Create(tmp)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func receive(t *testing.T, w *capture.FrameWatcher) capture.Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for frame")
	}
	return capture.Event{}
}

func TestFrameWatcher(t *testing.T) {
	dir, err := capture.TempDir()
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	w, err := capture.WatchFrames(dir, capture.WatchOpts{Width: 32, Height: 24})
	require.NoError(t, err)
	defer w.Close()

	// Not a frame, ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	writeFrame(t, dir, "frame00001.jpg", 64, 64)
	ev := receive(t, w)
	require.NoError(t, ev.Err)
	assert.Equal(t, image.Pt(32, 24), ev.Image.Bounds().Size())
	assert.False(t, ev.Time.IsZero())

	// Frames are removed after reading.
	_, err = os.Stat(filepath.Join(dir, "frame00001.jpg"))
	assert.True(t, os.IsNotExist(err))

	writeFrame(t, dir, "frame00002.jpg", 32, 24)
	ev = receive(t, w)
	require.NoError(t, ev.Err)
	assert.Equal(t, image.Pt(32, 24), ev.Image.Bounds().Size())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatchFramesMissingDir(t *testing.T) {
	_, err := capture.WatchFrames(filepath.Join(t.TempDir(), "missing"), capture.WatchOpts{})
	assert.Error(t, err)
}
