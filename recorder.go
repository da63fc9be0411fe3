package capture

import (
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
)

// Recorder is a source of frames from a configured device.
type Recorder interface {
	// Events returns a channel from which Events can be read, each containing a frame.
	Events() chan Event

	// Close shuts down the recorder. No further Events will be sent.
	Close() error
}

// Event is a single frame (or error) coming from a Recorder.
type Event struct {
	// If set, an error occurred.
	Err error

	// Frame read from recorder. If Err is set, Image is not valid.
	Image image.Image

	// When the frame was picked up.
	Time time.Time
}

// WatchOpts has options for WatchFrames.
type WatchOpts struct {
	Verbose bool

	// File operations that signal a written frame. Zero means fsnotify.Create
	// or fsnotify.Write.
	Op fsnotify.Op

	// Minimum time between frames sent. Frames arriving sooner are removed
	// without decoding. Zero sends every frame.
	Interval time.Duration

	// If both are set, frames of another size are scaled and cropped to
	// Width x Height.
	Width, Height int
}

// FrameWatcher reads JPEG frames that an external recorder process writes to a
// directory, and sends them on its Events channel. Frames are removed after
// reading. When the receiver is busy, frames are dropped.
type FrameWatcher struct {
	opts    WatchOpts
	events  chan Event
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// WatchFrames starts watching dir for frames.
//
// Callers must call Close to clean up.
func WatchFrames(dir string, opts WatchOpts) (*FrameWatcher, error) {
	if opts.Op == 0 {
		opts.Op = fsnotify.Create | fsnotify.Write
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	w := &FrameWatcher{
		opts:    opts,
		events:  make(chan Event, 1),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go w.run()

	if err := watcher.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("registering file change watcher for %s: %v", dir, err)
	}
	return w, nil
}

// Events returns the channel on which frames are sent.
func (w *FrameWatcher) Events() chan Event {
	return w.events
}

func (w *FrameWatcher) logf(format string, args ...interface{}) {
	if w.opts.Verbose {
		log.Printf(format, args...)
	}
}

func (w *FrameWatcher) run() {
	var last time.Time
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&w.opts.Op == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			now := time.Now()
			if w.opts.Interval > 0 && now.Sub(last) < w.opts.Interval*9/10 {
				if err := os.Remove(ev.Name); err != nil {
					w.logf("removing skipped frame %q: %v", ev.Name, err)
				}
				continue
			}
			img, err := readJPEG(ev.Name)
			if err != nil {
				w.logf("%v (may be partially written)", err)
				continue
			}
			if err := os.Remove(ev.Name); err != nil {
				w.logf("removing frame %s: %v", ev.Name, err)
			}
			img = w.fit(img)
			select {
			case w.events <- Event{Image: img, Time: now}:
				last = now
			default:
				w.logf("dropping frame, receiver still busy")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.events <- Event{Err: fmt.Errorf("watching for changes: %v", err), Time: time.Now()}:
			case <-w.done:
				return
			}
		}
	}
}

func (w *FrameWatcher) fit(img image.Image) image.Image {
	if w.opts.Width <= 0 || w.opts.Height <= 0 {
		return img
	}
	size := img.Bounds().Size()
	if size.X == w.opts.Width && size.Y == w.opts.Height {
		return img
	}
	t0 := time.Now()
	r := imaging.Fill(img, w.opts.Width, w.opts.Height, imaging.Center, imaging.Linear)
	w.logf("resized frame from %v to %dx%d in %v", size, w.opts.Width, w.opts.Height, time.Since(t0))
	return r
}

func readJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open written frame %q: %v", path, err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding jpeg %q: %v", path, err)
	}
	return img, nil
}

// Close stops watching. It is safe to call more than once.
func (w *FrameWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
