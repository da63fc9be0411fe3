// Package gstreamer lists capture devices and their formats with the gstreamer
// tools, and records from a configured device with gst-launch-1.0.
//
// Devices are configured in software: the active format and frame duration
// become the caps of the capture pipeline when a Recorder starts.
package gstreamer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opencollab/capture-go"
	"github.com/opencollab/capture-go/virtual"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps")

// Format is one caps structure of a device, e.g. "video/x-raw, format=YUY2,
// width=640, height=480, framerate={ 30/1, 15/1 }".
type Format struct {
	capture.VideoFormat
	MediaType string // "video/x-raw" or "image/jpeg".
}

func (f *Format) String() string {
	return capture.FormatString(f)
}

// Caps returns the gstreamer caps for f at frame duration d.
func (f *Format) Caps(d capture.Duration) string {
	s := f.MediaType
	if f.MediaType == "video/x-raw" && f.Pixel != "" {
		s += ",format=" + f.Pixel
	}
	s += fmt.Sprintf(",width=%d,height=%d", f.Width, f.Height)
	if d.Valid() {
		// Frame rate is the inverse of the frame duration.
		s += fmt.Sprintf(",framerate=%d/%d", d.Timescale, d.Value)
	}
	return s
}

// Device is a video source found by gst-device-monitor-1.0.
type Device struct {
	*virtual.Device
	DeviceClass string
}

var _ capture.Device = (*Device)(nil)

// ListDevices returns the video sources that can be used for recording, with
// their formats ordered by closeness to 640x480.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]*Device, error) {
	cmd := exec.Command("gst-device-monitor-1.0")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %v", err)
	}
	return parseDevices(string(buf))
}

type device struct {
	ID          string
	Name        string
	DeviceClass string
	RawCaps     []string
	inCapMode   bool
}

func parseDevices(s string) ([]*Device, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(strings.NewReader(s))
	for b.Scan() {
		s := strings.TrimSpace(b.Text())
		if s == "" {
			continue
		}
		if s == "Device found:" {
			if d != nil {
				r = append(r, *d)
			}
			d = &device{}
			continue
		}

		if d == nil {
			continue
		}

		if strings.HasPrefix(s, "name  :") {
			d.Name = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			continue
		}
		if strings.HasPrefix(s, "class :") {
			d.DeviceClass = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			continue
		}
		if strings.HasPrefix(s, "caps  :") {
			d.RawCaps = append(d.RawCaps, strings.TrimSpace(strings.SplitN(s, ":", 2)[1]))
			d.inCapMode = true
			continue
		}
		if strings.HasPrefix(s, "properties:") {
			d.inCapMode = false
			continue
		}
		if d.inCapMode {
			d.RawCaps = append(d.RawCaps, s)
		}
		if strings.HasPrefix(s, "device.path =") {
			d.ID = strings.TrimSpace(strings.SplitN(s, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	var devs []*Device
	for _, d := range r {
		if d.DeviceClass != "Video/Source" || d.ID == "" {
			continue
		}
		var formats []*Format
		for _, rc := range d.RawCaps {
			if f, ok := parseCaps(rc); ok {
				formats = append(formats, f)
			}
		}
		if len(formats) == 0 {
			continue
		}

		distance := func(f *Format) int {
			return abs(f.Width-640)*abs(f.Height-480) + abs(f.Width-640) + abs(f.Height-480)
		}
		sort.SliceStable(formats, func(i, j int) bool {
			return distance(formats[i]) < distance(formats[j])
		})

		cfs := make([]capture.Format, len(formats))
		for i, f := range formats {
			cfs[i] = f
		}
		devs = append(devs, &Device{
			Device:      virtual.NewWithID(d.ID, d.Name, cfs...),
			DeviceClass: d.DeviceClass,
		})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices found")
	}
	return devs, nil
}

var (
	widthRegexp     = regexp.MustCompile(`width=(?:\(int\))?([0-9]+)(?:[^0-9]|$)`)
	heightRegexp    = regexp.MustCompile(`height=(?:\(int\))?([0-9]+)(?:[^0-9]|$)`)
	formatRegexp    = regexp.MustCompile(`format=(?:\(string\))?([A-Za-z0-9_]+)`)
	framerateRegexp = regexp.MustCompile(`framerate=(?:\(fraction\))?(\{[^}]*\}|\[[^\]]*\]|[0-9]+/[0-9]+)`)
	fractionRegexp  = regexp.MustCompile(`([0-9]+)/([0-9]+)`)
)

// parseCaps parses one caps structure. Caps with a width or height range, or
// without a usable frame rate, are skipped.
func parseCaps(rc string) (*Format, bool) {
	rc = strings.TrimSuffix(strings.TrimSpace(rc), ";")
	mediaType := strings.TrimSpace(strings.SplitN(rc, ",", 2)[0])
	if mediaType != "video/x-raw" && mediaType != "image/jpeg" {
		return nil, false
	}
	mw := widthRegexp.FindStringSubmatch(rc)
	mh := heightRegexp.FindStringSubmatch(rc)
	mf := framerateRegexp.FindStringSubmatch(rc)
	if mw == nil || mh == nil || mf == nil {
		return nil, false
	}
	width, werr := strconv.ParseInt(mw[1], 10, 32)
	height, herr := strconv.ParseInt(mh[1], 10, 32)
	if werr != nil || herr != nil || width == 0 || height == 0 {
		return nil, false
	}
	ranges := parseFramerate(mf[1])
	if len(ranges) == 0 {
		return nil, false
	}
	f := &Format{
		VideoFormat: capture.VideoFormat{
			Width:  int(width),
			Height: int(height),
			Ranges: ranges,
		},
		MediaType: mediaType,
	}
	if mediaType == "image/jpeg" {
		f.Pixel = "MJPG"
	} else if m := formatRegexp.FindStringSubmatch(rc); m != nil {
		f.Pixel = m[1]
	}
	return f, true
}

// parseFramerate parses a framerate value: "30/1", a list "{ 30/1, 15/1 }",
// or a range "[ 0/1, 30/1 ]". Frame rates are fractions of frames per second,
// durations are their inverse.
func parseFramerate(s string) []capture.FrameRateRange {
	var fracs [][2]int64
	for _, m := range fractionRegexp.FindAllStringSubmatch(s, -1) {
		n, nerr := strconv.ParseInt(m[1], 10, 32)
		d, derr := strconv.ParseInt(m[2], 10, 32)
		if nerr != nil || derr != nil || d == 0 {
			continue
		}
		fracs = append(fracs, [2]int64{n, d})
	}
	if strings.HasPrefix(s, "[") {
		if len(fracs) != 2 || fracs[1][0] == 0 {
			return nil
		}
		fastest := capture.Duration{Value: fracs[1][1], Timescale: int32(fracs[1][0])}.Reduce()
		slowest := capture.Duration{Value: 1, Timescale: 1}
		if fracs[0][0] > 0 {
			slowest = capture.Duration{Value: fracs[0][1], Timescale: int32(fracs[0][0])}.Reduce()
		}
		return []capture.FrameRateRange{capture.NewFrameRateRange(fastest, slowest)}
	}
	var ranges []capture.FrameRateRange
	for _, f := range fracs {
		if f[0] == 0 {
			continue
		}
		d := capture.Duration{Value: f[1], Timescale: int32(f[0])}.Reduce()
		ranges = append(ranges, capture.DiscreteFrameRate(d))
	}
	return ranges
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// RecorderOpts has options for a new gstreamer recorder.
type RecorderOpts struct {
	Verbose  bool
	Interval time.Duration // Minimum time between frames sent. Zero sends every frame.
}

// Recorder records frames from a configured Device using gst-launch-1.0.
type Recorder struct {
	opts    RecorderOpts
	tempDir string
	cancel  context.CancelFunc
	watcher *capture.FrameWatcher
	release func()
}

// Check that Recorder implements interface Recorder.
var _ capture.Recorder = (*Recorder)(nil)

// Events returns a channel on which Events can be received.
func (r *Recorder) Events() chan capture.Event {
	return r.watcher.Events()
}

// pipelineArgs returns the gst-launch-1.0 arguments capturing from dev with its
// active format and minimum frame duration, writing JPEG frames to dir.
func pipelineArgs(dev *Device, dir string) ([]string, error) {
	f, ok := dev.ActiveFormat().(*Format)
	if !ok {
		return nil, fmt.Errorf("%w: no gstreamer format active", capture.ErrUnsupportedFormat)
	}
	args := []string{
		"v4l2src",
		"device=" + dev.ID(),
		"!",
		f.Caps(dev.ActiveMinFrameDuration()),
		"!",
	}
	if f.MediaType == "image/jpeg" {
		args = append(args, "jpegdec", "!")
	}
	args = append(args,
		"videoconvert",
		"!",
		"jpegenc",
		"!",
		"multifilesink",
		"location="+dir+"/frame%05d.jpg",
	)
	return args, nil
}

// NewRecorder starts gstreamer capturing from dev with its current
// configuration. Gstreamer writes frames to a temporary directory. These files
// are read and sent over the channel returned by Events. While recording, dev
// cannot be locked for configuration.
//
// Callers must call Close to clean up.
func NewRecorder(dev *Device, opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{opts: opts}

	release, err := dev.Acquire()
	if err != nil {
		return nil, err
	}
	r.release = release

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	tempDir, err := capture.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	r.tempDir = tempDir
	if r.opts.Verbose {
		log.Printf("gstreamer recorder, writing frames to tempdir %s", r.tempDir)
	}

	args, err := pipelineArgs(dev, r.tempDir)
	if err != nil {
		return nil, err
	}

	w, h := dev.ActiveFormat().Dimensions()
	r.watcher, err = capture.WatchFrames(r.tempDir, capture.WatchOpts{
		Verbose:  opts.Verbose,
		Interval: opts.Interval,
		Width:    w,
		Height:   h,
	})
	if err != nil {
		return nil, err
	}

	if r.opts.Verbose {
		log.Printf("starting gstreamer as gst-launch-1.0 %s", strings.Join(args, " "))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting gstreamer with gst-launch-1.0: %v", err)
	}
	go cmd.Wait()

	return r, nil
}

// Close shuts down the recorder, stopping gstreamer, removing the temporary
// directory and releasing the device.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		r.watcher.Close()
	}
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
	}
	if r.release != nil {
		r.release()
	}
	return nil
}
