// Package ffmpeg lists capture devices and their formats with v4l2-ctl, and
// records from a configured device with ffmpeg.
//
// Like the gstreamer package, devices are configured in software and the
// configuration is passed to ffmpeg when a Recorder starts.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opencollab/capture-go"
	"github.com/opencollab/capture-go/virtual"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// Device is a V4L2 device as listed by v4l2-ctl.
type Device struct {
	*virtual.Device
}

var _ capture.Device = (*Device)(nil)

type listedDevice struct {
	Name string
	Path string
}

// ListDevices returns a list of devices that can be used for recording,
// including their formats.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]*Device, error) {
	buf, err := v4l2ctl("--list-devices")
	if err != nil {
		return nil, err
	}
	var devices []*Device
	for _, ld := range parseDeviceList(string(buf)) {
		out, err := v4l2ctl("--list-formats-ext", "-d", ld.Path)
		if err != nil {
			continue
		}
		formats := parseFormats(string(out))
		if len(formats) == 0 {
			continue
		}
		devices = append(devices, &Device{
			virtual.NewWithID(ld.Path, fmt.Sprintf("%s (%s)", ld.Name, ld.Path), formats...),
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devices, nil
}

func v4l2ctl(args ...string) ([]byte, error) {
	cmd := exec.Command("v4l2-ctl", args...)
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("running v4l2-ctl %s: %v", strings.Join(args, " "), err)
	}
	return buf, nil
}

func parseDeviceList(s string) []listedDevice {
	var curDevice string
	devices := []listedDevice{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, listedDevice{Name: curDevice, Path: line})
	}
	return devices
}

var (
	pixfmtRegexp   = regexp.MustCompile(`^\[[0-9]+\]: '([^']+)'`)
	sizeRegexp     = regexp.MustCompile(`^Size: (Discrete|Stepwise|Continuous) ([0-9]+)x([0-9]+)(?: - ([0-9]+)x([0-9]+))?`)
	intervalRegexp = regexp.MustCompile(`^Interval: (Discrete|Stepwise|Continuous) .*\(([0-9.]+)(?:-([0-9.]+))? fps\)`)
)

// parseFormats parses the output of v4l2-ctl --list-formats-ext. Each pixel
// format and size is one format. For stepwise sizes, the smallest and largest
// size are used.
func parseFormats(s string) []capture.Format {
	var formats []capture.Format
	var pixel string
	var cur []*capture.VideoFormat
	flush := func() {
		for _, f := range cur {
			if len(f.Ranges) > 0 {
				formats = append(formats, f)
			}
		}
		cur = nil
	}
	b := bufio.NewScanner(strings.NewReader(s))
	for b.Scan() {
		line := strings.TrimSpace(b.Text())
		if m := pixfmtRegexp.FindStringSubmatch(line); m != nil {
			flush()
			pixel = strings.TrimSpace(m[1])
			continue
		}
		if m := sizeRegexp.FindStringSubmatch(line); m != nil {
			flush()
			if pixel == "" {
				continue
			}
			w, _ := strconv.Atoi(m[2])
			h, _ := strconv.Atoi(m[3])
			cur = append(cur, &capture.VideoFormat{Pixel: pixel, Width: w, Height: h})
			if m[4] != "" {
				w, _ = strconv.Atoi(m[4])
				h, _ = strconv.Atoi(m[5])
				cur = append(cur, &capture.VideoFormat{Pixel: pixel, Width: w, Height: h})
			}
			continue
		}
		if m := intervalRegexp.FindStringSubmatch(line); m != nil && len(cur) > 0 {
			r, ok := parseInterval(m[2], m[3])
			if !ok {
				continue
			}
			for _, f := range cur {
				f.Ranges = append(f.Ranges, r)
			}
		}
	}
	flush()
	return formats
}

// parseInterval parses the frame rates v4l2-ctl prints, e.g. "30.000" or
// "1.000" and "30.000" for stepwise intervals.
func parseInterval(lo, hi string) (capture.FrameRateRange, bool) {
	loRate, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return capture.FrameRateRange{}, false
	}
	slowest, err := capture.DurationFromFrameRate(loRate)
	if err != nil {
		return capture.FrameRateRange{}, false
	}
	if hi == "" {
		return capture.DiscreteFrameRate(slowest), true
	}
	hiRate, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return capture.FrameRateRange{}, false
	}
	fastest, err := capture.DurationFromFrameRate(hiRate)
	if err != nil {
		return capture.FrameRateRange{}, false
	}
	return capture.NewFrameRateRange(fastest, slowest), true
}

// inputFormat maps a V4L2 pixel format to an ffmpeg v4l2 input format name.
func inputFormat(pixel string) string {
	switch pixel {
	case "YUYV":
		return "yuyv422"
	case "MJPG":
		return "mjpeg"
	case "H264":
		return "h264"
	case "NV12":
		return "nv12"
	case "YU12":
		return "yuv420p"
	}
	return strings.ToLower(pixel)
}

// RecorderOpts has options for a new ffmpeg recorder.
type RecorderOpts struct {
	Verbose  bool
	Interval time.Duration // Minimum time between frames sent. Zero sends every frame.
}

// Recorder is a frame recorder using ffmpeg.
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

// recordArgs returns the ffmpeg arguments capturing from dev with its active
// format and minimum frame duration.
func recordArgs(dev *Device) ([]string, error) {
	f := dev.ActiveFormat()
	if f == nil {
		return nil, fmt.Errorf("%w: no active format", capture.ErrUnsupportedFormat)
	}
	w, h := f.Dimensions()
	args := []string{
		"-f", "v4l2",
		"-input_format", inputFormat(f.PixelFormat()),
		"-video_size", fmt.Sprintf("%dx%d", w, h),
	}
	if d := dev.ActiveMinFrameDuration(); d.Valid() {
		args = append(args, "-framerate", fmt.Sprintf("%d/%d", d.Timescale, d.Value))
	}
	args = append(args,
		"-i", dev.ID(),
		"-f", "image2",
		"-c:v", "mjpeg",
		"-qscale:v", "2",
		"frame%d.jpg",
	)
	return args, nil
}

// NewRecorder creates a new recorder using ffmpeg, capturing from dev with its
// current configuration. Ffmpeg writes frames to a temporary directory. These
// files are read and sent over the channel returned by Events. While
// recording, dev cannot be locked for configuration.
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

	args, err := recordArgs(dev)
	if err != nil {
		return nil, err
	}

	tempDir, err := capture.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	r.tempDir = tempDir
	if r.opts.Verbose {
		log.Printf("ffmpeg recorder, writing frames to tempdir %s", r.tempDir)
	}

	w, h := dev.ActiveFormat().Dimensions()
	r.watcher, err = capture.WatchFrames(r.tempDir, capture.WatchOpts{
		Verbose:  opts.Verbose,
		Op:       fsnotify.Write,
		Interval: opts.Interval,
		Width:    w,
		Height:   h,
	})
	if err != nil {
		return nil, err
	}

	if r.opts.Verbose {
		log.Printf("starting ffmpeg with args %s", args)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting command ffmpeg: %v", err)
	}
	go cmd.Wait()

	return r, nil
}

// Close shuts down the recorder, stopping ffmpeg, removing the temporary
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
