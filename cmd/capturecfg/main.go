// Command capturecfg lists camera devices and their formats, and configures
// the active format and frame duration of a device.
//
// Examples:
//
//	# List available devices with their formats and quit.
//	capturecfg -listdevices
//
//	# Use the second format of /dev/video0 at 30 fps.
//	capturecfg -device /dev/video0 -format 1 -duration 1/30
//
//	# Configure the highest frame rate the device supports.
//	capturecfg -highest
//
//	# Apply a named profile from a file, then record for 5s with gstreamer
//	# and check that frames arrive at the configured rate.
//	capturecfg -backend gstreamer -profiles profiles.yaml -profile desk -verify 5s
//
//	# Throttle to 15-20 fps, as done under serious thermal pressure.
//	capturecfg -throttle serious
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/opencollab/capture-go"
	"github.com/opencollab/capture-go/ffmpeg"
	"github.com/opencollab/capture-go/gstreamer"
	"github.com/opencollab/capture-go/profile"
	"github.com/opencollab/capture-go/v4l2"
	"github.com/opencollab/capture-go/virtual"
)

var (
	listDevices  bool
	backend      string
	deviceID     string
	formatIndex  int
	duration     string
	highest      bool
	throttle     string
	profilesPath string
	profileName  string
	verify       time.Duration
	verbose      bool
)

func init() {
	if runtime.GOOS == "linux" {
		backend = "v4l2"
	} else {
		backend = "gstreamer"
	}

	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists devices with their formats and exits")
	flag.StringVar(&backend, "backend", backend, "device backend: v4l2 (linux), gstreamer, ffmpeg or virtual")
	flag.StringVar(&deviceID, "device", "", "device ID to use, by default, the first device returned when listing devices")
	flag.IntVar(&formatIndex, "format", -1, "index of the format to make active, as shown by -listdevices; by default the active format")
	flag.StringVar(&duration, "duration", "", "frame duration to set as min and max, e.g. 1/30 or 30fps")
	flag.BoolVar(&highest, "highest", false, "configure the format and frame duration with the highest frame rate")
	flag.StringVar(&throttle, "throttle", "", "apply the frame rate for a system pressure level: nominal, fair, serious, critical or shutdown")
	flag.StringVar(&profilesPath, "profiles", "", "YAML file with profiles")
	flag.StringVar(&profileName, "profile", "", "profile to apply, from -profiles or a preset: vga, 720p, 1080p")
	flag.DurationVar(&verify, "verify", 0, "if set, record for this long after configuring and compare the measured frame rate (gstreamer and ffmpeg backends)")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
}

func usage() {
	log.Println("usage: capturecfg [flags]")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
	}
	os.Exit(main0())
}

func main0() int {
	devs, err := list()
	if err != nil {
		log.Printf("listing devices: %v", err)
		return 1
	}
	defer func() {
		for _, d := range devs {
			if c, ok := d.(io.Closer); ok {
				c.Close()
			}
		}
	}()

	if listDevices {
		for _, d := range devs {
			printDevice(d)
		}
		return 0
	}

	dev := devs[0]
	if deviceID != "" {
		dev = nil
		for _, d := range devs {
			if d.ID() == deviceID {
				dev = d
				break
			}
		}
		if dev == nil {
			log.Printf("device %q not found", deviceID)
			return 1
		}
	}

	if err := configure(dev); err != nil {
		log.Printf("%v", err)
		if errors.Is(err, capture.ErrDeviceBusy) {
			return 3
		}
		return 1
	}
	minDur, maxDur := dev.ActiveMinFrameDuration(), dev.ActiveMaxFrameDuration()
	fmt.Printf("%s: %s, frame duration %s-%s\n", dev.ID(), formatName(dev.ActiveFormat()), minDur, maxDur)

	if verify > 0 {
		return verifyRate(dev)
	}
	return 0
}

func list() ([]capture.Device, error) {
	switch backend {
	case "v4l2":
		return v4l2.ListDevices(verbose)
	case "gstreamer":
		l, err := gstreamer.ListDevices()
		if err != nil {
			return nil, err
		}
		devs := make([]capture.Device, len(l))
		for i, d := range l {
			devs[i] = d
		}
		return devs, nil
	case "ffmpeg":
		l, err := ffmpeg.ListDevices()
		if err != nil {
			return nil, err
		}
		devs := make([]capture.Device, len(l))
		for i, d := range l {
			devs[i] = d
		}
		return devs, nil
	case "virtual":
		return []capture.Device{virtualCamera()}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// virtualCamera is a stand-in camera for trying out flags without hardware.
func virtualCamera() *virtual.Device {
	vga := &capture.VideoFormat{
		Pixel:  "YUYV",
		Width:  640,
		Height: 480,
		Ranges: []capture.FrameRateRange{capture.NewFrameRateRange(capture.FrameDuration(30), capture.FrameDuration(15))},
	}
	hd := &capture.VideoFormat{
		Pixel:  "MJPG",
		Width:  1280,
		Height: 720,
		Ranges: []capture.FrameRateRange{
			capture.DiscreteFrameRate(capture.FrameDuration(60)),
			capture.DiscreteFrameRate(capture.FrameDuration(30)),
		},
	}
	return virtual.NewWithID("virtual0", "Virtual Camera", vga, hd)
}

func configure(dev capture.Device) error {
	switch {
	case throttle != "":
		level, err := capture.ParsePressureLevel(throttle)
		if err != nil {
			return err
		}
		changed, err := capture.Throttle(dev, level)
		if err != nil {
			return err
		}
		if !changed {
			log.Printf("pressure level %s, not throttling", level)
		}
		return nil

	case highest:
		f, d, err := capture.ConfigureHighestFrameRate(dev)
		if err != nil {
			return err
		}
		if verbose {
			log.Printf("highest frame rate: %s at %gfps", formatName(f), d.FrameRate())
		}
		return nil

	case profileName != "":
		var pf *profile.File
		if profilesPath != "" {
			var err error
			pf, err = profile.Load(profilesPath)
			if err != nil {
				return err
			}
		}
		p, ok := pf.Lookup(profileName)
		if !ok {
			return fmt.Errorf("unknown profile %q", profileName)
		}
		_, _, err := p.Apply(dev)
		return err

	case duration != "":
		f := dev.ActiveFormat()
		if formatIndex >= 0 {
			formats := dev.Formats()
			if formatIndex >= len(formats) {
				return fmt.Errorf("format index %d out of range, device has %d formats", formatIndex, len(formats))
			}
			f = formats[formatIndex]
		}
		d, err := capture.ParseDurationFor(f, duration)
		if err != nil {
			return err
		}
		return capture.ConfigureDevice(dev, f, d)

	case formatIndex >= 0:
		return fmt.Errorf("-format requires -duration")
	}
	return nil
}

func verifyRate(dev capture.Device) int {
	var recorder capture.Recorder
	var err error
	switch d := dev.(type) {
	case *gstreamer.Device:
		recorder, err = gstreamer.NewRecorder(d, gstreamer.RecorderOpts{Verbose: verbose})
	case *ffmpeg.Device:
		recorder, err = ffmpeg.NewRecorder(d, ffmpeg.RecorderOpts{Verbose: verbose})
	default:
		log.Printf("-verify is not supported with backend %s", backend)
		return 1
	}
	if err != nil {
		log.Printf("new recorder: %v", err)
		return 1
	}
	defer recorder.Close()

	meter, err := capture.NewRateMeter(30)
	if err != nil {
		log.Printf("new rate meter: %v", err)
		return 1
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	timer := time.NewTimer(verify)
	defer timer.Stop()

	frames := 0
	for {
		select {
		case <-signals:
			return 1
		case <-timer.C:
			want := dev.ActiveMinFrameDuration()
			fmt.Printf("measured %.2ffps over %d frames, configured %.2ffps\n", meter.Rate(), frames, want.FrameRate())
			if !meter.Within(want, 0.1) {
				return 1
			}
			return 0
		case ev, ok := <-recorder.Events():
			if !ok {
				log.Printf("no more events")
				return 1
			}
			if ev.Err != nil {
				log.Printf("%s", ev.Err)
				continue
			}
			frames++
			if _, err := meter.Observe(ev.Time); err != nil {
				log.Printf("%v", err)
			}
		}
	}
}

func printDevice(d capture.Device) {
	fmt.Printf("%s: %s\n", d.ID(), d.Name())
	active := d.ActiveFormat()
	for i, f := range d.Formats() {
		mark := " "
		if f == active {
			mark = "*"
		}
		fmt.Printf("  %s[%d] %s\n", mark, i, formatName(f))
	}
}

func formatName(f capture.Format) string {
	if f == nil {
		return "no format"
	}
	return capture.FormatString(f)
}
