package gstreamer

import (
	"reflect"
	"strings"
	"testing"

	"github.com/opencollab/capture-go"
)

const monitorOutput = `Probing devices...


Device found:

	name  : HD Webcam
	class : Video/Source
	caps  : video/x-raw, format=(string)YUY2, width=(int)1280, height=(int)720, pixel-aspect-ratio=(fraction)1/1, framerate=(fraction)10/1;
	        video/x-raw, format=YUY2, width=640, height=480, pixel-aspect-ratio=1/1, framerate={ (fraction)30/1, (fraction)15/1 };
	        image/jpeg, width=1920, height=1080, pixel-aspect-ratio=1/1, framerate=[ 0/1, 30/1 ];
	        video/x-raw, format=YUY2, width=[ 1, 32768 ], height=[ 1, 32768 ], framerate=[ 0/1, 2147483647/1 ]
	properties:
		udev-probed = true
		device.bus_path = pci-0000:00:14.0-usb-0:1:1.0
		device.path = /dev/video0
		device.product.name = HD Webcam
	gst-launch-1.0 v4l2src ! ...


Device found:

	name  : Built-in Audio Analog Stereo
	class : Audio/Source
	caps  : audio/x-raw, format={ (string)S16LE, (string)S32LE }, layout=interleaved, rate=[ 1, 2147483647 ], channels=[ 1, 32 ];
	properties:
		device.path = hw:0
	gst-launch-1.0 pulsesrc device=alsa_input ! ...
`

func TestParseDevices(t *testing.T) {
	devs, err := parseDevices(monitorOutput)
	if err != nil {
		t.Fatalf("parsing device monitor output: %v", err)
	}
	if len(devs) != 1 {
		t.Fatalf("got %d devices, expected 1", len(devs))
	}
	d := devs[0]
	if d.ID() != "/dev/video0" || d.Name() != "HD Webcam" || d.DeviceClass != "Video/Source" {
		t.Fatalf("got device %q %q %q", d.ID(), d.Name(), d.DeviceClass)
	}

	exp := []capture.Format{
		&Format{
			VideoFormat: capture.VideoFormat{
				Pixel:  "YUY2",
				Width:  640,
				Height: 480,
				Ranges: []capture.FrameRateRange{
					capture.DiscreteFrameRate(capture.FrameDuration(30)),
					capture.DiscreteFrameRate(capture.FrameDuration(15)),
				},
			},
			MediaType: "video/x-raw",
		},
		&Format{
			VideoFormat: capture.VideoFormat{
				Pixel:  "YUY2",
				Width:  1280,
				Height: 720,
				Ranges: []capture.FrameRateRange{capture.DiscreteFrameRate(capture.FrameDuration(10))},
			},
			MediaType: "video/x-raw",
		},
		&Format{
			VideoFormat: capture.VideoFormat{
				Pixel:  "MJPG",
				Width:  1920,
				Height: 1080,
				Ranges: []capture.FrameRateRange{capture.NewFrameRateRange(capture.FrameDuration(30), capture.FrameDuration(1))},
			},
			MediaType: "image/jpeg",
		},
	}
	if got := d.Formats(); !reflect.DeepEqual(got, exp) {
		t.Fatalf("formats, got %v, expected %v", got, exp)
	}
	if d.ActiveFormat() != d.Formats()[0] {
		t.Fatalf("active format %v, expected first format", d.ActiveFormat())
	}
}

func TestParseDevicesNone(t *testing.T) {
	if _, err := parseDevices("Probing devices...\n"); err == nil {
		t.Fatalf("expected error without devices")
	}
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		in  string
		exp []capture.FrameRateRange
	}{
		{"30/1", []capture.FrameRateRange{capture.DiscreteFrameRate(capture.FrameDuration(30))}},
		{"30000/1001", []capture.FrameRateRange{capture.DiscreteFrameRate(capture.Duration{Value: 1001, Timescale: 30000})}},
		{"{ 60/1, 0/1 }", []capture.FrameRateRange{capture.DiscreteFrameRate(capture.FrameDuration(60))}},
		{"[ 5/1, 30/1 ]", []capture.FrameRateRange{capture.NewFrameRateRange(capture.FrameDuration(30), capture.FrameDuration(5))}},
		{"[ 0/1, 0/1 ]", nil},
		{"[ 30/1 ]", nil},
	}
	for _, tt := range tests {
		got := parseFramerate(tt.in)
		if !reflect.DeepEqual(got, tt.exp) {
			t.Errorf("parseFramerate(%q), got %v, expected %v", tt.in, got, tt.exp)
		}
	}
}

func TestPipelineArgs(t *testing.T) {
	devs, err := parseDevices(monitorOutput)
	if err != nil {
		t.Fatalf("parsing device monitor output: %v", err)
	}
	dev := devs[0]

	args, err := pipelineArgs(dev, "/tmp/frames")
	if err != nil {
		t.Fatalf("pipeline args: %v", err)
	}
	exp := "v4l2src device=/dev/video0 ! video/x-raw,format=YUY2,width=640,height=480,framerate=30/1 ! videoconvert ! jpegenc ! multifilesink location=/tmp/frames/frame%05d.jpg"
	if got := strings.Join(args, " "); got != exp {
		t.Fatalf("got pipeline %q, expected %q", got, exp)
	}

	mjpg := dev.Formats()[2]
	if err := capture.ConfigureDevice(dev, mjpg, capture.FrameDuration(15)); err != nil {
		t.Fatalf("configure: %v", err)
	}
	args, err = pipelineArgs(dev, "/tmp/frames")
	if err != nil {
		t.Fatalf("pipeline args: %v", err)
	}
	exp = "v4l2src device=/dev/video0 ! image/jpeg,width=1920,height=1080,framerate=15/1 ! jpegdec ! videoconvert ! jpegenc ! multifilesink location=/tmp/frames/frame%05d.jpg"
	if got := strings.Join(args, " "); got != exp {
		t.Fatalf("got pipeline %q, expected %q", got, exp)
	}
}

func TestRecorderBusy(t *testing.T) {
	devs, err := parseDevices(monitorOutput)
	if err != nil {
		t.Fatalf("parsing device monitor output: %v", err)
	}
	dev := devs[0]
	if err := dev.LockForConfiguration(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer dev.UnlockForConfiguration()

	if _, err := NewRecorder(dev, RecorderOpts{}); err == nil {
		t.Fatalf("expected error recording from a device locked for configuration")
	}
}
