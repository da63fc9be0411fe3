//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/opencollab/capture-go"
)

// Request codes are built like the _IOR/_IOWR macros of the asm-generic ioctl
// layout, with the struct sizes of the running architecture.
const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('V')<<8 | nr
}

var (
	vidiocQuerycap           = ioc(iocRead, 0, unsafe.Sizeof(capability{}))
	vidiocEnumFmt            = ioc(iocRead|iocWrite, 2, unsafe.Sizeof(fmtdesc{}))
	vidiocGFmt               = ioc(iocRead|iocWrite, 4, unsafe.Sizeof(format{}))
	vidiocSFmt               = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(format{}))
	vidiocGParm              = ioc(iocRead|iocWrite, 21, unsafe.Sizeof(streamparm{}))
	vidiocSParm              = ioc(iocRead|iocWrite, 22, unsafe.Sizeof(streamparm{}))
	vidiocEnumFramesizes     = ioc(iocRead|iocWrite, 74, unsafe.Sizeof(frmsizeenum{}))
	vidiocEnumFrameintervals = ioc(iocRead|iocWrite, 75, unsafe.Sizeof(frmivalenum{}))
)

const (
	bufTypeVideoCapture = 1

	capVideoCapture = 0x00000001
	capDeviceCaps   = 0x80000000
	capTimePerFrame = 0x1000

	frmsizeTypeDiscrete = 1
	frmivalTypeDiscrete = 1
)

type capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

// format is struct v4l2_format. The union holds pointers in some members, so
// it is 8-byte aligned on 64-bit architectures; uint64 gives the same
// alignment in Go.
type format struct {
	typ uint32
	fmt [25]uint64
}

type pixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

func (f *format) pix() *pixFormat {
	return (*pixFormat)(unsafe.Pointer(&f.fmt[0]))
}

type streamparm struct {
	typ  uint32
	parm [50]uint32
}

type captureparm struct {
	capability   uint32
	capturemode  uint32
	timeperframe fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
}

func (p *streamparm) capture() *captureparm {
	return (*captureparm)(unsafe.Pointer(&p.parm[0]))
}

type frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	// Discrete: width, height. Stepwise: min_width, max_width, step_width,
	// min_height, max_height, step_height.
	u        [6]uint32
	reserved [2]uint32
}

type frmivalenum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	// Discrete: one fract. Stepwise: min, max, step.
	u        [3]fract
	reserved [2]uint32
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

// Device is an open V4L2 capture device node, e.g. /dev/video0.
type Device struct {
	path    string
	name    string
	driver  string
	fd      int
	formats []capture.Format

	cfgLock sync.Mutex // Held between LockForConfiguration and UnlockForConfiguration.

	mu     sync.Mutex // Protects fields below.
	locked bool
	active capture.Format
	minDur capture.Duration
	maxDur capture.Duration
}

var _ capture.Device = (*Device)(nil)

// Open opens the device node at path and enumerates its formats.
//
// Callers must call Close to clean up.
func Open(path string) (device *Device, rerr error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v", path, err)
	}
	d := &Device{path: path, fd: fd}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			d.Close()
		}
	}()

	var c capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return nil, fmt.Errorf("querying capabilities of %s: %v", path, err)
	}
	caps := c.capabilities
	if caps&capDeviceCaps != 0 {
		caps = c.deviceCaps
	}
	if caps&capVideoCapture == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNotCapture)
	}
	d.name = cstring(c.card[:])
	d.driver = cstring(c.driver[:])

	d.formats, err = d.enumFormats()
	if err != nil {
		return nil, err
	}
	if err := d.readActive(); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenDevice is Open returning the capture.Device interface, matching the
// signature on other platforms.
func OpenDevice(path string) (capture.Device, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevices opens all video capture devices under /dev. Nodes that are not
// capture devices are skipped. ListDevices returns an error if no devices are
// available.
//
// Callers must close the returned devices, they implement io.Closer.
func ListDevices(verbose bool) ([]capture.Device, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var devs []capture.Device
	for _, p := range paths {
		d, err := Open(p)
		if err != nil {
			if verbose {
				log.Printf("skipping %s: %v", p, err)
			}
			continue
		}
		devs = append(devs, d)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devs, nil
}

// Close closes the device node.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func (d *Device) ID() string {
	return d.path
}

func (d *Device) Name() string {
	return d.name
}

// Driver returns the kernel driver name, e.g. "uvcvideo".
func (d *Device) Driver() string {
	return d.driver
}

func (d *Device) Formats() []capture.Format {
	return d.formats
}

func (d *Device) enumFormats() ([]capture.Format, error) {
	var formats []capture.Format
	for i := uint32(0); ; i++ {
		desc := fmtdesc{index: i, typ: bufTypeVideoCapture}
		if err := ioctl(d.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("enumerating formats of %s: %v", d.path, err)
		}
		sizes, err := d.enumSizes(desc.pixelformat)
		if err != nil {
			return nil, err
		}
		for _, sz := range sizes {
			ranges, err := d.enumIntervals(desc.pixelformat, sz[0], sz[1])
			if err != nil {
				return nil, err
			}
			if len(ranges) == 0 {
				continue
			}
			code := FourCC(desc.pixelformat)
			formats = append(formats, &Format{
				VideoFormat: capture.VideoFormat{
					Pixel:  code.String(),
					Width:  int(sz[0]),
					Height: int(sz[1]),
					Ranges: ranges,
				},
				Code:        code,
				Description: cstring(desc.description[:]),
			})
		}
	}
	return formats, nil
}

// enumSizes returns the frame sizes for a pixel format. For stepwise and
// continuous sizes, only the smallest and largest are returned.
func (d *Device) enumSizes(pixelformat uint32) ([][2]uint32, error) {
	var sizes [][2]uint32
	for i := uint32(0); ; i++ {
		fs := frmsizeenum{index: i, pixelFormat: pixelformat}
		if err := ioctl(d.fd, vidiocEnumFramesizes, unsafe.Pointer(&fs)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("enumerating frame sizes of %s: %v", d.path, err)
		}
		if fs.typ == frmsizeTypeDiscrete {
			sizes = append(sizes, [2]uint32{fs.u[0], fs.u[1]})
			continue
		}
		sizes = append(sizes, [2]uint32{fs.u[0], fs.u[3]}, [2]uint32{fs.u[1], fs.u[4]})
		break
	}
	return sizes, nil
}

func (d *Device) enumIntervals(pixelformat, width, height uint32) ([]capture.FrameRateRange, error) {
	var ranges []capture.FrameRateRange
	for i := uint32(0); ; i++ {
		fi := frmivalenum{index: i, pixelFormat: pixelformat, width: width, height: height}
		if err := ioctl(d.fd, vidiocEnumFrameintervals, unsafe.Pointer(&fi)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("enumerating frame intervals of %s: %v", d.path, err)
		}
		discrete := fi.typ == frmivalTypeDiscrete
		if r, ok := intervalRange(discrete, fi.u[0], fi.u[1]); ok {
			ranges = append(ranges, r)
		}
		if !discrete {
			break
		}
	}
	return ranges, nil
}

// readActive loads the format and frame interval the driver currently uses.
func (d *Device) readActive() error {
	f := format{typ: bufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("getting format of %s: %v", d.path, err)
	}
	active := d.lookup(f.pix())

	var dur capture.Duration
	p := streamparm{typ: bufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGParm, unsafe.Pointer(&p)); err == nil {
		dur = fractDuration(p.capture().timeperframe)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = active
	d.minDur = dur
	d.maxDur = dur
	return nil
}

func (d *Device) lookup(pix *pixFormat) capture.Format {
	for _, f := range d.formats {
		vf := f.(*Format)
		if uint32(vf.Code) == pix.pixelformat && vf.Width == int(pix.width) && vf.Height == int(pix.height) {
			return f
		}
	}
	return nil
}

// LockForConfiguration takes an exclusive, non-blocking flock on the device
// node.
func (d *Device) LockForConfiguration() error {
	if !d.cfgLock.TryLock() {
		return fmt.Errorf("%w: %s locked for configuration", capture.ErrDeviceBusy, d.path)
	}
	if err := unix.Flock(d.fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		d.cfgLock.Unlock()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s locked by another process", capture.ErrDeviceBusy, d.path)
		}
		return fmt.Errorf("locking %s: %v", d.path, err)
	}
	d.mu.Lock()
	d.locked = true
	d.mu.Unlock()
	return nil
}

func (d *Device) UnlockForConfiguration() {
	d.mu.Lock()
	wasLocked := d.locked
	d.locked = false
	d.mu.Unlock()
	if !wasLocked {
		return
	}
	if err := unix.Flock(d.fd, unix.LOCK_UN); err != nil {
		log.Printf("unlocking %s: %v", d.path, err)
	}
	d.cfgLock.Unlock()
}

func (d *Device) ActiveFormat() capture.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// SetActiveFormat sets the format with VIDIOC_S_FMT. The driver resets the
// frame interval, which is read back.
func (d *Device) SetActiveFormat(cf capture.Format) error {
	vf, ok := cf.(*Format)
	if !ok || !capture.HasFormat(d, cf) {
		return capture.ErrUnsupportedFormat
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return capture.ErrNotLocked
	}

	f := format{typ: bufTypeVideoCapture}
	pix := f.pix()
	pix.width = uint32(vf.Width)
	pix.height = uint32(vf.Height)
	pix.pixelformat = uint32(vf.Code)
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		if errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("%w: %s is streaming", capture.ErrDeviceBusy, d.path)
		}
		return fmt.Errorf("VIDIOC_S_FMT: %v", err)
	}
	if pix.width != uint32(vf.Width) || pix.height != uint32(vf.Height) || pix.pixelformat != uint32(vf.Code) {
		return fmt.Errorf("%w: driver chose %s %dx%d", capture.ErrUnsupportedFormat, FourCC(pix.pixelformat), pix.width, pix.height)
	}
	d.active = cf

	p := streamparm{typ: bufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGParm, unsafe.Pointer(&p)); err == nil {
		d.minDur = fractDuration(p.capture().timeperframe)
		d.maxDur = d.minDur
	}
	return nil
}

func (d *Device) ActiveMinFrameDuration() capture.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minDur
}

// SetActiveMinFrameDuration sets the frame interval with VIDIOC_S_PARM.
func (d *Device) SetActiveMinFrameDuration(dur capture.Duration) error {
	tpf, err := durationFract(dur)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return capture.ErrNotLocked
	}
	if d.active == nil || !capture.SupportsDuration(d.active, dur) {
		return capture.ErrDurationOutOfRange
	}

	p := streamparm{typ: bufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGParm, unsafe.Pointer(&p)); err != nil {
		return fmt.Errorf("VIDIOC_G_PARM: %v", err)
	}
	if p.capture().capability&capTimePerFrame == 0 {
		return fmt.Errorf("%s does not support setting the frame interval", d.path)
	}
	p.capture().timeperframe = tpf
	if err := ioctl(d.fd, vidiocSParm, unsafe.Pointer(&p)); err != nil {
		if errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("%w: %s is streaming", capture.ErrDeviceBusy, d.path)
		}
		return fmt.Errorf("VIDIOC_S_PARM: %v", err)
	}
	got := fractDuration(p.capture().timeperframe)
	if !got.Equal(dur) {
		return fmt.Errorf("%w: driver chose %s instead of %s", capture.ErrDurationOutOfRange, got, dur)
	}
	d.minDur = dur
	return nil
}

func (d *Device) ActiveMaxFrameDuration() capture.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxDur
}

// SetActiveMaxFrameDuration records the maximum frame duration. V4L2 drivers
// only take one frame interval, the minimum.
func (d *Device) SetActiveMaxFrameDuration(dur capture.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return capture.ErrNotLocked
	}
	if d.active == nil || !capture.SupportsDuration(d.active, dur) {
		return capture.ErrDurationOutOfRange
	}
	d.maxDur = dur
	return nil
}
