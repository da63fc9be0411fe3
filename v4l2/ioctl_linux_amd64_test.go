//go:build linux && amd64

package v4l2

import (
	"testing"
	"unsafe"
)

// Values from linux/videodev2.h as compiled for x86_64.
func TestRequestCodes(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		exp  uintptr
	}{
		{"VIDIOC_QUERYCAP", vidiocQuerycap, 0x80685600},
		{"VIDIOC_ENUM_FMT", vidiocEnumFmt, 0xc0405602},
		{"VIDIOC_G_FMT", vidiocGFmt, 0xc0d05604},
		{"VIDIOC_S_FMT", vidiocSFmt, 0xc0d05605},
		{"VIDIOC_G_PARM", vidiocGParm, 0xc0cc5615},
		{"VIDIOC_S_PARM", vidiocSParm, 0xc0cc5616},
		{"VIDIOC_ENUM_FRAMESIZES", vidiocEnumFramesizes, 0xc02c564a},
		{"VIDIOC_ENUM_FRAMEINTERVALS", vidiocEnumFrameintervals, 0xc034564b},
	}
	for _, tt := range tests {
		if tt.got != tt.exp {
			t.Errorf("%s: got %#x, expected %#x", tt.name, tt.got, tt.exp)
		}
	}
}

func TestStructLayout(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		exp  uintptr
	}{
		{"sizeof v4l2_capability", unsafe.Sizeof(capability{}), 104},
		{"sizeof v4l2_fmtdesc", unsafe.Sizeof(fmtdesc{}), 64},
		{"sizeof v4l2_format", unsafe.Sizeof(format{}), 208},
		{"offsetof v4l2_format.fmt", unsafe.Offsetof(format{}.fmt), 8},
		{"sizeof v4l2_pix_format", unsafe.Sizeof(pixFormat{}), 48},
		{"sizeof v4l2_streamparm", unsafe.Sizeof(streamparm{}), 204},
		{"offsetof v4l2_streamparm.parm", unsafe.Offsetof(streamparm{}.parm), 4},
		{"sizeof v4l2_captureparm", unsafe.Sizeof(captureparm{}), 40},
		{"offsetof v4l2_captureparm.timeperframe", unsafe.Offsetof(captureparm{}.timeperframe), 8},
		{"sizeof v4l2_frmsizeenum", unsafe.Sizeof(frmsizeenum{}), 44},
		{"sizeof v4l2_frmivalenum", unsafe.Sizeof(frmivalenum{}), 52},
		{"offsetof v4l2_frmivalenum.type", unsafe.Offsetof(frmivalenum{}.typ), 16},
	}
	for _, tt := range tests {
		if tt.got != tt.exp {
			t.Errorf("%s: got %d, expected %d", tt.name, tt.got, tt.exp)
		}
	}

	// The union members are reached through pointer casts and must fit.
	if unsafe.Sizeof(pixFormat{}) > unsafe.Sizeof(format{}.fmt) {
		t.Errorf("v4l2_pix_format does not fit the v4l2_format union")
	}
	if unsafe.Sizeof(captureparm{}) > unsafe.Sizeof(streamparm{}.parm) {
		t.Errorf("v4l2_captureparm does not fit the v4l2_streamparm union")
	}
}

func TestUnionAccess(t *testing.T) {
	var f format
	f.pix().pixelformat = uint32(PixelFormatMJPEG)
	if got := FourCC(uint32(f.fmt[1])); got != PixelFormatMJPEG {
		t.Fatalf("pixelformat at wrong offset, got %v", got)
	}

	var p streamparm
	p.capture().timeperframe = fract{numerator: 1, denominator: 30}
	if p.parm[2] != 1 || p.parm[3] != 30 {
		t.Fatalf("timeperframe at wrong offset, got %v", p.parm[:4])
	}
}
