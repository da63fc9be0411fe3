// Package profile loads named capture configurations from YAML files and
// applies them to devices.
//
// Example file:
//
//	profiles:
//	  - name: desk
//	    device: /dev/video0
//	    width: 1280
//	    height: 720
//	    pixel_format: MJPG
//	    frame_rate: 30
//	  - name: slow
//	    width: 640
//	    height: 480
//	    frame_duration: 1/15
package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opencollab/capture-go"
)

// Profile is a desired configuration. Zero fields match anything.
type Profile struct {
	Name string `yaml:"name"`

	// Device ID, or a substring of the device name. Empty matches all devices.
	Device string `yaml:"device,omitempty"`

	Width       int    `yaml:"width,omitempty"`
	Height      int    `yaml:"height,omitempty"`
	PixelFormat string `yaml:"pixel_format,omitempty"`

	// One of FrameRate or FrameDuration. If both are empty, the fastest rate
	// of the matching format is used.
	FrameRate     float64 `yaml:"frame_rate,omitempty"`
	FrameDuration string  `yaml:"frame_duration,omitempty"`
}

// File is the top-level structure of a profile file.
type File struct {
	Profiles []Profile `yaml:"profiles"`
}

// Built-in profile names.
const (
	PresetVGA   = "vga"
	Preset720p  = "720p"
	Preset1080p = "1080p"
)

// Presets returns the built-in profiles.
func Presets() []Profile {
	return []Profile{
		{Name: PresetVGA, Width: 640, Height: 480, FrameRate: 30},
		{Name: Preset720p, Width: 1280, Height: 720, FrameRate: 30},
		{Name: Preset1080p, Width: 1920, Height: 1080, FrameRate: 30},
	}
}

// ErrNoMatch is returned by Resolve when no format of the device satisfies the
// profile.
var ErrNoMatch = errors.New("no matching format")

// Load reads profiles from a YAML file and validates them.
func Load(path string) (*File, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %v", err)
	}
	return Parse(buf)
}

// Parse parses and validates YAML profiles.
func Parse(buf []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("parsing profiles: %v", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks all profiles, and that names are unique.
func (f *File) Validate() error {
	seen := map[string]bool{}
	var errs []error
	for i := range f.Profiles {
		p := &f.Profiles[i]
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate profile %q", p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

// Lookup returns the profile with the given name, from the file if not nil,
// otherwise from the presets.
func (f *File) Lookup(name string) (Profile, bool) {
	if f != nil {
		for _, p := range f.Profiles {
			if p.Name == name {
				return p, true
			}
		}
	}
	for _, p := range Presets() {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Validate checks that values are in range.
func (p *Profile) Validate() error {
	var errs []string
	if p.Name == "" {
		errs = append(errs, "name is required")
	}
	if p.Width < 0 || p.Height < 0 {
		errs = append(errs, "width and height must not be negative")
	}
	if p.FrameRate < 0 {
		errs = append(errs, "frame_rate must not be negative")
	}
	if p.FrameRate > 0 && p.FrameDuration != "" {
		errs = append(errs, "set only one of frame_rate and frame_duration")
	}
	if p.FrameDuration != "" {
		if _, err := capture.ParseDuration(p.FrameDuration); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("profile %q: %s", p.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Duration returns the frame duration requested by the profile, and false if
// the profile does not request one.
func (p *Profile) Duration() (capture.Duration, bool, error) {
	switch {
	case p.FrameDuration != "":
		d, err := capture.ParseDuration(p.FrameDuration)
		return d, err == nil, err
	case p.FrameRate > 0:
		d, err := capture.DurationFromFrameRate(p.FrameRate)
		return d, err == nil, err
	}
	return capture.Duration{}, false, nil
}

// Matches reports whether the profile applies to dev.
func (p *Profile) Matches(dev capture.Device) bool {
	if p.Device == "" {
		return true
	}
	return dev.ID() == p.Device || strings.Contains(dev.Name(), p.Device)
}

// Resolve returns the first format of dev satisfying the profile, and the frame
// duration to use with it.
func (p *Profile) Resolve(dev capture.Device) (capture.Format, capture.Duration, error) {
	if !p.Matches(dev) {
		return nil, capture.Duration{}, fmt.Errorf("profile %q: device %s does not match %q", p.Name, dev.ID(), p.Device)
	}
	want, haveDuration, err := p.Duration()
	if err != nil {
		return nil, capture.Duration{}, err
	}
	for _, f := range dev.Formats() {
		w, h := f.Dimensions()
		if (p.Width != 0 && w != p.Width) || (p.Height != 0 && h != p.Height) {
			continue
		}
		if p.PixelFormat != "" && !strings.EqualFold(f.PixelFormat(), p.PixelFormat) {
			continue
		}
		if haveDuration {
			d := want
			if p.FrameDuration == "" {
				// Use the exact duration of the format, e.g. 1001/30000 for 29.97.
				if m, ok := capture.MatchFrameRate(f, p.FrameRate); ok {
					d = m
				}
			}
			if capture.SupportsDuration(f, d) {
				return f, d, nil
			}
			continue
		}
		if d, ok := fastest(f); ok {
			return f, d, nil
		}
	}
	return nil, capture.Duration{}, fmt.Errorf("profile %q on %s: %w", p.Name, dev.ID(), ErrNoMatch)
}

// Apply resolves the profile against dev and configures it.
func (p *Profile) Apply(dev capture.Device) (capture.Format, capture.Duration, error) {
	f, d, err := p.Resolve(dev)
	if err != nil {
		return nil, capture.Duration{}, err
	}
	if err := capture.ConfigureDevice(dev, f, d); err != nil {
		return nil, capture.Duration{}, err
	}
	return f, d, nil
}

func fastest(f capture.Format) (capture.Duration, bool) {
	var best capture.Duration
	for _, r := range f.FrameRateRanges() {
		if !r.MinFrameDuration.Valid() {
			continue
		}
		if !best.Valid() || r.MinFrameDuration.Compare(best) < 0 {
			best = r.MinFrameDuration
		}
	}
	return best, best.Valid()
}
