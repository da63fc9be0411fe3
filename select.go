package capture

import (
	"fmt"
	"strings"
)

// HighestFrameRate returns the format and frame rate range of dev with the
// highest maximum frame rate. On a tie, the first one wins, in the order of
// Formats and FrameRateRanges.
func HighestFrameRate(dev Device) (Format, FrameRateRange, error) {
	if dev == nil {
		return nil, FrameRateRange{}, ErrNoDevice
	}
	var best Format
	var bestRange FrameRateRange
	for _, f := range dev.Formats() {
		for _, r := range f.FrameRateRanges() {
			if r.MaxFrameRate > bestRange.MaxFrameRate {
				best = f
				bestRange = r
			}
		}
	}
	if best == nil {
		return nil, FrameRateRange{}, ErrNoFormats
	}
	return best, bestRange, nil
}

// ConfigureHighestFrameRate configures dev for the highest frame rate it
// supports, see HighestFrameRate. The chosen format and frame duration are
// returned.
func ConfigureHighestFrameRate(dev Device) (Format, Duration, error) {
	f, r, err := HighestFrameRate(dev)
	if err != nil {
		return nil, Duration{}, configError("configure highest frame rate", dev, err)
	}
	d := r.MinFrameDuration
	if err := ConfigureDevice(dev, f, d); err != nil {
		return nil, Duration{}, err
	}
	return f, d, nil
}

// PressureLevel is the thermal/power pressure a system reports. Capture should
// slow down when pressure rises, to avoid the system stopping the session.
type PressureLevel int

const (
	PressureNominal PressureLevel = iota
	PressureFair
	PressureSerious
	PressureCritical
	PressureShutdown
)

var pressureNames = []string{"nominal", "fair", "serious", "critical", "shutdown"}

func (l PressureLevel) String() string {
	if l < 0 || int(l) >= len(pressureNames) {
		return fmt.Sprintf("pressure(%d)", int(l))
	}
	return pressureNames[l]
}

// ParsePressureLevel parses a level name as returned by String.
func ParsePressureLevel(s string) (PressureLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range pressureNames {
		if name == s {
			return PressureLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pressure level %q", s)
}

// ThrottledFrameDurations returns the min and max frame durations Throttle
// sets: 1/20 and 1/15, for between 15 and 20 fps.
func ThrottledFrameDurations() (minDur, maxDur Duration) {
	return Duration{Value: 1, Timescale: 20}, Duration{Value: 1, Timescale: 15}
}

// Throttle lowers the frame rate of dev to ThrottledFrameDurations at serious
// or critical pressure. At other levels it does nothing. Throttle reports
// whether the device was reconfigured.
func Throttle(dev Device, level PressureLevel) (bool, error) {
	switch level {
	case PressureSerious, PressureCritical:
	default:
		return false, nil
	}
	minDur, maxDur := ThrottledFrameDurations()
	if err := ConfigureFrameDurations(dev, minDur, maxDur); err != nil {
		return false, err
	}
	return true, nil
}
