package capture

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Duration is a rational time value of Value/Timescale seconds, used for frame
// durations. A frame rate of 30 fps has a frame duration of 1/30.
type Duration struct {
	Value     int64
	Timescale int32
}

// FrameDuration returns the duration of one frame at fps frames per second.
// For fps <= 0 or above math.MaxInt32 the zero Duration is returned, which is
// not Valid.
func FrameDuration(fps int) Duration {
	if fps <= 0 || int64(fps) > math.MaxInt32 {
		return Duration{}
	}
	return Duration{Value: 1, Timescale: int32(fps)}
}

// DurationFromFrameRate converts a possibly fractional frame rate, such as 29.97,
// to a reduced frame duration, with a precision of one thousandth of a frame
// per second. The result is not the exact duration drivers report for NTSC
// rates (1001/30000 for 29.97); use MatchFrameRate to find that duration in a
// format.
func DurationFromFrameRate(fps float64) (Duration, error) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return Duration{}, fmt.Errorf("%w: frame rate %v", ErrInvalidDuration, fps)
	}
	millis := int64(math.Round(fps * 1000))
	if millis <= 0 || millis > math.MaxInt32 {
		return Duration{}, fmt.Errorf("%w: frame rate %v", ErrInvalidDuration, fps)
	}
	return Duration{Value: 1000, Timescale: int32(millis)}.Reduce(), nil
}

// ParseDuration parses "N/D" (seconds as a fraction, e.g. "1/30") or "Nfps"
// (e.g. "30fps", "29.97fps").
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if rate, ok := strings.CutSuffix(s, "fps"); ok {
		fps, err := strconv.ParseFloat(strings.TrimSpace(rate), 64)
		if err != nil {
			return Duration{}, fmt.Errorf("parsing frame rate %q: %v", s, err)
		}
		return DurationFromFrameRate(fps)
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return Duration{}, fmt.Errorf("parsing duration %q: expected N/D or Nfps", s)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return Duration{}, fmt.Errorf("parsing duration numerator %q: %v", num, err)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(den), 10, 32)
	if err != nil {
		return Duration{}, fmt.Errorf("parsing duration timescale %q: %v", den, err)
	}
	d := Duration{Value: v, Timescale: int32(ts)}
	if !d.Valid() {
		return Duration{}, fmt.Errorf("%w: %s", ErrInvalidDuration, s)
	}
	return d, nil
}

// ParseDurationFor is like ParseDuration, but a frame rate such as "29.97fps"
// is matched against the frame rate ranges of f with MatchFrameRate, giving
// the exact duration f supports. If f has no match, the duration from
// DurationFromFrameRate is returned.
func ParseDurationFor(f Format, s string) (Duration, error) {
	rate, ok := strings.CutSuffix(strings.TrimSpace(s), "fps")
	if !ok || f == nil {
		return ParseDuration(s)
	}
	fps, err := strconv.ParseFloat(strings.TrimSpace(rate), 64)
	if err != nil {
		return Duration{}, fmt.Errorf("parsing frame rate %q: %v", s, err)
	}
	if d, ok := MatchFrameRate(f, fps); ok {
		return d, nil
	}
	return DurationFromFrameRate(fps)
}

// MatchFrameRate returns the frame duration of f for frame rate fps. A range
// endpoint whose frame rate rounds to the same thousandth of a frame per
// second is preferred, so 29.97 matches a driver's 1001/30000. Otherwise the
// duration from DurationFromFrameRate is returned if a range contains it.
func MatchFrameRate(f Format, fps float64) (Duration, bool) {
	want, err := DurationFromFrameRate(fps)
	if err != nil || f == nil {
		return Duration{}, false
	}
	milli := math.Round(fps * 1000)
	for _, r := range f.FrameRateRanges() {
		for _, d := range []Duration{r.MinFrameDuration, r.MaxFrameDuration} {
			if d.Valid() && math.Round(d.FrameRate()*1000) == milli {
				return d, true
			}
		}
	}
	if SupportsDuration(f, want) {
		return want, true
	}
	return Duration{}, false
}

// Valid reports whether d is a positive rational time.
func (d Duration) Valid() bool {
	return d.Value > 0 && d.Timescale > 0
}

// Rat returns d as an exact rational number of seconds. Rat panics on a zero
// timescale.
func (d Duration) Rat() *big.Rat {
	return big.NewRat(d.Value, int64(d.Timescale))
}

// Compare returns -1, 0 or +1 when d is shorter than, equal to, or longer than
// o. Both must have a non-zero timescale.
func (d Duration) Compare(o Duration) int {
	return d.Rat().Cmp(o.Rat())
}

// Equal reports whether d and o are the same length of time, e.g. 1/30 and 2/60.
func (d Duration) Equal(o Duration) bool {
	if d.Timescale == 0 || o.Timescale == 0 {
		return d == o
	}
	return d.Compare(o) == 0
}

// Reduce returns d with numerator and timescale divided by their greatest
// common divisor.
func (d Duration) Reduce() Duration {
	if !d.Valid() {
		return d
	}
	g := gcd(d.Value, int64(d.Timescale))
	return Duration{Value: d.Value / g, Timescale: int32(int64(d.Timescale) / g)}
}

// Seconds returns d as a floating point number of seconds.
func (d Duration) Seconds() float64 {
	if d.Timescale == 0 {
		return 0
	}
	return float64(d.Value) / float64(d.Timescale)
}

// FrameRate returns the number of frames per second for frames of duration d.
func (d Duration) FrameRate() float64 {
	if d.Value == 0 {
		return 0
	}
	return float64(d.Timescale) / float64(d.Value)
}

func (d Duration) String() string {
	return fmt.Sprintf("%d/%d", d.Value, d.Timescale)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
