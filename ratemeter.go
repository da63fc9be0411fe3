package capture

import (
	"fmt"
	"time"
)

// RateMeter is a moving average filter over frame intervals, for measuring the
// frame rate a device actually delivers.
type RateMeter struct {
	index  int
	n      int // Number of intervals recorded, at most len(values).
	sum    time.Duration
	values []time.Duration
	last   time.Time
}

// NewRateMeter returns a rate meter averaging over the last size frame
// intervals.
func NewRateMeter(size int) (*RateMeter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	return &RateMeter{values: make([]time.Duration, size)}, nil
}

// Observe records a frame arriving at time t. It returns the average frame
// rate over the recorded history, which is 0 until at least one interval is
// known. Frames must be observed in time order.
func (m *RateMeter) Observe(t time.Time) (float64, error) {
	if m.values == nil {
		return 0, fmt.Errorf("invalid RateMeter, use NewRateMeter")
	}
	if m.last.IsZero() {
		m.last = t
		return 0, nil
	}
	iv := t.Sub(m.last)
	if iv < 0 {
		return 0, fmt.Errorf("frame time %v before previous frame %v", t, m.last)
	}
	m.last = t

	m.sum -= m.values[m.index]
	m.sum += iv
	m.values[m.index] = iv
	m.index++
	if m.index >= len(m.values) {
		m.index = 0
	}
	if m.n < len(m.values) {
		m.n++
	}
	return m.Rate(), nil
}

// Rate returns the average frame rate over the recorded history, or 0 if no
// interval has been recorded yet.
func (m *RateMeter) Rate() float64 {
	if m.n == 0 || m.sum <= 0 {
		return 0
	}
	avg := m.sum / time.Duration(m.n)
	return float64(time.Second) / float64(avg)
}

// Within reports whether the measured rate is within tolerance (a fraction,
// e.g. 0.1 for 10%) of the rate for frame duration d.
func (m *RateMeter) Within(d Duration, tolerance float64) bool {
	want := d.FrameRate()
	got := m.Rate()
	if want == 0 || got == 0 {
		return false
	}
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff/want <= tolerance
}
