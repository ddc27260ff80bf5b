package pulse

import "math"

// Interpolator turns a segment's discrete samples into a continuous
// envelope. The rule between samples is deliberately pluggable; the
// default is piecewise-constant, matching sample-and-hold hardware output.
type Interpolator interface {
	// Eval returns the envelope at time t relative to the segment start,
	// with samples spaced dt apart. t is within [0, len(samples)*dt).
	Eval(samples []complex128, dt, t float64) complex128
}

// PiecewiseConstant holds each sample for its full interval.
type PiecewiseConstant struct{}

// Eval returns the sample covering t.
func (PiecewiseConstant) Eval(samples []complex128, dt, t float64) complex128 {
	idx := int(math.Floor(t / dt))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx]
}

// Linear interpolates linearly between neighbouring samples, treating each
// sample as the value at the midpoint of its interval and clamping at the
// segment edges.
type Linear struct{}

// Eval returns the linear interpolation at t.
func (Linear) Eval(samples []complex128, dt, t float64) complex128 {
	if len(samples) == 1 {
		return samples[0]
	}
	// Sample k sits at (k + 0.5)*dt.
	pos := t/dt - 0.5
	if pos <= 0 {
		return samples[0]
	}
	if pos >= float64(len(samples)-1) {
		return samples[len(samples)-1]
	}
	k := int(math.Floor(pos))
	frac := complex(pos-float64(k), 0)
	return samples[k]*(1-frac) + samples[k+1]*frac
}
