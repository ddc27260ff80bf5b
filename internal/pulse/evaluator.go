package pulse

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// frame is one channel's running frame state: the static phase offset, the
// current frequency, and the accumulated phase integral 2π∫f dτ up to the
// last evaluation time. Frames advance monotonically in time.
type frame struct {
	phase float64 // radians, includes applied PhaseDeltas
	freq  float64 // cycles per time unit
	accum float64 // 2π ∫ f dτ from t=0 to last
	last  float64

	changes    []FrameChange // this channel's changes, time-sorted
	nextChange int

	segments []Segment // this channel's segments, start-sorted
	segIdx   int
}

// Evaluator computes channel values for one trajectory. It owns an
// independent frame per channel and is not safe for concurrent use; each
// trajectory builds its own evaluator from the shared read-only schedule.
type Evaluator struct {
	sched  *Schedule
	interp Interpolator
	frames map[string]*frame
}

// NewEvaluator builds a trajectory-local evaluator over a validated
// schedule. A nil interpolator defaults to piecewise-constant.
func NewEvaluator(sched *Schedule, interp Interpolator) *Evaluator {
	if interp == nil {
		interp = PiecewiseConstant{}
	}
	ev := &Evaluator{
		sched:  sched,
		interp: interp,
		frames: make(map[string]*frame),
	}
	for _, name := range sched.Channels() {
		fr := &frame{}
		if cfg, ok := sched.Frames[name]; ok {
			fr.freq = cfg.Frequency
			fr.phase = cfg.Phase
		}
		for _, seg := range sched.Segments {
			if seg.Channel == name {
				fr.segments = append(fr.segments, seg)
			}
		}
		sort.Slice(fr.segments, func(i, j int) bool { return fr.segments[i].Start < fr.segments[j].Start })
		for _, fc := range sched.FrameChanges {
			if fc.Channel == name {
				fr.changes = append(fr.changes, fc)
			}
		}
		sort.SliceStable(fr.changes, func(i, j int) bool { return fr.changes[i].Time < fr.changes[j].Time })
		ev.frames[name] = fr
	}
	return ev
}

// ValueAt returns the instantaneous complex amplitude of the named channel
// at time t: the waveform envelope times e^{-i(2π∫f dτ + φ)}. Gaps between
// segments evaluate to zero. Calls must use non-decreasing t per channel;
// an earlier t fails with ErrOutOfOrderEvaluation.
func (ev *Evaluator) ValueAt(channel string, t float64) (complex128, error) {
	fr, ok := ev.frames[channel]
	if !ok {
		return 0, fmt.Errorf("channel %q: %w", channel, ErrUndefinedChannel)
	}
	if t < fr.last {
		return 0, fmt.Errorf("channel %q: t=%g before t=%g: %w", channel, t, fr.last, ErrOutOfOrderEvaluation)
	}

	fr.advance(t)

	env := fr.envelope(ev.interp, t)
	if env == 0 {
		return 0, nil
	}
	return env * cmplx.Exp(complex(0, -(fr.accum + fr.phase))), nil
}

// advance moves the frame to time t, applying any frame changes whose
// boundary has been reached. Changes at exactly t are applied before the
// value is read, which is what makes the jump atomic at its boundary.
func (fr *frame) advance(t float64) {
	for fr.nextChange < len(fr.changes) && fr.changes[fr.nextChange].Time <= t {
		fc := fr.changes[fr.nextChange]
		if fc.Time > fr.last {
			fr.accum += 2 * math.Pi * fr.freq * (fc.Time - fr.last)
			fr.last = fc.Time
		}
		fr.freq += fc.FrequencyDelta
		fr.phase += fc.PhaseDelta
		fr.nextChange++
	}
	if t > fr.last {
		fr.accum += 2 * math.Pi * fr.freq * (t - fr.last)
		fr.last = t
	}
}

// envelope returns the waveform value at t, zero in gaps. The segment
// cursor only moves forward; evaluation order guarantees t never regresses.
func (fr *frame) envelope(interp Interpolator, t float64) complex128 {
	for fr.segIdx < len(fr.segments) && fr.segments[fr.segIdx].End() <= t {
		fr.segIdx++
	}
	if fr.segIdx >= len(fr.segments) {
		return 0
	}
	seg := fr.segments[fr.segIdx]
	if t < seg.Start {
		return 0
	}
	rel := t - seg.Start
	if seg.Shape != nil {
		return seg.Shape(rel)
	}
	return interp.Eval(seg.Samples, seg.sampleDT(), rel)
}
