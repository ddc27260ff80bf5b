// Package pulse models the pulse schedule driving a simulation and
// evaluates, for any time t, the instantaneous complex amplitude of each
// named control channel. Schedules are validated once before a run and are
// read-only afterwards; all mutable frame state lives in per-trajectory
// Evaluator instances.
package pulse

import (
	"fmt"
	"sort"
)

// ShapeFunc is a closed-form waveform descriptor. The argument is the time
// relative to the segment start; the return value is the complex envelope.
type ShapeFunc func(t float64) complex128

// Segment is one waveform on one channel. Exactly one of Samples and Shape
// must be set. For sampled segments, SampleDT is the sample spacing; if it
// is zero it defaults to Duration/len(Samples).
type Segment struct {
	Channel  string
	Start    float64
	Duration float64
	Samples  []complex128
	SampleDT float64
	Shape    ShapeFunc
}

// End returns the segment's exclusive end time.
func (s Segment) End() float64 { return s.Start + s.Duration }

// sampleDT resolves the effective sample spacing.
func (s Segment) sampleDT() float64 {
	if s.SampleDT > 0 {
		return s.SampleDT
	}
	return s.Duration / float64(len(s.Samples))
}

// FrameChange is a phase and/or frequency jump on one channel. It applies
// atomically at Time: a query exactly at Time observes the post-change
// frame.
type FrameChange struct {
	Channel        string
	Time           float64
	PhaseDelta     float64
	FrequencyDelta float64
}

// FrameConfig is a channel's initial frame: carrier frequency in cycles
// per time unit and phase in radians.
type FrameConfig struct {
	Frequency float64
	Phase     float64
}

// MeasureInstruction schedules a projective measurement of one qubit into
// one classical memory slot.
type MeasureInstruction struct {
	Time  float64
	Qubit int
	Slot  int
}

// Schedule is the full pulse program for one run: channel segments, frame
// instructions, and measurement instructions over [0, Duration]. It is
// owned by the caller and must not be mutated after Validate.
type Schedule struct {
	Duration     float64
	Segments     []Segment
	Frames       map[string]FrameConfig
	FrameChanges []FrameChange
	Measurements []MeasureInstruction
}

// Channels returns the sorted set of channel names the schedule defines: a
// channel exists if it has segments, an initial frame, or frame changes.
func (s *Schedule) Channels() []string {
	set := make(map[string]struct{})
	for _, seg := range s.Segments {
		set[seg.Channel] = struct{}{}
	}
	for name := range s.Frames {
		set[name] = struct{}{}
	}
	for _, fc := range s.FrameChanges {
		set[fc.Channel] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasChannel reports whether name is in the schedule's channel set.
func (s *Schedule) HasChannel(name string) bool {
	for _, c := range s.Channels() {
		if c == name {
			return true
		}
	}
	return false
}

// Validate checks the schedule's structural invariants. A run must not
// start if Validate fails.
func (s *Schedule) Validate() error {
	if s.Duration <= 0 {
		return fmt.Errorf("duration %g: %w", s.Duration, ErrInvalidSchedule)
	}

	byChannel := make(map[string][]Segment)
	for i, seg := range s.Segments {
		if seg.Channel == "" {
			return fmt.Errorf("segment %d: empty channel name: %w", i, ErrInvalidSchedule)
		}
		if seg.Start < 0 || seg.Duration <= 0 || seg.End() > s.Duration {
			return fmt.Errorf("segment %d on %q: window [%g, %g) outside schedule: %w",
				i, seg.Channel, seg.Start, seg.End(), ErrInvalidSchedule)
		}
		hasSamples := len(seg.Samples) > 0
		hasShape := seg.Shape != nil
		if hasSamples == hasShape {
			return fmt.Errorf("segment %d on %q: need exactly one of samples or shape: %w",
				i, seg.Channel, ErrInvalidSchedule)
		}
		if hasSamples && seg.SampleDT < 0 {
			return fmt.Errorf("segment %d on %q: negative sample spacing: %w", i, seg.Channel, ErrInvalidSchedule)
		}
		byChannel[seg.Channel] = append(byChannel[seg.Channel], seg)
	}

	for name, segs := range byChannel {
		sort.Slice(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
		for i := 1; i < len(segs); i++ {
			if segs[i].Start < segs[i-1].End() {
				return fmt.Errorf("channel %q: segments overlap at t=%g: %w", name, segs[i].Start, ErrInvalidSchedule)
			}
		}
	}

	for i, fc := range s.FrameChanges {
		if fc.Channel == "" {
			return fmt.Errorf("frame change %d: empty channel name: %w", i, ErrInvalidSchedule)
		}
		if fc.Time < 0 || fc.Time > s.Duration {
			return fmt.Errorf("frame change %d on %q: time %g outside schedule: %w",
				i, fc.Channel, fc.Time, ErrInvalidSchedule)
		}
	}

	for i, m := range s.Measurements {
		if m.Time < 0 || m.Time > s.Duration {
			return fmt.Errorf("measurement %d: time %g outside schedule: %w", i, m.Time, ErrInvalidSchedule)
		}
		if m.Qubit < 0 || m.Slot < 0 {
			return fmt.Errorf("measurement %d: negative qubit or slot: %w", i, ErrInvalidSchedule)
		}
	}
	return nil
}

// SortedMeasurements returns the measurement instructions in time order.
func (s *Schedule) SortedMeasurements() []MeasureInstruction {
	out := make([]MeasureInstruction, len(s.Measurements))
	copy(out, s.Measurements)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
