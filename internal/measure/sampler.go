package measure

import (
	"fmt"

	"github.com/quantaly/pulsesim/internal/quantum"
	"github.com/quantaly/pulsesim/internal/rng"
)

// ReadoutError models classical readout noise: P01 is the probability a
// true 0 is recorded as 1, P10 the probability a true 1 is recorded as 0.
// The flip affects only the recorded bit; the physical collapse always
// follows the true outcome.
type ReadoutError struct {
	P01 float64
	P10 float64
}

func (re ReadoutError) enabled() bool { return re.P01 > 0 || re.P10 > 0 }

// Sampler performs projective single-qubit measurements. A Sampler holds
// only policy and is safe to share across trajectories; all mutable state
// (quantum state, register, random stream) belongs to the caller.
type Sampler struct {
	allowRemeasure bool
	readout        ReadoutError
}

// NewSampler returns a sampler with the given re-measurement policy and
// readout-error model.
func NewSampler(allowRemeasure bool, readout ReadoutError) *Sampler {
	return &Sampler{allowRemeasure: allowRemeasure, readout: readout}
}

// Measure samples an outcome for qubit from the state's amplitudes (Born
// rule over the qubit's bit partition), collapses the state in place onto
// the sampled branch, renormalizes it, and writes the recorded bit into
// reg at slot. The return value is the recorded bit, which differs from
// the physical outcome only when a readout flip fires.
//
// The state may arrive unnormalized (unraveled no-jump evolution shrinks
// the norm); probabilities are taken relative to the current norm.
func (s *Sampler) Measure(st *quantum.State, qubit, slot int, reg *Register, stream *rng.Stream) (int, error) {
	bit := 1 << uint(qubit)
	if qubit < 0 || bit >= st.Dim() {
		return 0, fmt.Errorf("qubit %d against dimension %d: %w", qubit, st.Dim(), ErrBadQubit)
	}
	if !s.allowRemeasure && reg.Written(slot) {
		return 0, fmt.Errorf("slot %d: %w", slot, ErrAlreadyMeasured)
	}

	var total, p1 float64
	for i, a := range st.Amps {
		m := real(a)*real(a) + imag(a)*imag(a)
		total += m
		if i&bit != 0 {
			p1 += m
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("measure qubit %d: %w", qubit, quantum.ErrZeroNorm)
	}
	p0 := 1 - p1/total

	outcome := 1
	if stream.Uniform() < p0 {
		outcome = 0
	}

	// Collapse onto the sampled branch with the true outcome.
	for i := range st.Amps {
		if (i&bit != 0) != (outcome == 1) {
			st.Amps[i] = 0
		}
	}
	if err := st.Normalize(); err != nil {
		return 0, fmt.Errorf("collapse qubit %d: %w", qubit, err)
	}

	recorded := outcome
	if s.readout.enabled() {
		flip := stream.Uniform()
		switch {
		case outcome == 0 && flip < s.readout.P01:
			recorded = 1
		case outcome == 1 && flip < s.readout.P10:
			recorded = 0
		}
	}

	if err := reg.Write(slot, recorded); err != nil {
		return recorded, err
	}
	return recorded, nil
}
