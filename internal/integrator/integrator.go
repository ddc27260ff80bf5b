// Package integrator advances one quantum trajectory through time: RK4
// propagation under the non-Hermitian effective generator, Monte-Carlo
// collapse jumps against a running norm threshold, and scheduled
// measurement instructions. One Integrator is shared read-only by all
// trajectories; all per-trajectory scratch lives in the Run call.
package integrator

import (
	"errors"
	"fmt"
	"math"

	"github.com/quantaly/pulsesim/internal/hamiltonian"
	"github.com/quantaly/pulsesim/internal/measure"
	"github.com/quantaly/pulsesim/internal/pulse"
	"github.com/quantaly/pulsesim/internal/quantum"
	"github.com/quantaly/pulsesim/internal/rng"
	"github.com/quantaly/pulsesim/internal/sparse"
)

// ErrIntegrationDiverged is returned when the state turns non-finite
// after a step. The failure is local to one trajectory: siblings continue
// and the run reports the shot as failed.
var ErrIntegrationDiverged = errors.New("integrator: non-finite state")

// timeEps absorbs float drift when comparing scheduled times.
const timeEps = 1e-12

// Phase is the trajectory state machine of the integrator.
type Phase int

const (
	Propagating Phase = iota
	JumpPending
	Measuring
	Finished
)

// Config controls the stepping scheme. Tolerance zero selects fixed-step
// RK4 at StepSize; a positive Tolerance enables step-doubling control:
// every step computes one full and two half RK4 steps, keeps the half-step
// result, and grows or shrinks the next step from the error estimate.
// Channel frames advance forward-only, so a too-large step is never
// re-taken; the controller reacts one step late by construction.
type Config struct {
	StepSize  float64 // initial and maximum step
	Tolerance float64 // 0 disables adaptivity
	MinStep   float64 // lower bound for shrinking, defaults to StepSize/1024
}

// Validate checks the stepping parameters.
func (c Config) Validate() error {
	if c.StepSize <= 0 {
		return fmt.Errorf("integrator: step size %g must be positive", c.StepSize)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("integrator: tolerance %g must not be negative", c.Tolerance)
	}
	if c.MinStep < 0 {
		return fmt.Errorf("integrator: min step %g must not be negative", c.MinStep)
	}
	return nil
}

// Stats summarizes one trajectory's integration.
type Stats struct {
	Steps        int
	Jumps        int
	Measurements int
}

// Integrator owns the shared, immutable ingredients of trajectory
// propagation. Safe for concurrent use by parallel trajectories.
type Integrator struct {
	builder *hamiltonian.Builder
	sched   *pulse.Schedule
	sampler *measure.Sampler
	cfg     Config
}

// New returns an integrator over a validated schedule and builder.
func New(builder *hamiltonian.Builder, sched *pulse.Schedule, sampler *measure.Sampler, cfg Config) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinStep == 0 {
		cfg.MinStep = cfg.StepSize / 1024
	}
	return &Integrator{builder: builder, sched: sched, sampler: sampler, cfg: cfg}, nil
}

// trajectory is the per-run mutable scratch: generator buffers for the
// five RK4 sample times, stage vectors, and the jump threshold.
type trajectory struct {
	it     *Integrator
	st     *quantum.State
	ev     *pulse.Evaluator
	reg    *measure.Register
	stream *rng.Stream

	gens    [5]*sparse.Matrix
	k1, k2  []complex128
	k3, k4  []complex128
	ytmp    []complex128
	yhalf   []complex128
	scratch []complex128

	threshold float64
	phase     Phase
	stats     Stats
}

// Run advances one trajectory from t=0 to the schedule's end, mutating st
// and reg in place. The caller supplies the trajectory-local evaluator and
// random stream. On ErrIntegrationDiverged or a measurement policy error
// the trajectory is abandoned; shared inputs are never touched.
func (it *Integrator) Run(st *quantum.State, reg *measure.Register, ev *pulse.Evaluator, stream *rng.Stream) (Stats, error) {
	dim := it.builder.Dim()
	if st.Dim() != dim {
		return Stats{}, fmt.Errorf("integrator: state length %d vs operator dimension %d: %w",
			st.Dim(), dim, sparse.ErrDimensionMismatch)
	}

	tr := &trajectory{
		it:      it,
		st:      st,
		ev:      ev,
		reg:     reg,
		stream:  stream,
		k1:      make([]complex128, dim),
		k2:      make([]complex128, dim),
		k3:      make([]complex128, dim),
		k4:      make([]complex128, dim),
		ytmp:    make([]complex128, dim),
		yhalf:   make([]complex128, dim),
		scratch: make([]complex128, dim),
	}
	for i := range tr.gens {
		tr.gens[i] = it.builder.NewGenerator()
	}

	tr.threshold = stream.Uniform()
	tr.phase = Propagating

	if err := tr.run(); err != nil {
		return tr.stats, err
	}
	tr.phase = Finished
	return tr.stats, nil
}

func (tr *trajectory) run() error {
	end := tr.it.sched.Duration
	measurements := tr.it.sched.SortedMeasurements()
	nextMeasure := 0
	h := tr.it.cfg.StepSize
	adaptive := tr.it.cfg.Tolerance > 0

	t := 0.0
	for {
		// Fire every instruction scheduled at or before the current time.
		for nextMeasure < len(measurements) && measurements[nextMeasure].Time <= t+timeEps {
			if err := tr.measure(measurements[nextMeasure]); err != nil {
				return err
			}
			nextMeasure++
		}
		if t >= end-timeEps {
			return nil
		}

		// Clamp the step so it lands exactly on the next instruction and
		// never overshoots the schedule.
		step := h
		if remaining := end - t; step > remaining {
			step = remaining
		}
		if nextMeasure < len(measurements) {
			if until := measurements[nextMeasure].Time - t; until > timeEps && step > until {
				step = until
			}
		}

		var err error
		if adaptive {
			h, err = tr.adaptiveStep(t, step, h)
		} else {
			err = tr.rk4Step(t, step, tr.st.Amps, 0, 2, 4)
		}
		if err != nil {
			return err
		}
		tr.stats.Steps++
		t += step

		if !tr.st.IsFinite() {
			return fmt.Errorf("at t=%g: %w", t, ErrIntegrationDiverged)
		}
		if tr.st.NormSq() <= tr.threshold {
			if err := tr.jump(t); err != nil {
				return err
			}
		}
	}
}

// rk4Step advances y by one classical RK4 step of size h, assembling the
// effective generator at t, t+h/2, t+h into the generator buffers named by
// g0, gMid, g1. Assembly times are non-decreasing, as the forward-only
// evaluator requires.
func (tr *trajectory) rk4Step(t, h float64, y []complex128, g0, gMid, g1 int) error {
	b := tr.it.builder
	if err := b.EffectiveGeneratorAt(t, tr.ev, tr.gens[g0]); err != nil {
		return err
	}
	if err := b.EffectiveGeneratorAt(t+h/2, tr.ev, tr.gens[gMid]); err != nil {
		return err
	}
	if err := b.EffectiveGeneratorAt(t+h, tr.ev, tr.gens[g1]); err != nil {
		return err
	}
	return tr.rk4Apply(y, h, tr.gens[g0], tr.gens[gMid], tr.gens[g1])
}

// rk4Apply runs the four stages over already-assembled generators.
func (tr *trajectory) rk4Apply(y []complex128, h float64, g0, gMid, g1 *sparse.Matrix) error {
	hc := complex(h, 0)
	if err := g0.MulVec(tr.k1, y); err != nil {
		return err
	}
	for i := range y {
		tr.ytmp[i] = y[i] + hc/2*tr.k1[i]
	}
	if err := gMid.MulVec(tr.k2, tr.ytmp); err != nil {
		return err
	}
	for i := range y {
		tr.ytmp[i] = y[i] + hc/2*tr.k2[i]
	}
	if err := gMid.MulVec(tr.k3, tr.ytmp); err != nil {
		return err
	}
	for i := range y {
		tr.ytmp[i] = y[i] + hc*tr.k3[i]
	}
	if err := g1.MulVec(tr.k4, tr.ytmp); err != nil {
		return err
	}
	for i := range y {
		y[i] += hc / 6 * (tr.k1[i] + 2*tr.k2[i] + 2*tr.k3[i] + tr.k4[i])
	}
	return nil
}

// adaptiveStep performs step-doubling: generators are assembled once at
// the five sample times t, t+h/4, t+h/2, t+3h/4, t+h (in that order), the
// full-step and two-half-step solutions are computed from them, the
// half-step result is kept, and the returned next step size reflects the
// error estimate.
func (tr *trajectory) adaptiveStep(t, h, current float64) (float64, error) {
	b := tr.it.builder
	times := [5]float64{t, t + h/4, t + h/2, t + 3*h/4, t + h}
	for i, ti := range times {
		if err := b.EffectiveGeneratorAt(ti, tr.ev, tr.gens[i]); err != nil {
			return current, err
		}
	}

	copy(tr.yhalf, tr.st.Amps)
	if err := tr.rk4Apply(tr.yhalf, h/2, tr.gens[0], tr.gens[1], tr.gens[2]); err != nil {
		return current, err
	}
	if err := tr.rk4Apply(tr.yhalf, h/2, tr.gens[2], tr.gens[3], tr.gens[4]); err != nil {
		return current, err
	}
	if err := tr.rk4Apply(tr.st.Amps, h, tr.gens[0], tr.gens[2], tr.gens[4]); err != nil {
		return current, err
	}

	var errEst float64
	for i, full := range tr.st.Amps {
		d := full - tr.yhalf[i]
		if m := math.Hypot(real(d), imag(d)); m > errEst {
			errEst = m
		}
	}
	copy(tr.st.Amps, tr.yhalf)

	cfg := tr.it.cfg
	next := current
	switch {
	case errEst > cfg.Tolerance && next/2 >= cfg.MinStep:
		next /= 2
	case errEst < cfg.Tolerance/16 && next*2 <= cfg.StepSize:
		next *= 2
	}
	return next, nil
}

// jump resolves a collapse event: weights rate_k·⟨ψ|L†L|ψ⟩, weighted
// operator choice, state replacement L|ψ⟩ renormalized, fresh threshold.
func (tr *trajectory) jump(t float64) error {
	tr.phase = JumpPending
	defer func() { tr.phase = Propagating }()

	ops := tr.it.builder.CollapseOperators()
	squares := tr.it.builder.CollapseSquares()
	if len(ops) == 0 {
		// Norm decay without collapse operators means the model itself is
		// non-unitary; renormalize and continue.
		tr.threshold = tr.stream.Uniform()
		return tr.st.Normalize()
	}

	weights := make([]float64, len(ops))
	for k, sq := range squares {
		exp, err := tr.st.Expectation(sq, tr.scratch)
		if err != nil {
			return fmt.Errorf("jump weights at t=%g: %w", t, err)
		}
		weights[k] = ops[k].Rate * real(exp)
	}

	choice := tr.stream.Pick(weights)
	if choice < 0 {
		return fmt.Errorf("jump at t=%g: all weights vanish: %w", t, ErrIntegrationDiverged)
	}
	if err := tr.st.Apply(ops[choice].Op, tr.scratch); err != nil {
		return fmt.Errorf("jump at t=%g: %w", t, err)
	}
	if err := tr.st.Normalize(); err != nil {
		return fmt.Errorf("jump at t=%g: %w", t, err)
	}

	tr.stats.Jumps++
	tr.threshold = tr.stream.Uniform()
	return nil
}

// measure runs one scheduled measurement instruction through the sampler.
func (tr *trajectory) measure(m pulse.MeasureInstruction) error {
	tr.phase = Measuring
	defer func() { tr.phase = Propagating }()

	if _, err := tr.it.sampler.Measure(tr.st, m.Qubit, m.Slot, tr.reg, tr.stream); err != nil {
		return fmt.Errorf("measurement at t=%g: %w", m.Time, err)
	}
	tr.stats.Measurements++
	// The collapse renormalized the state; restart the no-jump clock.
	tr.threshold = tr.stream.Uniform()
	return nil
}
