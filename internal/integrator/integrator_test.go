package integrator

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaly/pulsesim/internal/hamiltonian"
	"github.com/quantaly/pulsesim/internal/measure"
	"github.com/quantaly/pulsesim/internal/pulse"
	"github.com/quantaly/pulsesim/internal/quantum"
	"github.com/quantaly/pulsesim/internal/rng"
	"github.com/quantaly/pulsesim/internal/sparse"
)

func sigmaZ(t *testing.T) *hamiltonian.Term {
	t.Helper()
	m := mustMatrix(t, 2, []sparse.Triplet{{Row: 0, Col: 0, Val: 1}, {Row: 1, Col: 1, Val: -1}})
	return &hamiltonian.Term{Op: m}
}

func mustMatrix(t *testing.T, n int, ts []sparse.Triplet) *sparse.Matrix {
	t.Helper()
	m, err := sparse.NewFromTriplets(n, ts)
	require.NoError(t, err)
	return m
}

func emptySchedule(duration float64) *pulse.Schedule {
	return &pulse.Schedule{Duration: duration}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok fixed", Config{StepSize: 0.01}, false},
		{"ok adaptive", Config{StepSize: 0.01, Tolerance: 1e-8}, false},
		{"zero step", Config{}, true},
		{"negative tolerance", Config{StepSize: 0.01, Tolerance: -1}, true},
		{"negative min step", Config{StepSize: 0.01, MinStep: -1}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_UnitaryPhaseEvolution(t *testing.T) {
	// H = σz on (|0⟩+|1⟩)/√2: amplitudes acquire e^{∓it} and the norm
	// stays 1. Closed form is checkable to RK4 accuracy.
	sched := emptySchedule(1)
	require.NoError(t, sched.Validate())
	b, err := hamiltonian.NewBuilder([]hamiltonian.Term{*sigmaZ(t)}, nil, nil, sched)
	require.NoError(t, err)
	it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), Config{StepSize: 1e-3})
	require.NoError(t, err)

	inv := complex(1/math.Sqrt2, 0)
	st := quantum.NewFromAmplitudes([]complex128{inv, inv})
	reg := measure.NewRegister(1, true)
	stats, err := it.Run(st, reg, pulse.NewEvaluator(sched, nil), rng.NewStream(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1000, stats.Steps)
	assert.Zero(t, stats.Jumps)

	want0 := inv * cmplx.Exp(complex(0, -1))
	want1 := inv * cmplx.Exp(complex(0, 1))
	assert.InDelta(t, real(want0), real(st.Amps[0]), 1e-9)
	assert.InDelta(t, imag(want0), imag(st.Amps[0]), 1e-9)
	assert.InDelta(t, real(want1), real(st.Amps[1]), 1e-9)
	assert.InDelta(t, imag(want1), imag(st.Amps[1]), 1e-9)
	assert.InDelta(t, 1.0, st.NormSq(), 1e-9)
}

func TestNoJumpDecay_MatchesSurvivalProbability(t *testing.T) {
	// Pure decay of |1⟩ with rate γ: between jumps the unnormalized
	// norm² is exactly the survival probability e^{-γt}. Drive the
	// deterministic drift directly through the RK4 kernel.
	const gamma = 2.0
	sched := emptySchedule(1)
	require.NoError(t, sched.Validate())
	sm := mustMatrix(t, 2, []sparse.Triplet{{Row: 0, Col: 1, Val: 1}}) // σ-
	b, err := hamiltonian.NewBuilder(
		[]hamiltonian.Term{*sigmaZ(t)},
		nil,
		[]hamiltonian.CollapseOperator{{Op: sm, Rate: gamma}},
		sched,
	)
	require.NoError(t, err)
	it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), Config{StepSize: 1e-3})
	require.NoError(t, err)

	st := quantum.NewFromAmplitudes([]complex128{0, 1})
	tr := &trajectory{
		it:      it,
		st:      st,
		ev:      pulse.NewEvaluator(sched, nil),
		k1:      make([]complex128, 2),
		k2:      make([]complex128, 2),
		k3:      make([]complex128, 2),
		k4:      make([]complex128, 2),
		ytmp:    make([]complex128, 2),
		yhalf:   make([]complex128, 2),
		scratch: make([]complex128, 2),
	}
	for i := range tr.gens {
		tr.gens[i] = b.NewGenerator()
	}

	h := 1e-3
	for step := 0; step < 1000; step++ {
		tc := float64(step) * h
		require.NoError(t, tr.rk4Step(tc, h, st.Amps, 0, 2, 4))
	}

	assert.InDelta(t, math.Exp(-gamma*1.0), st.NormSq(), 1e-6)
}

func TestRun_JumpStatistics(t *testing.T) {
	// Decay with γT = ln 2: the no-jump (still excited) fraction over
	// many trajectories approaches 1/2. Measure each shot at the end.
	gamma := math.Ln2
	sched := &pulse.Schedule{
		Duration:     1,
		Measurements: []pulse.MeasureInstruction{{Time: 1, Qubit: 0, Slot: 0}},
	}
	require.NoError(t, sched.Validate())
	sm := mustMatrix(t, 2, []sparse.Triplet{{Row: 0, Col: 1, Val: 1}})
	b, err := hamiltonian.NewBuilder(
		[]hamiltonian.Term{*sigmaZ(t)},
		nil,
		[]hamiltonian.CollapseOperator{{Op: sm, Rate: gamma}},
		sched,
	)
	require.NoError(t, err)
	it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), Config{StepSize: 0.005})
	require.NoError(t, err)

	const shots = 2000
	excited := 0
	jumps := 0
	for i := 0; i < shots; i++ {
		st := quantum.NewFromAmplitudes([]complex128{0, 1})
		reg := measure.NewRegister(1, true)
		stats, err := it.Run(st, reg, pulse.NewEvaluator(sched, nil), rng.NewStream(4242, i))
		require.NoError(t, err)
		jumps += stats.Jumps
		if reg.Snapshot()[0] == 1 {
			excited++
		}
	}

	assert.InDelta(t, 0.5, float64(excited)/shots, 0.05)
	assert.InDelta(t, 0.5, float64(jumps)/shots, 0.05, "each decayed shot jumps exactly once")
}

func TestRun_JumpCollapsesToGround(t *testing.T) {
	// With a huge rate every trajectory jumps almost immediately and
	// finishes in |0⟩.
	sched := emptySchedule(1)
	require.NoError(t, sched.Validate())
	sm := mustMatrix(t, 2, []sparse.Triplet{{Row: 0, Col: 1, Val: 1}})
	b, err := hamiltonian.NewBuilder(
		[]hamiltonian.Term{*sigmaZ(t)},
		nil,
		[]hamiltonian.CollapseOperator{{Op: sm, Rate: 50}},
		sched,
	)
	require.NoError(t, err)
	it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), Config{StepSize: 0.002})
	require.NoError(t, err)

	st := quantum.NewFromAmplitudes([]complex128{0, 1})
	reg := measure.NewRegister(1, true)
	stats, err := it.Run(st, reg, pulse.NewEvaluator(sched, nil), rng.NewStream(7, 0))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, stats.Jumps, 1)
	assert.InDelta(t, 1.0, real(st.Amps[0])*real(st.Amps[0])+imag(st.Amps[0])*imag(st.Amps[0]), 1e-9)
}

func TestRun_MeasurementInstructions(t *testing.T) {
	sched := &pulse.Schedule{
		Duration: 1,
		Measurements: []pulse.MeasureInstruction{
			{Time: 0.5, Qubit: 0, Slot: 0},
			{Time: 1, Qubit: 0, Slot: 1},
		},
	}
	require.NoError(t, sched.Validate())
	b, err := hamiltonian.NewBuilder([]hamiltonian.Term{*sigmaZ(t)}, nil, nil, sched)
	require.NoError(t, err)
	it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), Config{StepSize: 0.01})
	require.NoError(t, err)

	st := quantum.New(2) // |0⟩: both measurements read 0 with certainty
	reg := measure.NewRegister(2, true)
	stats, err := it.Run(st, reg, pulse.NewEvaluator(sched, nil), rng.NewStream(5, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Measurements)
	assert.Equal(t, []int8{0, 0}, reg.Snapshot())
}

func TestRun_Diverged(t *testing.T) {
	// A NaN drive envelope poisons the generator; the run must fail with
	// ErrIntegrationDiverged instead of returning garbage.
	sched := &pulse.Schedule{
		Duration: 1,
		Segments: []pulse.Segment{
			{Channel: "d0", Start: 0, Duration: 1, Shape: func(float64) complex128 {
				return complex(math.NaN(), 0)
			}},
		},
	}
	require.NoError(t, sched.Validate())
	sx := mustMatrix(t, 2, []sparse.Triplet{{Row: 0, Col: 1, Val: 1}, {Row: 1, Col: 0, Val: 1}})
	b, err := hamiltonian.NewBuilder(
		[]hamiltonian.Term{*sigmaZ(t)},
		[]hamiltonian.ChannelTerm{{Channel: "d0", Op: sx}},
		nil, sched,
	)
	require.NoError(t, err)
	it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), Config{StepSize: 0.1})
	require.NoError(t, err)

	st := quantum.New(2)
	_, err = it.Run(st, measure.NewRegister(1, true), pulse.NewEvaluator(sched, nil), rng.NewStream(1, 0))
	assert.ErrorIs(t, err, ErrIntegrationDiverged)
}

func TestRun_AdaptiveMatchesFixed(t *testing.T) {
	sched := emptySchedule(1)
	require.NoError(t, sched.Validate())
	b, err := hamiltonian.NewBuilder([]hamiltonian.Term{*sigmaZ(t)}, nil, nil, sched)
	require.NoError(t, err)

	run := func(cfg Config) *quantum.State {
		it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), cfg)
		require.NoError(t, err)
		inv := complex(1/math.Sqrt2, 0)
		st := quantum.NewFromAmplitudes([]complex128{inv, inv})
		_, err = it.Run(st, measure.NewRegister(1, true), pulse.NewEvaluator(sched, nil), rng.NewStream(8, 0))
		require.NoError(t, err)
		return st
	}

	fixed := run(Config{StepSize: 1e-4})
	adaptive := run(Config{StepSize: 0.05, Tolerance: 1e-10})

	for i := range fixed.Amps {
		assert.InDelta(t, real(fixed.Amps[i]), real(adaptive.Amps[i]), 1e-6)
		assert.InDelta(t, imag(fixed.Amps[i]), imag(adaptive.Amps[i]), 1e-6)
	}
}

func TestRun_DimensionMismatch(t *testing.T) {
	sched := emptySchedule(1)
	require.NoError(t, sched.Validate())
	b, err := hamiltonian.NewBuilder([]hamiltonian.Term{*sigmaZ(t)}, nil, nil, sched)
	require.NoError(t, err)
	it, err := New(b, sched, measure.NewSampler(false, measure.ReadoutError{}), Config{StepSize: 0.1})
	require.NoError(t, err)

	st := quantum.New(4)
	_, err = it.Run(st, measure.NewRegister(1, true), pulse.NewEvaluator(sched, nil), rng.NewStream(1, 0))
	assert.Error(t, err)
}
