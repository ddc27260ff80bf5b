// Package quantum holds the dense complex state vector owned by a single
// trajectory and the vector operations the integrator and the measurement
// sampler are built from. A State is never shared between trajectories.
package quantum

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/quantaly/pulsesim/internal/sparse"
)

// ErrZeroNorm is returned when a state cannot be normalized because its
// norm vanished (for example after projecting onto an impossible outcome).
var ErrZeroNorm = errors.New("quantum: zero-norm state")

// State is a dense complex vector. For an n-qubit wavefunction the length
// is 2^n; a vectorized density matrix is simply a longer vector with
// superoperator matrices supplied by the caller.
type State struct {
	Amps []complex128
}

// New returns the computational ground state |0...0> of the given dimension.
func New(dim int) *State {
	amps := make([]complex128, dim)
	amps[0] = 1
	return &State{Amps: amps}
}

// NewFromAmplitudes returns a state with a private copy of amps.
func NewFromAmplitudes(amps []complex128) *State {
	cp := make([]complex128, len(amps))
	copy(cp, amps)
	return &State{Amps: cp}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	return NewFromAmplitudes(s.Amps)
}

// Dim returns the vector length.
func (s *State) Dim() int { return len(s.Amps) }

// NormSq returns the squared 2-norm ⟨ψ|ψ⟩.
func (s *State) NormSq() float64 {
	var acc float64
	for _, a := range s.Amps {
		acc += real(a)*real(a) + imag(a)*imag(a)
	}
	return acc
}

// Norm returns the 2-norm.
func (s *State) Norm() float64 {
	return math.Sqrt(s.NormSq())
}

// Normalize rescales the state to unit norm in place.
func (s *State) Normalize() error {
	n := s.Norm()
	if n < 1e-300 {
		return ErrZeroNorm
	}
	inv := complex(1/n, 0)
	for i := range s.Amps {
		s.Amps[i] *= inv
	}
	return nil
}

// IsFinite reports whether every amplitude is finite (no NaN or Inf in
// either component).
func (s *State) IsFinite() bool {
	for _, a := range s.Amps {
		if cmplx.IsNaN(a) || cmplx.IsInf(a) {
			return false
		}
	}
	return true
}

// Inner returns ⟨s|other⟩.
func (s *State) Inner(other *State) complex128 {
	var acc complex128
	for i, a := range s.Amps {
		acc += cmplx.Conj(a) * other.Amps[i]
	}
	return acc
}

// Expectation computes ⟨ψ|A|ψ⟩ using scratch as the intermediate A·ψ
// buffer. scratch must have the state's length and not alias Amps.
func (s *State) Expectation(op *sparse.Matrix, scratch []complex128) (complex128, error) {
	if err := op.MulVec(scratch, s.Amps); err != nil {
		return 0, fmt.Errorf("expectation: %w", err)
	}
	var acc complex128
	for i, a := range s.Amps {
		acc += cmplx.Conj(a) * scratch[i]
	}
	return acc, nil
}

// Apply replaces the state with A·ψ, using scratch as the multiply target.
// The state is left unnormalized; callers decide whether to renormalize.
func (s *State) Apply(op *sparse.Matrix, scratch []complex128) error {
	if err := op.MulVec(scratch, s.Amps); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	copy(s.Amps, scratch)
	return nil
}

// CopyFrom overwrites the state's amplitudes with those of other.
func (s *State) CopyFrom(other *State) {
	copy(s.Amps, other.Amps)
}
