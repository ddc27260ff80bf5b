// Package hamiltonian assembles the instantaneous generator of a pulse
// simulation from static operator terms, channel-modulated terms, and
// collapse operators. Terms are a closed set of kinds; the builder
// precomputes the union sparsity pattern once so each time step only
// rewrites matrix values, never structure.
package hamiltonian

import (
	"errors"
	"fmt"

	"github.com/quantaly/pulsesim/internal/pulse"
	"github.com/quantaly/pulsesim/internal/sparse"
)

var (
	// ErrEmptyModel is returned when a builder is constructed with no
	// Hamiltonian terms at all.
	ErrEmptyModel = errors.New("hamiltonian: no terms")

	// ErrInvalidCollapse is returned for collapse operators with a
	// missing matrix or a negative rate.
	ErrInvalidCollapse = errors.New("hamiltonian: invalid collapse operator")
)

// Term is a time-independent Hamiltonian term.
type Term struct {
	Op *sparse.Matrix
}

// ChannelTerm is a Hamiltonian term scaled by the instantaneous value of a
// named control channel.
type ChannelTerm struct {
	Channel string
	Op      *sparse.Matrix
}

// CollapseOperator pairs a dissipation operator with its rate. The list is
// fixed for the whole simulation and shared read-only across trajectories.
type CollapseOperator struct {
	Op   *sparse.Matrix
	Rate float64
}

// Builder caches everything the per-step assembly needs: term copies laid
// out on the shared union structure, the summed static part, the damping
// part ½ Σ rate·L†L, and the per-operator L†L squares used for jump
// weights. A Builder is immutable after construction and safe for
// concurrent use by parallel trajectories.
type Builder struct {
	dim       int
	structure *sparse.Matrix

	staticSum    *sparse.Matrix
	channelTerms []channelTerm
	dampSum      *sparse.Matrix // ½ Σ rate_k · L_k†L_k, nil without collapse ops

	collapse []CollapseOperator
	squares  []*sparse.Matrix // L_k†L_k, parallel to collapse
}

type channelTerm struct {
	channel string
	op      *sparse.Matrix // conformed to the union structure
}

// NewBuilder validates the model against the schedule and precomputes the
// cached structures. A ChannelTerm naming a channel absent from the
// schedule fails with pulse.ErrUndefinedChannel before any trajectory
// starts.
func NewBuilder(static []Term, channel []ChannelTerm, collapse []CollapseOperator, sched *pulse.Schedule) (*Builder, error) {
	if len(static) == 0 && len(channel) == 0 {
		return nil, ErrEmptyModel
	}

	var dim int
	ops := make([]*sparse.Matrix, 0, len(static)+len(channel)+len(collapse))
	checkDim := func(op *sparse.Matrix, what string) error {
		if op == nil {
			return fmt.Errorf("%s: nil operator: %w", what, ErrEmptyModel)
		}
		if dim == 0 {
			dim = op.Dim()
		}
		if op.Dim() != dim {
			return fmt.Errorf("%s: dimension %d vs %d: %w", what, op.Dim(), dim, sparse.ErrDimensionMismatch)
		}
		return nil
	}

	for i, term := range static {
		if err := checkDim(term.Op, fmt.Sprintf("static term %d", i)); err != nil {
			return nil, err
		}
		ops = append(ops, term.Op)
	}
	for i, term := range channel {
		if err := checkDim(term.Op, fmt.Sprintf("channel term %d", i)); err != nil {
			return nil, err
		}
		if !sched.HasChannel(term.Channel) {
			return nil, fmt.Errorf("channel term %d references %q: %w", i, term.Channel, pulse.ErrUndefinedChannel)
		}
		ops = append(ops, term.Op)
	}

	squares := make([]*sparse.Matrix, len(collapse))
	for i, c := range collapse {
		if c.Op == nil || c.Rate < 0 {
			return nil, fmt.Errorf("collapse operator %d: %w", i, ErrInvalidCollapse)
		}
		if err := checkDim(c.Op, fmt.Sprintf("collapse operator %d", i)); err != nil {
			return nil, err
		}
		sq, err := c.Op.DagMul()
		if err != nil {
			return nil, fmt.Errorf("collapse operator %d: %w", i, err)
		}
		squares[i] = sq
		ops = append(ops, sq)
	}

	structure, err := sparse.Union(ops...)
	if err != nil {
		return nil, fmt.Errorf("union structure: %w", err)
	}

	b := &Builder{
		dim:       dim,
		structure: structure,
		collapse:  append([]CollapseOperator(nil), collapse...),
		squares:   squares,
	}

	b.staticSum = structure.Clone()
	for i, term := range static {
		conformed, err := term.Op.Conform(structure)
		if err != nil {
			return nil, fmt.Errorf("static term %d: %w", i, err)
		}
		if err := b.staticSum.AddScaled(conformed, 1); err != nil {
			return nil, fmt.Errorf("static term %d: %w", i, err)
		}
	}

	for _, term := range channel {
		conformed, err := term.Op.Conform(structure)
		if err != nil {
			return nil, fmt.Errorf("channel term %q: %w", term.Channel, err)
		}
		b.channelTerms = append(b.channelTerms, channelTerm{channel: term.Channel, op: conformed})
	}

	if len(collapse) > 0 {
		b.dampSum = structure.Clone()
		for i, sq := range squares {
			conformed, err := sq.Conform(structure)
			if err != nil {
				return nil, fmt.Errorf("collapse operator %d: %w", i, err)
			}
			if err := b.dampSum.AddScaled(conformed, complex(0.5*collapse[i].Rate, 0)); err != nil {
				return nil, fmt.Errorf("collapse operator %d: %w", i, err)
			}
		}
	}

	return b, nil
}

// Dim returns the operator dimension.
func (b *Builder) Dim() int { return b.dim }

// NewGenerator returns a zero-valued matrix with the cached union
// structure, for use as the dst of the per-step assembly calls. Each
// trajectory allocates its own.
func (b *Builder) NewGenerator() *sparse.Matrix {
	return b.structure.Clone()
}

// CollapseOperators returns the collapse operators in their fixed order.
func (b *Builder) CollapseOperators() []CollapseOperator { return b.collapse }

// CollapseSquares returns the precomputed L†L matrices, parallel to
// CollapseOperators.
func (b *Builder) CollapseSquares() []*sparse.Matrix { return b.squares }

// GeneratorAt writes H(t) = Σ static + Σ_c value_c(t)·Op_c into dst, which
// must have been obtained from NewGenerator. ev is the calling
// trajectory's evaluator.
func (b *Builder) GeneratorAt(t float64, ev *pulse.Evaluator, dst *sparse.Matrix) error {
	dst.Zero()
	if err := dst.AddScaled(b.staticSum, 1); err != nil {
		return fmt.Errorf("generator at t=%g: %w", t, err)
	}
	for _, term := range b.channelTerms {
		v, err := ev.ValueAt(term.channel, t)
		if err != nil {
			return fmt.Errorf("generator at t=%g: %w", t, err)
		}
		if v == 0 {
			continue
		}
		if err := dst.AddScaled(term.op, v); err != nil {
			return fmt.Errorf("generator at t=%g: %w", t, err)
		}
	}
	return nil
}

// EffectiveGeneratorAt writes the non-Hermitian drift generator
// G(t) = −i·H(t) − ½ Σ rate_k·L_k†L_k into dst, so dψ/dt = G·ψ is the
// deterministic between-jump evolution.
func (b *Builder) EffectiveGeneratorAt(t float64, ev *pulse.Evaluator, dst *sparse.Matrix) error {
	dst.Zero()
	if err := dst.AddScaled(b.staticSum, -1i); err != nil {
		return fmt.Errorf("effective generator at t=%g: %w", t, err)
	}
	for _, term := range b.channelTerms {
		v, err := ev.ValueAt(term.channel, t)
		if err != nil {
			return fmt.Errorf("effective generator at t=%g: %w", t, err)
		}
		if v == 0 {
			continue
		}
		if err := dst.AddScaled(term.op, -1i*v); err != nil {
			return fmt.Errorf("effective generator at t=%g: %w", t, err)
		}
	}
	if b.dampSum != nil {
		if err := dst.AddScaled(b.dampSum, -1); err != nil {
			return fmt.Errorf("effective generator at t=%g: %w", t, err)
		}
	}
	return nil
}
