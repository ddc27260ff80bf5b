// Package rng provides the explicit per-trajectory random streams the
// simulator's determinism guarantee rests on. Every trajectory derives its
// own seed from the run seed plus its shot index, so two runs with the same
// seed and inputs reproduce identical jump times, measurement outcomes and
// aggregate histograms regardless of worker scheduling.
package rng

import (
	mrand "math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// DeriveSeed mixes the run seed with a shot index through a splitmix64
// round, decorrelating neighbouring shots without per-shot state.
func DeriveSeed(runSeed uint64, shot int) uint64 {
	z := runSeed + uint64(shot+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Stream is one trajectory's private random source. Not safe for
// concurrent use; each trajectory owns exactly one.
type Stream struct {
	uniform distuv.Uniform
}

// NewStream returns the deterministic stream for the given run seed and
// shot index.
func NewStream(runSeed uint64, shot int) *Stream {
	src := mrand.NewPCG(runSeed, DeriveSeed(runSeed, shot))
	return &Stream{
		uniform: distuv.Uniform{Min: 0, Max: 1, Src: src},
	}
}

// Uniform draws from [0, 1).
func (s *Stream) Uniform() float64 {
	return s.uniform.Rand()
}

// Pick selects an index with probability proportional to its weight.
// Negative weights count as zero. Returns -1 when all weights vanish.
func (s *Stream) Pick(weights []float64) int {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	r := s.Uniform() * total
	var acc float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		if r < acc {
			return i
		}
	}
	// Floating-point slack lands on the last positive weight.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return -1
}
