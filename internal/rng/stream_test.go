package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSeed_Deterministic(t *testing.T) {
	assert.Equal(t, DeriveSeed(42, 7), DeriveSeed(42, 7))
	assert.NotEqual(t, DeriveSeed(42, 7), DeriveSeed(42, 8))
	assert.NotEqual(t, DeriveSeed(42, 7), DeriveSeed(43, 7))
}

func TestStream_Reproducible(t *testing.T) {
	a := NewStream(1234, 5)
	b := NewStream(1234, 5)

	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Uniform(), b.Uniform())
	}
}

func TestStream_ShotsDecorrelated(t *testing.T) {
	a := NewStream(1234, 0)
	b := NewStream(1234, 1)

	same := 0
	for i := 0; i < 100; i++ {
		if a.Uniform() == b.Uniform() {
			same++
		}
	}
	assert.Zero(t, same, "neighbouring shots should not share draws")
}

func TestUniform_Range(t *testing.T) {
	s := NewStream(9, 0)
	for i := 0; i < 1000; i++ {
		v := s.Uniform()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestPick(t *testing.T) {
	testCases := []struct {
		name    string
		weights []float64
		wantAny []int
	}{
		{"single weight", []float64{1}, []int{0}},
		{"zero weight skipped", []float64{0, 1}, []int{1}},
		{"negative treated as zero", []float64{-1, 2}, []int{1}},
		{"two positive", []float64{1, 3}, []int{0, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStream(77, 3)
			for i := 0; i < 200; i++ {
				got := s.Pick(tc.weights)
				assert.Contains(t, tc.wantAny, got)
			}
		})
	}
}

func TestPick_AllZero(t *testing.T) {
	s := NewStream(1, 0)
	assert.Equal(t, -1, s.Pick([]float64{0, 0}))
	assert.Equal(t, -1, s.Pick(nil))
}

func TestPick_FrequenciesRoughlyProportional(t *testing.T) {
	s := NewStream(2024, 0)
	counts := [2]int{}
	const n = 100000
	for i := 0; i < n; i++ {
		counts[s.Pick([]float64{1, 3})]++
	}
	assert.InDelta(t, 0.25, float64(counts[0])/n, 0.02)
	assert.InDelta(t, 0.75, float64(counts[1])/n, 0.02)
}
