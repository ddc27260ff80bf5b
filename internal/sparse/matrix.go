// Package sparse implements compressed sparse row storage for square
// complex matrices together with the fused kernels the simulator is built
// on: matrix-vector products, structure-preserving scaled accumulation,
// and conjugate-transpose products for collapse-operator squares.
//
// A Matrix is immutable in structure once built. Only the stored values
// change afterwards (Zero, Scale, AddScaled), which is what makes per-step
// generator assembly cheap: the sparsity pattern is computed once and every
// time step rewrites values in place.
package sparse

import (
	"fmt"
	"math/cmplx"
	"sort"
)

// tidyTol drops entries whose magnitude falls below this threshold after
// duplicate summing, so cancelling triplets do not inflate the pattern.
const tidyTol = 1e-15

// Triplet is a single (row, col, value) entry used to build a Matrix.
type Triplet struct {
	Row, Col int
	Val      complex128
}

// Matrix is a square complex matrix in CSR form.
//
// Invariants: rowPtr has length n+1 and is non-decreasing; cols are sorted
// within each row; len(cols) == len(vals) == rowPtr[n].
type Matrix struct {
	n      int
	rowPtr []int
	cols   []int
	vals   []complex128
}

// NewFromTriplets builds an n×n matrix from triplet entries. Entries are
// sorted by (row, col) and duplicates are summed, never dropped. Entries
// that cancel to (numerically) zero are tidied away after summing.
func NewFromTriplets(n int, triplets []Triplet) (*Matrix, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dimension %d: %w", n, ErrBadDimension)
	}
	for _, t := range triplets {
		if t.Row < 0 || t.Row >= n || t.Col < 0 || t.Col >= n {
			return nil, fmt.Errorf("entry (%d,%d) outside %dx%d: %w", t.Row, t.Col, n, n, ErrIndexOutOfRange)
		}
	}

	sorted := make([]Triplet, len(triplets))
	copy(sorted, triplets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})

	m := &Matrix{
		n:      n,
		rowPtr: make([]int, n+1),
		cols:   make([]int, 0, len(sorted)),
		vals:   make([]complex128, 0, len(sorted)),
	}

	for i := 0; i < len(sorted); {
		row, col := sorted[i].Row, sorted[i].Col
		sum := sorted[i].Val
		j := i + 1
		for j < len(sorted) && sorted[j].Row == row && sorted[j].Col == col {
			sum += sorted[j].Val
			j++
		}
		if cmplx.Abs(sum) >= tidyTol {
			m.cols = append(m.cols, col)
			m.vals = append(m.vals, sum)
			m.rowPtr[row+1]++
		}
		i = j
	}
	for r := 0; r < n; r++ {
		m.rowPtr[r+1] += m.rowPtr[r]
	}
	return m, nil
}

// Identity returns the n×n identity matrix.
func Identity(n int) (*Matrix, error) {
	ts := make([]Triplet, n)
	for i := range ts {
		ts[i] = Triplet{Row: i, Col: i, Val: 1}
	}
	return NewFromTriplets(n, ts)
}

// Dim returns the matrix dimension n.
func (m *Matrix) Dim() int { return m.n }

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int { return len(m.vals) }

// At returns the entry at (i, j), zero if the position is not stored.
// Used for verification and read-back, not in hot paths.
func (m *Matrix) At(i, j int) complex128 {
	if i < 0 || i >= m.n || j < 0 || j >= m.n {
		return 0
	}
	lo, hi := m.rowPtr[i], m.rowPtr[i+1]
	k := lo + sort.SearchInts(m.cols[lo:hi], j)
	if k < hi && m.cols[k] == j {
		return m.vals[k]
	}
	return 0
}

// Triplets returns the stored nonzero entries in row-major order.
func (m *Matrix) Triplets() []Triplet {
	out := make([]Triplet, 0, len(m.vals))
	for r := 0; r < m.n; r++ {
		for k := m.rowPtr[r]; k < m.rowPtr[r+1]; k++ {
			out = append(out, Triplet{Row: r, Col: m.cols[k], Val: m.vals[k]})
		}
	}
	return out
}

// Clone returns a deep copy sharing no storage with the receiver.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{
		n:      m.n,
		rowPtr: make([]int, len(m.rowPtr)),
		cols:   make([]int, len(m.cols)),
		vals:   make([]complex128, len(m.vals)),
	}
	copy(c.rowPtr, m.rowPtr)
	copy(c.cols, m.cols)
	copy(c.vals, m.vals)
	return c
}

// Zero clears all stored values, keeping the structure.
func (m *Matrix) Zero() {
	for i := range m.vals {
		m.vals[i] = 0
	}
}

// Scale multiplies all stored values by s.
func (m *Matrix) Scale(s complex128) {
	for i := range m.vals {
		m.vals[i] *= s
	}
}

// SameStructure reports whether other has an identical sparsity pattern.
func (m *Matrix) SameStructure(other *Matrix) bool {
	if m.n != other.n || len(m.cols) != len(other.cols) {
		return false
	}
	for i := range m.rowPtr {
		if m.rowPtr[i] != other.rowPtr[i] {
			return false
		}
	}
	for i := range m.cols {
		if m.cols[i] != other.cols[i] {
			return false
		}
	}
	return true
}

// AddScaled accumulates s·other into the receiver's values. The two
// matrices must share an identical sparsity pattern; ErrStructureMismatch
// otherwise. This is the per-step hot path of generator assembly.
func (m *Matrix) AddScaled(other *Matrix, s complex128) error {
	if !m.SameStructure(other) {
		return fmt.Errorf("add scaled: %w", ErrStructureMismatch)
	}
	for i, v := range other.vals {
		m.vals[i] += s * v
	}
	return nil
}

// MulVec computes dst = A·x in O(nnz). Within each row the sum is
// accumulated left to right in column order, so identical inputs reproduce
// identical outputs bit for bit. dst must not alias x.
func (m *Matrix) MulVec(dst, x []complex128) error {
	if len(x) != m.n || len(dst) != m.n {
		return fmt.Errorf("mulvec: vector length %d/%d vs dimension %d: %w", len(dst), len(x), m.n, ErrDimensionMismatch)
	}
	for r := 0; r < m.n; r++ {
		var acc complex128
		for k := m.rowPtr[r]; k < m.rowPtr[r+1]; k++ {
			acc += m.vals[k] * x[m.cols[k]]
		}
		dst[r] = acc
	}
	return nil
}

// ConjTranspose returns the conjugate transpose (dagger) of the matrix.
func (m *Matrix) ConjTranspose() *Matrix {
	ts := make([]Triplet, 0, len(m.vals))
	for r := 0; r < m.n; r++ {
		for k := m.rowPtr[r]; k < m.rowPtr[r+1]; k++ {
			ts = append(ts, Triplet{Row: m.cols[k], Col: r, Val: cmplx.Conj(m.vals[k])})
		}
	}
	out, err := NewFromTriplets(m.n, ts)
	if err != nil {
		// Entries come from a valid matrix, so rebuild cannot fail.
		panic(err)
	}
	return out
}

// Mul computes the product a·b as a new matrix.
func Mul(a, b *Matrix) (*Matrix, error) {
	if a.n != b.n {
		return nil, fmt.Errorf("mul: %dx%d by %dx%d: %w", a.n, a.n, b.n, b.n, ErrDimensionMismatch)
	}
	// Row-at-a-time SpGEMM with a dense accumulator row.
	acc := make([]complex128, a.n)
	touched := make([]int, 0, a.n)
	seen := make([]bool, a.n)
	ts := make([]Triplet, 0, len(a.vals)+len(b.vals))

	for r := 0; r < a.n; r++ {
		touched = touched[:0]
		for ka := a.rowPtr[r]; ka < a.rowPtr[r+1]; ka++ {
			mid := a.cols[ka]
			av := a.vals[ka]
			for kb := b.rowPtr[mid]; kb < b.rowPtr[mid+1]; kb++ {
				c := b.cols[kb]
				if !seen[c] {
					seen[c] = true
					touched = append(touched, c)
				}
				acc[c] += av * b.vals[kb]
			}
		}
		for _, c := range touched {
			ts = append(ts, Triplet{Row: r, Col: c, Val: acc[c]})
			acc[c] = 0
			seen[c] = false
		}
	}
	return NewFromTriplets(a.n, ts)
}

// DagMul computes m†·m, the collapse-operator square L†L used by the
// effective generator and by jump probability weights.
func (m *Matrix) DagMul() (*Matrix, error) {
	return Mul(m.ConjTranspose(), m)
}

// Union builds the union sparsity pattern of the given matrices with all
// values zero. The result is the shared structure that per-step assembly
// accumulates into.
func Union(mats ...*Matrix) (*Matrix, error) {
	if len(mats) == 0 {
		return nil, fmt.Errorf("union of no matrices: %w", ErrBadDimension)
	}
	n := mats[0].n
	ts := make([]Triplet, 0)
	for _, m := range mats {
		if m.n != n {
			return nil, fmt.Errorf("union: dimension %d vs %d: %w", m.n, n, ErrDimensionMismatch)
		}
		for r := 0; r < m.n; r++ {
			for k := m.rowPtr[r]; k < m.rowPtr[r+1]; k++ {
				// Placeholder magnitude keeps the position through the
				// tidy pass; values are zeroed below.
				ts = append(ts, Triplet{Row: r, Col: m.cols[k], Val: 1})
			}
		}
	}
	u, err := NewFromTriplets(n, ts)
	if err != nil {
		return nil, err
	}
	u.Zero()
	return u, nil
}

// Conform returns a copy of m laid out on the given structure: the result
// has structure's sparsity pattern and m's values. Fails with
// ErrStructureMismatch if m stores an entry at a position absent from
// structure.
func (m *Matrix) Conform(structure *Matrix) (*Matrix, error) {
	if m.n != structure.n {
		return nil, fmt.Errorf("conform: dimension %d vs %d: %w", m.n, structure.n, ErrDimensionMismatch)
	}
	out := structure.Clone()
	out.Zero()
	for r := 0; r < m.n; r++ {
		for k := m.rowPtr[r]; k < m.rowPtr[r+1]; k++ {
			j := m.cols[k]
			lo, hi := out.rowPtr[r], out.rowPtr[r+1]
			p := lo + sort.SearchInts(out.cols[lo:hi], j)
			if p >= hi || out.cols[p] != j {
				return nil, fmt.Errorf("conform: entry (%d,%d) not in target structure: %w", r, j, ErrStructureMismatch)
			}
			out.vals[p] = m.vals[k]
		}
	}
	return out, nil
}
