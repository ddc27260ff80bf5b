package sparse

import "errors"

// Package-level sentinel errors. Callers match these with errors.Is;
// contextual wrapping happens at the call site with fmt.Errorf and %w.
var (
	// ErrBadDimension is returned when a matrix is built with a
	// non-positive dimension.
	ErrBadDimension = errors.New("sparse: invalid dimension")

	// ErrIndexOutOfRange is returned when a triplet references a row or
	// column outside [0, n).
	ErrIndexOutOfRange = errors.New("sparse: index out of range")

	// ErrDimensionMismatch is returned when operand dimensions are
	// incompatible (matrix-vector or matrix-matrix).
	ErrDimensionMismatch = errors.New("sparse: dimension mismatch")

	// ErrStructureMismatch is returned by AddScaled and Conform when the
	// sparsity patterns involved are not compatible. A structure mismatch
	// during generator assembly indicates malformed upstream input and is
	// fatal to the whole run.
	ErrStructureMismatch = errors.New("sparse: sparsity structure mismatch")
)
