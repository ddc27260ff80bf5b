package measure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_ResetAndWrite(t *testing.T) {
	r := NewRegister(3, true)

	assert.False(t, r.Written(0))
	require.NoError(t, r.Write(0, 1))
	assert.True(t, r.Written(0))

	r.Reset()
	assert.False(t, r.Written(0))
}

func TestRegister_IdempotentWrite(t *testing.T) {
	r := NewRegister(2, true)
	require.NoError(t, r.Write(1, 0))
	assert.NoError(t, r.Write(1, 0), "same-value rewrite is idempotent")
}

func TestRegister_ConflictingWrite(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		r := NewRegister(2, true)
		require.NoError(t, r.Write(1, 0))
		assert.ErrorIs(t, r.Write(1, 1), ErrConflictingWrite)
	})

	t.Run("lenient overwrites", func(t *testing.T) {
		r := NewRegister(2, false)
		require.NoError(t, r.Write(1, 0))
		require.NoError(t, r.Write(1, 1))
		assert.Equal(t, int8(1), r.Snapshot()[1])
	})

	t.Run("reset clears the conflict", func(t *testing.T) {
		r := NewRegister(2, true)
		require.NoError(t, r.Write(1, 0))
		r.Reset()
		assert.NoError(t, r.Write(1, 1))
	})
}

func TestRegister_WriteValidation(t *testing.T) {
	r := NewRegister(2, true)
	assert.ErrorIs(t, r.Write(5, 0), ErrBadSlot)
	assert.ErrorIs(t, r.Write(-1, 0), ErrBadSlot)
	assert.ErrorIs(t, r.Write(0, 2), ErrBadBit)
}

func TestRegister_Snapshot_Copies(t *testing.T) {
	r := NewRegister(2, true)
	require.NoError(t, r.Write(0, 1))

	snap := r.Snapshot()
	assert.Equal(t, []int8{1, -1}, snap)

	snap[0] = 0
	assert.Equal(t, []int8{1, -1}, r.Snapshot(), "snapshot must not alias the register")
}

func TestRegister_Bitstring(t *testing.T) {
	r := NewRegister(3, true)
	require.NoError(t, r.Write(0, 1))
	require.NoError(t, r.Write(2, 1))

	// Slot 0 is rightmost; unset slot 1 renders as 0.
	assert.Equal(t, "101", r.Bitstring())
}
