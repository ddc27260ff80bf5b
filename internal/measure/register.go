// Package measure implements projective qubit measurement (Born rule,
// state collapse, optional readout error) and the per-trajectory classical
// memory register outcomes are written into.
package measure

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyMeasured is returned when policy forbids re-measuring a
	// slot that was already written in the same trajectory.
	ErrAlreadyMeasured = errors.New("measure: slot already measured")

	// ErrConflictingWrite is returned under strict policy when a slot is
	// rewritten with a different value without an intervening reset.
	ErrConflictingWrite = errors.New("measure: conflicting register write")

	// ErrBadSlot is returned for slot indices outside the register.
	ErrBadSlot = errors.New("measure: slot out of range")

	// ErrBadQubit is returned when the qubit index does not address the
	// state's dimension.
	ErrBadQubit = errors.New("measure: qubit out of range")

	// ErrBadBit is returned for written values other than 0 or 1.
	ErrBadBit = errors.New("measure: bit must be 0 or 1")
)

const unset = int8(-1)

// Register maps classical memory slots to measured bits. One register
// lives for exactly one trajectory: reset at trajectory start, snapshotted
// at trajectory end. Not safe for concurrent use, by design.
type Register struct {
	slots  []int8
	strict bool
}

// NewRegister returns a register with the given number of slots, all
// unset. Under strict policy, rewriting a slot with a different value
// fails with ErrConflictingWrite.
func NewRegister(size int, strict bool) *Register {
	r := &Register{slots: make([]int8, size), strict: strict}
	r.Reset()
	return r
}

// Size returns the number of slots.
func (r *Register) Size() int { return len(r.slots) }

// Reset clears every slot to unset.
func (r *Register) Reset() {
	for i := range r.slots {
		r.slots[i] = unset
	}
}

// Written reports whether the slot holds a value.
func (r *Register) Written(slot int) bool {
	return slot >= 0 && slot < len(r.slots) && r.slots[slot] != unset
}

// Write stores bit into slot. Writing the same value twice is idempotent;
// a differing rewrite fails under strict policy and overwrites otherwise.
func (r *Register) Write(slot, bit int) error {
	if slot < 0 || slot >= len(r.slots) {
		return fmt.Errorf("slot %d of %d: %w", slot, len(r.slots), ErrBadSlot)
	}
	if bit != 0 && bit != 1 {
		return fmt.Errorf("value %d: %w", bit, ErrBadBit)
	}
	if r.strict && r.slots[slot] != unset && r.slots[slot] != int8(bit) {
		return fmt.Errorf("slot %d holds %d, writing %d: %w", slot, r.slots[slot], bit, ErrConflictingWrite)
	}
	r.slots[slot] = int8(bit)
	return nil
}

// Snapshot returns a copy of the slots for aggregation across shots.
// Unset slots are -1.
func (r *Register) Snapshot() []int8 {
	out := make([]int8, len(r.slots))
	copy(out, r.slots)
	return out
}

// Bitstring renders the register with slot 0 as the rightmost character.
// Unset slots render as 0, matching hardware memory that initializes to
// zero.
func (r *Register) Bitstring() string {
	var sb strings.Builder
	sb.Grow(len(r.slots))
	for i := len(r.slots) - 1; i >= 0; i-- {
		if r.slots[i] == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
