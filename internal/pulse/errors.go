package pulse

import "errors"

// Package-level sentinel errors, matched with errors.Is. Schedule problems
// are construction-time failures: they surface before any trajectory starts
// and abort the whole run.
var (
	// ErrInvalidSchedule is returned by Validate for malformed schedules:
	// overlapping segments, negative times, instructions outside the
	// schedule window, or segments with no waveform.
	ErrInvalidSchedule = errors.New("pulse: invalid schedule")

	// ErrUndefinedChannel is returned when a name is not present in the
	// schedule's channel set.
	ErrUndefinedChannel = errors.New("pulse: undefined channel")

	// ErrOutOfOrderEvaluation is returned when a channel is queried at a
	// time earlier than its previous query. Frame state advances
	// incrementally, so evaluation is forward-only within a trajectory.
	ErrOutOfOrderEvaluation = errors.New("pulse: out-of-order evaluation")
)
