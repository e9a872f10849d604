package environment

import "github.com/samuelfneumann/godqn/timestep"

// Ender decides whether an episode should end at a given timestep.
// If the episode should end, End marks the timestep as the last of
// its episode before returning true.
type Ender interface {
	End(*timestep.TimeStep) bool
}

// StepLimit implements the Ender interface to end episodes at a
// specific timestep limit
type StepLimit struct {
	episodeSteps int
}

// NewStepLimit creates and returns a new step limit
func NewStepLimit(episodeSteps int) StepLimit {
	return StepLimit{episodeSteps}
}

// End determines whether or not the current episode should be ended,
// returning a boolean to indicate episode termination. If the episode
// should be ended, End modifies the timestep so that it is marked as
// the last step of its episode.
func (s StepLimit) End(t *timestep.TimeStep) bool {
	if t.Number >= s.episodeSteps {
		t.SetLast()
		return true
	}
	return false
}
