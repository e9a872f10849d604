package timestep

import "gonum.org/v1/gonum/mat"

// Transition packages together a single environmental transition
// (S, A, R, S', done). Transitions are immutable once stored in a
// replay buffer.
type Transition struct {
	State     mat.Vector
	Action    int
	Reward    float64
	NextState mat.Vector
	Done      bool
}

// NewTransition returns the transition generated by taking action in
// the timestep step and observing the timestep next
func NewTransition(step TimeStep, action int, next TimeStep) Transition {
	return Transition{
		State:     step.Observation,
		Action:    action,
		Reward:    next.Reward,
		NextState: next.Observation,
		Done:      next.Last(),
	}
}
