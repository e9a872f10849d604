// Package chain implements a deterministic chain walk environment.
// The chain is small enough that value-based agents can learn it in a
// few hundred frames, which makes it useful for testing learning code
// end to end.
package chain

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/timestep"
)

// Actions available in the chain
const (
	Left int = iota
	Right
)

// Chain implements a deterministic chain walk over N states with two
// actions. The agent starts in the leftmost state. Action Right moves
// one state toward the goal and action Left one state back, stopping
// at the leftmost state. Reaching the rightmost state ends the episode
// with a reward of 1. Every other step has a reward of 0. Episodes are
// cut off after a fixed number of steps.
//
// Observations are one-hot encodings of the current state.
type Chain struct {
	n     int
	state int
	ender environment.Ender

	current timestep.TimeStep
}

// New returns a new chain walk over n states whose episodes are cut
// off after maxSteps steps.
func New(n, maxSteps int) (*Chain, error) {
	if n < 2 {
		return nil, fmt.Errorf("chain: at least 2 states needed "+
			"\n\twant(>=2) \n\thave(%v)", n)
	}
	if maxSteps < 1 {
		return nil, fmt.Errorf("chain: positive step limit needed "+
			"\n\twant(>=1) \n\thave(%v)", maxSteps)
	}

	return &Chain{n: n, ender: environment.NewStepLimit(maxSteps)}, nil
}

// Reset starts a new episode in the leftmost state of the chain. The
// chain is deterministic, so the seed is unused.
func (c *Chain) Reset(seed uint64) (timestep.TimeStep, error) {
	c.state = 0
	c.current = timestep.New(timestep.First, 0, c.obs(), 0)

	return c.current, nil
}

// Step takes a single action in the chain
func (c *Chain) Step(action int) (timestep.TimeStep, error) {
	switch action {
	case Left:
		if c.state > 0 {
			c.state--
		}
	case Right:
		c.state++
	default:
		return timestep.TimeStep{}, fmt.Errorf("step: invalid action %v",
			action)
	}

	reward := 0.0
	stepType := timestep.Mid
	if c.state == c.n-1 {
		reward = 1.0
		stepType = timestep.Last
	}

	step := timestep.New(stepType, reward, c.obs(), c.current.Number+1)
	c.ender.End(&step)
	c.current = step

	return step, nil
}

// ObservationSpec returns the observation specification of the chain
func (c *Chain) ObservationSpec() environment.Spec {
	shape := mat.NewVecDense(c.n, nil)
	lowerBound := mat.NewVecDense(c.n, nil)

	upper := make([]float64, c.n)
	for i := range upper {
		upper[i] = 1.0
	}
	upperBound := mat.NewVecDense(c.n, upper)

	return environment.NewSpec(shape, environment.Observation, lowerBound,
		upperBound, environment.Discrete)
}

// ActionSpec returns the action specification of the chain
func (c *Chain) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(Left)})
	upperBound := mat.NewVecDense(1, []float64{float64(Right)})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Discrete)
}

// Close performs cleanup of the chain's resources
func (c *Chain) Close() error {
	return nil
}

func (c *Chain) String() string {
	return fmt.Sprintf("Chain | states: %v | current: %v", c.n, c.state)
}

// obs returns the one-hot observation of the current state
func (c *Chain) obs() *mat.VecDense {
	obs := mat.NewVecDense(c.n, nil)
	obs.SetVec(c.state, 1.0)

	return obs
}
