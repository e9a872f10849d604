// Package environment outlines the interfaces and structs needed to implement
// concrete environments
package environment

import (
	"image"

	"github.com/samuelfneumann/godqn/timestep"
)

// Environment implements a simulated environment that an agent
// interacts with through discrete actions.
//
// Reset starts a new episode, reseeding any randomness in the
// environment with seed, and returns the first timestep of the
// episode. Step takes a single discrete action and returns the
// resulting timestep. The returned timestep's Last() method reports
// whether the episode has ended, either by reaching a terminal state
// or by an environment-imposed step cutoff.
type Environment interface {
	Reset(seed uint64) (timestep.TimeStep, error)
	Step(action int) (timestep.TimeStep, error)
	ObservationSpec() Spec
	ActionSpec() Spec
	Close() error
}

// Renderer is implemented by environments that can draw their current
// state as an image. Environments that implement Renderer can have
// their episodes captured frame-by-frame by a recording wrapper.
type Renderer interface {
	Render() image.Image
}
