// Package agent defines the interfaces satisfied by learning agents
// and the policies they select actions with.
package agent

import (
	"context"

	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/timestep"
)

// Agent implements a complete learning algorithm together with its
// training and evaluation loops.
//
// Train runs the agent-environment interaction for numFrames frames,
// learning as it goes. Training stops early if the context is
// cancelled. Test evaluates the current policy greedily for a number
// of episodes and returns the undiscounted return of each episode.
// Close releases the resources held by the agent's neural networks.
type Agent interface {
	Train(ctx context.Context, numFrames int) error
	Test(episodes int) ([]float64, error)
	Close() error
}

// Policy chooses an action on each timestep. SelectAction returns the
// chosen action together with the policy's estimate of its value.
type Policy interface {
	SelectAction(t timestep.TimeStep) (action int, value float64)
}

// NNPolicy represents a policy that uses neural network function
// approximation over a discrete action space.
//
// The policy owns the network that approximates action values and the
// virtual machine that runs it. Cloning a policy clones the underlying
// network onto a fresh expression graph so that the clone can be run
// concurrently with the original.
type NNPolicy interface {
	Policy
	ClonePolicy() (NNPolicy, error)
	ClonePolicyWithBatch(batchSize int) (NNPolicy, error)
	Network() network.NeuralNet
	Close() error
}

// EGreedyNNPolicy implements an epsilon greedy policy using neural
// network function approximation. Any neural network can be used to
// approximate action values as long as the epsilon value for the
// epsilon greedy policy can be set and retrieved.
type EGreedyNNPolicy interface {
	NNPolicy
	SetEpsilon(float64)
	Epsilon() float64
}

// NoisyNNPolicy implements a policy whose network carries stochastic
// weights that drive exploration. Resampling the weight noise with
// ResetNoise changes which actions the policy prefers, taking the
// place of epsilon exploration.
type NoisyNNPolicy interface {
	NNPolicy
	ResetNoise() error
}
