package policy

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/godqn/agent"
	env "github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/timestep"
	"github.com/samuelfneumann/godqn/utils/floatutils"
)

// NoisyGreedyMLP implements a greedy policy over a noisy neural
// network. The network's stochastic weights drive exploration, so the
// policy always selects an action of maximal predicted value and no
// epsilon is needed. Exploration is controlled by resampling the
// network noise between learning steps with ResetNoise.
type NoisyGreedyMLP struct {
	network.NeuralNet

	vm   G.VM
	rng  *rand.Rand
	seed uint64
}

// NewNoisyGreedyMLP creates and returns a new NoisyGreedyMLP whose
// network has one plain input layer followed by noisy hidden and
// output layers. The std parameter sets the initial scale of the
// stochastic weights.
//
// As with the epsilon greedy policy, a final linear layer is always
// added so that the number of network outputs equals the number of
// actions in the environment.
func NewNoisyGreedyMLP(e env.Environment, batch int, g *G.ExprGraph,
	hiddenSizes []int, std float64, init G.InitWFn,
	activations []*network.Activation,
	seed uint64) (agent.NoisyNNPolicy, error) {
	numActions := int(e.ActionSpec().UpperBound.AtVec(0)) + 1
	features := e.ObservationSpec().Shape.Len()

	net, err := network.NewNoisyMLP(features, batch, numActions, g,
		hiddenSizes, std, init, activations, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}

	nn := NoisyGreedyMLP{
		NeuralNet: net,
		vm:        G.NewTapeMachine(net.Graph()),
		rng:       rand.New(rand.NewSource(seed)),
		seed:      seed,
	}

	return &nn, nil
}

// Network returns the neural network function approximator that the
// policy uses.
func (n *NoisyGreedyMLP) Network() network.NeuralNet {
	return n.NeuralNet
}

// ClonePolicy clones a NoisyGreedyMLP
func (n *NoisyGreedyMLP) ClonePolicy() (agent.NNPolicy, error) {
	return n.ClonePolicyWithBatch(n.BatchSize())
}

// ClonePolicyWithBatch clones a NoisyGreedyMLP with a new input batch
// size. The clone's network samples its noise independently of the
// original's.
func (n *NoisyGreedyMLP) ClonePolicyWithBatch(
	batchSize int) (agent.NNPolicy, error) {
	net, err := n.Network().CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("clonepolicywithbatch: could not clone "+
			"policy network: %v", err)
	}

	nn := NoisyGreedyMLP{
		NeuralNet: net,
		vm:        G.NewTapeMachine(net.Graph()),
		rng:       rand.New(rand.NewSource(n.seed)),
		seed:      n.seed,
	}

	return &nn, nil
}

// SelectAction runs the policy's network on the observation of t and
// selects an action of maximal predicted value, breaking ties
// uniformly at random. The action is returned together with its
// predicted value.
func (n *NoisyGreedyMLP) SelectAction(t timestep.TimeStep) (int, float64) {
	obs := mat.VecDenseCopyOf(t.Observation).RawVector().Data
	if err := n.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: cannot set input: %v", err))
	}
	if err := n.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: cannot run policy network: %v", err))
	}

	actionValues := make([]float64, n.Outputs())
	copy(actionValues, n.Output().Data().([]float64))
	n.vm.Reset()

	_, maxIndices := floatutils.MaxSlice(actionValues)
	action := maxIndices[n.rng.Intn(len(maxIndices))]
	return action, actionValues[action]
}

// ResetNoise draws a fresh noise sample for the policy's network.
func (n *NoisyGreedyMLP) ResetNoise() error {
	resetter, ok := n.NeuralNet.(network.NoiseResetter)
	if !ok {
		return fmt.Errorf("resetnoise: network cannot resample noise")
	}
	return resetter.ResetNoise()
}

// Close releases the virtual machine that runs the policy's network.
func (n *NoisyGreedyMLP) Close() error {
	return n.vm.Close()
}
