// Package policy implements action selection policies for discrete
// action spaces using neural network function approximation with
// Gorgonia.
package policy

import (
	"bytes"
	"encoding/gob"
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

// MultiHeadEGreedyMLP implements an epsilon greedy policy using a
// feedforward neural network/MLP. Given an environment with N actions,
// the neural network will produce N outputs, each predicting the
// value of a distinct action.
//
// The policy owns the virtual machine that runs its network. On each
// call to SelectAction, the policy sets the observation as the network
// input, runs the VM, and selects an action from the predicted action
// values: with probability epsilon a uniformly random action, and
// otherwise an action of maximal value, breaking ties uniformly at
// random.
type MultiHeadEGreedyMLP struct {
	network.NeuralNet
	epsilon float64

	vm   G.VM
	rng  *rand.Rand
	seed uint64
}

// NewMultiHeadEGreedyMLP creates and returns a new MultiHeadEGreedyMLP.
// The hiddenSizes parameter defines the number of nodes in each hidden
// layer. The biases parameter outlines which layers should include
// bias units. The activations parameter determines the activation
// function for each layer. The batch parameter determines the number
// of inputs in a batch.
//
// Note that this constructor will always add an additional final
// linear layer (with a bias unit and no activation) such that the
// number of network outputs equals the number of actions in the
// environment. Because of this, it is easy to create a linear EGreedy
// policy by setting hiddenSizes to []int{}, biases to []bool{}, and
// activations to []*network.Activation{}.
func NewMultiHeadEGreedyMLP(epsilon float64, e env.Environment, batch int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*network.Activation,
	seed uint64) (agent.EGreedyNNPolicy, error) {
	// Calculate the number of actions and state features
	numActions := int(e.ActionSpec().UpperBound.AtVec(0)) + 1
	features := e.ObservationSpec().Shape.Len()

	net, err := network.NewMultiHeadMLP(features, batch, numActions, g,
		hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}

	// Create RNG for breaking ties between max-valued actions
	rng := rand.New(rand.NewSource(seed))

	nn := MultiHeadEGreedyMLP{
		NeuralNet: net,
		epsilon:   epsilon,
		vm:        G.NewTapeMachine(net.Graph()),
		rng:       rng,
		seed:      seed,
	}

	return &nn, nil
}

// Network returns the neural network function approximator that the
// policy uses.
func (e *MultiHeadEGreedyMLP) Network() network.NeuralNet {
	return e.NeuralNet
}

// ClonePolicy clones a MultiHeadEGreedyMLP
func (e *MultiHeadEGreedyMLP) ClonePolicy() (agent.NNPolicy, error) {
	return e.ClonePolicyWithBatch(e.BatchSize())
}

// ClonePolicyWithBatch clones a MultiHeadEGreedyMLP with a new input
// batch size.
func (e *MultiHeadEGreedyMLP) ClonePolicyWithBatch(
	batchSize int) (agent.NNPolicy, error) {
	net, err := e.Network().CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("clonepolicywithbatch: could not clone "+
			"policy network: %v", err)
	}

	nn := MultiHeadEGreedyMLP{
		NeuralNet: net,
		epsilon:   e.epsilon,
		vm:        G.NewTapeMachine(net.Graph()),
		rng:       rand.New(rand.NewSource(e.seed)),
		seed:      e.seed,
	}

	return &nn, nil
}

// SetEpsilon sets the value for epsilon in the epsilon greedy policy.
func (e *MultiHeadEGreedyMLP) SetEpsilon(epsilon float64) {
	e.epsilon = epsilon
}

// Epsilon gets the value of epsilon for the policy.
func (e *MultiHeadEGreedyMLP) Epsilon() float64 {
	return e.epsilon
}

// SelectAction runs the policy's network on the observation of t and
// selects an action epsilon greedily from the predicted action values.
// The action is returned together with its predicted value.
func (e *MultiHeadEGreedyMLP) SelectAction(t timestep.TimeStep) (int,
	float64) {
	obs := mat.VecDenseCopyOf(t.Observation).RawVector().Data
	if err := e.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: cannot set input: %v", err))
	}
	if err := e.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: cannot run policy network: %v", err))
	}

	actionValues := make([]float64, e.Outputs())
	copy(actionValues, e.Output().Data().([]float64))
	e.vm.Reset()

	// With probability epsilon explore uniformly at random
	if e.rng.Float64() < e.epsilon {
		action := e.rng.Intn(e.numActions())
		return action, actionValues[action]
	}

	// If multiple actions have max value, choose a random max-valued
	// action
	_, maxIndices := floatutils.MaxSlice(actionValues)
	action := maxIndices[e.rng.Intn(len(maxIndices))]
	return action, actionValues[action]
}

// Close releases the virtual machine that runs the policy's network.
func (e *MultiHeadEGreedyMLP) Close() error {
	return e.vm.Close()
}

// numActions returns the number of actions that the policy chooses
// between.
func (e *MultiHeadEGreedyMLP) numActions() int {
	return e.Outputs()
}

// GobEncode implements the gob.GobEncoder interface
func (e *MultiHeadEGreedyMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(&e.NeuralNet); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode network: %v", err)
	}
	if err := enc.Encode(e.epsilon); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode epsilon: %v", err)
	}
	if err := enc.Encode(e.seed); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode seed: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (e *MultiHeadEGreedyMLP) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	if err := dec.Decode(&e.NeuralNet); err != nil {
		return fmt.Errorf("gobdecode: could not decode network: %v", err)
	}
	if err := dec.Decode(&e.epsilon); err != nil {
		return fmt.Errorf("gobdecode: could not decode epsilon: %v", err)
	}
	if err := dec.Decode(&e.seed); err != nil {
		return fmt.Errorf("gobdecode: could not decode seed: %v", err)
	}

	e.rng = rand.New(rand.NewSource(e.seed))
	e.vm = G.NewTapeMachine(e.NeuralNet.Graph())

	return nil
}
