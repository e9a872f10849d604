// Package network provides neural network function approximators for
// predicting action values. Networks are built on Gorgonia
// computational graphs and are driven by an external VM: callers set
// the input with SetInput(), run the VM, and then read predictions
// with Output(). Learning code can additionally build loss nodes on
// top of Prediction() and adapt the weights returned by Model() with a
// Gorgonia solver.
package network

import (
	"encoding/gob"

	G "gorgonia.org/gorgonia"
)

func init() {
	// Register concrete network types so that NeuralNet interface
	// fields can be gob encoded, e.g. when checkpointing
	gob.Register(&multiHeadMLP{})
	gob.Register(&noisyMLP{})
}

// Layer is a single layer of a neural network. Layers add their
// forward pass to the computational graph of the network that owns
// them and expose their adaptable weight nodes.
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer
	Learnables() G.Nodes
}

// NeuralNet implements a neural network function approximator. A
// NeuralNet does not hold a VM of its own. An external VM should be
// used to run the computational graph of the network, and the VM
// should always be run before accessing the network output:
//
//	Set up VM with network's graph:	vm = NewTapeMachine(net.Graph())
//	Get state observation vector:	obs
//	Set input to the network:		net.SetInput(obs)
//	Predict the action values:		vm.RunAll()
//	Read the predicted values:		net.Output()
type NeuralNet interface {
	// Graph returns the computational graph that the network populates
	Graph() *G.ExprGraph

	// Clone clones the network to a new computational graph, keeping
	// the input batch size
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network to a new computational graph
	// with a new input batch size
	CloneWithBatch(int) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the network's input node before a VM
	// run
	SetInput([]float64) error

	// Set copies the learnable weights of another network of the same
	// architecture into this network
	Set(NeuralNet) error

	// Learnables returns the nodes whose values are adapted by
	// learning. Model returns the same nodes as ValueGrads for a
	// Gorgonia solver.
	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Prediction returns the graph node holding the network output and
	// Output the value of that node after the last VM run
	Prediction() *G.Node
	Output() G.Value
}

// NoiseResetter is a NeuralNet with stochastic weights whose noise can
// be re-sampled between learning steps
type NoiseResetter interface {
	NeuralNet

	// ResetNoise draws a fresh noise sample for every stochastic layer
	ResetNoise() error
}
