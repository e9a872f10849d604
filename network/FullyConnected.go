package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer adds a fully connected layer of out units to graph g. The
// layer's weight matrix is initialized with init; the bias, when
// present, is initialized to zero. The name parameter distinguishes
// the layer's nodes within the graph and must be unique per graph.
func newFCLayer(g *G.ExprGraph, in, out int, bias bool, act *Activation,
	init G.InitWFn, name string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(fmt.Sprintf("%vW", name)),
		G.WithInit(init),
	)

	var biasUnit *G.Node
	if bias {
		biasUnit = G.NewVector(
			g,
			tensor.Float64,
			G.WithShape(out),
			G.WithName(fmt.Sprintf("%vB", name)),
			G.WithInit(G.Zeroes()),
		)
	}

	return &fcLayer{
		weights: weights,
		bias:    biasUnit,
		act:     act,
	}
}

// addfcLayers stacks fully connected layers onto graph g, one layer
// per entry of sizes, starting from an input of features units. For
// index i, sizes[i] is the number of units in layer i, biases[i]
// determines whether layer i has a bias unit, and activations[i] is
// the activation function of layer i. The prefix and suffix parameters
// decorate node names so multiple stacks can share a graph.
func addfcLayers(g *G.ExprGraph, sizes []int, biases []bool,
	activations []*Activation, init G.InitWFn, features int,
	prefix, suffix string) []Layer {
	layers := make([]Layer, 0, len(sizes))

	in := features
	for i, out := range sizes {
		name := fmt.Sprintf("%vL%d%v", prefix, i, suffix)
		layers = append(layers, newFCLayer(g, in, out, biases[i],
			activations[i], init, name))
		in = out
	}
	return layers
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation() == nil || f.Activation().IsNil() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

// Learnables returns the nodes of the layer that are adapted by
// learning
func (f *fcLayer) Learnables() G.Nodes {
	learnables := make(G.Nodes, 0, 2)
	learnables = append(learnables, f.Weights())
	if f.Bias() != nil {
		learnables = append(learnables, f.Bias())
	}
	return learnables
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// GobEncode implements the gob.GobEncoder interface. Only weight
// values are encoded; the graph structure is reconstructed by the
// network that owns the layer before decoding.
func (f *fcLayer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	hasBias := f.bias != nil
	if err := enc.Encode(hasBias); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode bias flag: %v",
			err)
	}

	if err := enc.Encode(f.weights.Value().(*tensor.Dense)); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode weights: %v", err)
	}

	if hasBias {
		if err := enc.Encode(f.bias.Value().(*tensor.Dense)); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode bias: %v", err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The layer must
// already exist with the encoded shapes; decoding overwrites the
// layer's weight values in place.
func (f *fcLayer) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var hasBias bool
	if err := dec.Decode(&hasBias); err != nil {
		return fmt.Errorf("gobdecode: could not decode bias flag: %v", err)
	}

	weights := new(tensor.Dense)
	if err := dec.Decode(weights); err != nil {
		return fmt.Errorf("gobdecode: could not decode weights: %v", err)
	}
	if !weights.Shape().Eq(f.weights.Shape()) {
		return fmt.Errorf("gobdecode: weight shape mismatch\n\twant(%v)"+
			"\n\thave(%v)", f.weights.Shape(), weights.Shape())
	}
	if err := G.Let(f.weights, weights); err != nil {
		return fmt.Errorf("gobdecode: could not set weights: %v", err)
	}

	if hasBias {
		if f.bias == nil {
			return fmt.Errorf("gobdecode: encoded layer has a bias unit " +
				"but the decoding layer does not")
		}
		bias := new(tensor.Dense)
		if err := dec.Decode(bias); err != nil {
			return fmt.Errorf("gobdecode: could not decode bias: %v", err)
		}
		if err := G.Let(f.bias, bias); err != nil {
			return fmt.Errorf("gobdecode: could not set bias: %v", err)
		}
	}

	return nil
}
