package network

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// noisyLayer implements a fully connected layer with factorized
// Gaussian noise on its weights and biases. Each weight is
// mu + sigma*eps where mu and sigma are learned and eps is a noise
// sample held in non-learnable input nodes. The noise is factorized:
// a sample of in+out scaled Gaussian variables induces the full
// in-by-out weight noise as an outer product, so re-sampling is cheap.
//
// The layer's noise stays fixed between calls to resetNoise, so a
// whole learning step sees one coherent weight sample.
type noisyLayer struct {
	weightMu    *G.Node
	weightSigma *G.Node
	biasMu      *G.Node
	biasSigma   *G.Node

	weightEps *G.Node
	biasEps   *G.Node

	act *Activation

	in, out int
	std     float64
}

// newNoisyLayer adds a noisy fully connected layer of out units to
// graph g. Weight and bias means are initialized uniformly in
// [-1/sqrt(in), 1/sqrt(in)] and all noise scales start at
// std/sqrt(in). The layer's noise nodes hold zeroes until resetNoise
// draws the first sample.
func newNoisyLayer(g *G.ExprGraph, in, out int, std float64,
	act *Activation, name string) *noisyLayer {
	bound := 1.0 / math.Sqrt(float64(in))
	sigma := std / math.Sqrt(float64(in))

	return &noisyLayer{
		weightMu: G.NewMatrix(g, tensor.Float64, G.WithShape(in, out),
			G.WithName(fmt.Sprintf("%vWMu", name)),
			G.WithInit(G.Uniform(-bound, bound))),
		weightSigma: G.NewMatrix(g, tensor.Float64, G.WithShape(in, out),
			G.WithName(fmt.Sprintf("%vWSigma", name)),
			G.WithInit(G.ValuesOf(sigma))),
		biasMu: G.NewVector(g, tensor.Float64, G.WithShape(out),
			G.WithName(fmt.Sprintf("%vBMu", name)),
			G.WithInit(G.Uniform(-bound, bound))),
		biasSigma: G.NewVector(g, tensor.Float64, G.WithShape(out),
			G.WithName(fmt.Sprintf("%vBSigma", name)),
			G.WithInit(G.ValuesOf(sigma))),
		weightEps: G.NewMatrix(g, tensor.Float64, G.WithShape(in, out),
			G.WithName(fmt.Sprintf("%vWEps", name)),
			G.WithInit(G.Zeroes())),
		biasEps: G.NewVector(g, tensor.Float64, G.WithShape(out),
			G.WithName(fmt.Sprintf("%vBEps", name)),
			G.WithInit(G.Zeroes())),
		act: act,
		in:  in,
		out: out,
		std: std,
	}
}

// fwd adds the forward pass of the noisyLayer to the computational
// graph
func (n *noisyLayer) fwd(x *G.Node) (*G.Node, error) {
	weights := G.Must(G.Add(n.weightMu,
		G.Must(G.HadamardProd(n.weightSigma, n.weightEps))))
	x = G.Must(G.Mul(x, weights))

	bias := G.Must(G.Add(n.biasMu,
		G.Must(G.HadamardProd(n.biasSigma, n.biasEps))))
	x = G.Must(G.BroadcastAdd(x, bias, nil, []byte{0}))

	if n.act == nil || n.act.IsNil() {
		return x, nil
	}
	return n.act.fwd(x)
}

// resetNoise draws a fresh factorized noise sample and stores it in
// the layer's noise nodes
func (n *noisyLayer) resetNoise(noise distuv.Normal) error {
	epsIn := scaledNoise(noise, n.in)
	epsOut := scaledNoise(noise, n.out)

	weightEps := make([]float64, n.in*n.out)
	for i := 0; i < n.in; i++ {
		for j := 0; j < n.out; j++ {
			weightEps[i*n.out+j] = epsIn[i] * epsOut[j]
		}
	}

	err := G.Let(n.weightEps, tensor.New(
		tensor.WithShape(n.in, n.out),
		tensor.WithBacking(weightEps),
	))
	if err != nil {
		return fmt.Errorf("resetnoise: could not set weight noise: %v", err)
	}

	err = G.Let(n.biasEps, tensor.New(
		tensor.WithShape(n.out),
		tensor.WithBacking(epsOut),
	))
	if err != nil {
		return fmt.Errorf("resetnoise: could not set bias noise: %v", err)
	}
	return nil
}

// scaledNoise samples num variables of factorized Gaussian noise
// f(x) = sign(x)*sqrt(|x|) for x drawn from the standard normal
func scaledNoise(noise distuv.Normal, num int) []float64 {
	sample := make([]float64, num)
	for i := range sample {
		x := noise.Rand()
		sample[i] = math.Copysign(math.Sqrt(math.Abs(x)), x)
	}
	return sample
}

// CloneTo clones a noisyLayer to a new computational graph, copying
// the current noise sample along with the learnable weights
func (n *noisyLayer) CloneTo(g *G.ExprGraph) Layer {
	return &noisyLayer{
		weightMu:    n.weightMu.CloneTo(g),
		weightSigma: n.weightSigma.CloneTo(g),
		biasMu:      n.biasMu.CloneTo(g),
		biasSigma:   n.biasSigma.CloneTo(g),
		weightEps:   n.weightEps.CloneTo(g),
		biasEps:     n.biasEps.CloneTo(g),
		act:         n.act,
		in:          n.in,
		out:         n.out,
		std:         n.std,
	}
}

// Learnables returns the nodes of the layer that are adapted by
// learning. Noise nodes are excluded: only the means and noise scales
// are learned.
func (n *noisyLayer) Learnables() G.Nodes {
	return G.Nodes{n.weightMu, n.weightSigma, n.biasMu, n.biasSigma}
}

// GobEncode implements the gob.GobEncoder interface. The learned
// means and noise scales are encoded; the transient noise sample is
// not, so a decoded layer starts with fresh noise.
func (n *noisyLayer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, node := range n.Learnables() {
		if err := enc.Encode(node.Value().(*tensor.Dense)); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode %v: %v",
				node.Name(), err)
		}
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The layer must
// already exist with the encoded shapes; decoding overwrites the
// layer's learned values in place.
func (n *noisyLayer) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	for _, node := range n.Learnables() {
		value := new(tensor.Dense)
		if err := dec.Decode(value); err != nil {
			return fmt.Errorf("gobdecode: could not decode %v: %v",
				node.Name(), err)
		}
		if !value.Shape().Eq(node.Shape()) {
			return fmt.Errorf("gobdecode: shape mismatch for %v"+
				"\n\twant(%v)\n\thave(%v)", node.Name(), node.Shape(),
				value.Shape())
		}
		if err := G.Let(node, value); err != nil {
			return fmt.Errorf("gobdecode: could not set %v: %v",
				node.Name(), err)
		}
	}
	return nil
}

// noisyMLP implements a multi-layered perceptron whose hidden and
// output layers carry factorized Gaussian weight noise. The noise
// itself drives exploration, so policies over a noisyMLP act greedily
// with respect to the sampled weights instead of using epsilon
// exploration.
type noisyMLP struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	// Data needed for gobbing
	hiddenSizes []int
	activations []*Activation
	std         float64
	seed        uint64

	noise distuv.Normal

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewNoisyMLP creates and returns a new multi-layered perceptron with
// noisy weights. The graph parameter g is populated with the network.
//
// The first hidden layer is a plain fully connected feature layer
// initialized with init; every subsequent layer, including the final
// output layer that is always added, is a noisy layer with noise scale
// std. For index i, hiddenSizes[i] is the number of nodes in hidden
// layer i and activations[i] is its activation function. The final
// output layer has no activation. The seed parameter determines the
// noise sample sequence.
func NewNoisyMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, std float64, init G.InitWFn,
	activations []*Activation, seed uint64) (NeuralNet, error) {
	if features <= 0 {
		return nil, fmt.Errorf("newnoisymlp: features must be > 0")
	}
	if batch <= 0 {
		return nil, fmt.Errorf("newnoisymlp: batch must be > 0")
	}
	if outputs <= 0 {
		return nil, fmt.Errorf("newnoisymlp: outputs must be > 0")
	}
	if std <= 0 {
		return nil, fmt.Errorf("newnoisymlp: noise scale must be > 0")
	}

	// Ensure we have one activation per hidden layer
	if len(hiddenSizes) != len(activations) {
		msg := "newnoisymlp: invalid number of activations\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}

	// Set up the input node
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	layers := make([]Layer, 0, len(hiddenSizes)+1)
	in := features
	for i, out := range hiddenSizes {
		name := fmt.Sprintf("L%d", i)
		if i == 0 {
			layers = append(layers, newFCLayer(g, in, out, true,
				activations[i], init, name))
		} else {
			layers = append(layers, newNoisyLayer(g, in, out, std,
				activations[i], name))
		}
		in = out
	}
	layers = append(layers, newNoisyLayer(g, in, outputs, std, Identity(),
		fmt.Sprintf("L%d", len(hiddenSizes))))

	network := noisyMLP{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		activations: activations,
		std:         std,
		seed:        seed,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(seed),
		},
	}
	_, err := network.fwd(input)
	if err != nil {
		msg := "newnoisymlp: could not compute forward pass: %v"
		return nil, fmt.Errorf(msg, err)
	}

	// Replace the zero noise from construction with a real sample
	if err := network.ResetNoise(); err != nil {
		return nil, fmt.Errorf("newnoisymlp: %v", err)
	}

	return &network, nil
}

// ResetNoise draws a fresh noise sample for every noisy layer of the
// network. The learned means and noise scales are untouched.
func (e *noisyMLP) ResetNoise() error {
	for _, layer := range e.layers {
		noisy, ok := layer.(*noisyLayer)
		if !ok {
			continue
		}
		if err := noisy.resetNoise(e.noise); err != nil {
			return err
		}
	}
	return nil
}

// Graph returns the computational graph of the noisyMLP
func (e *noisyMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones a noisyMLP
func (e *noisyMLP) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones a noisyMLP with a new input batch size. The
// clone starts from the parent's current weights and noise but draws
// its own noise sequence from then on.
func (e *noisyMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	// Create the input node
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	// Copy the layers
	layers := make([]Layer, len(e.layers))
	for i := range e.layers {
		layers[i] = e.layers[i].CloneTo(graph)
	}

	// Give the clone an independent noise stream so that networks
	// cloned from the same parent do not sample noise in lockstep
	seed := e.noise.Src.Uint64()

	network := noisyMLP{
		g:           graph,
		layers:      layers,
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   batchSize,
		hiddenSizes: e.hiddenSizes,
		activations: e.activations,
		std:         e.std,
		seed:        seed,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(seed),
		},
	}
	_, err := network.fwd(input)
	if err != nil {
		msg := "clonewithbatch: could not compute forward pass: %v"
		return nil, fmt.Errorf(msg, err)
	}

	return &network, nil
}

// BatchSize returns the number of inputs in a batch
func (e *noisyMLP) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single observation
// vector that the network takes as input
func (e *noisyMLP) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs from the network
func (e *noisyMLP) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the forward
// pass
func (e *noisyMLP) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		msg := fmt.Sprintf("invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", e.numInputs*e.batchSize, len(input))
		panic(msg)
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the learned weights of a noisyMLP to be equal to those of
// another NeuralNet of the same architecture. Noise samples are not
// copied: each network keeps its own noise.
func (dest *noisyMLP) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes in a noisyMLP
func (e *noisyMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		e.learnables = e.computeLearnables()
	}
	return e.learnables
}

// computeLearnables computes all the learnables for the network
func (e *noisyMLP) computeLearnables() G.Nodes {
	learnables := make([]*G.Node, 0, 4*len(e.layers))
	for i := range e.layers {
		learnables = append(learnables, e.layers[i].Learnables()...)
	}
	return G.Nodes(learnables)
}

// Model returns the learnable nodes with their gradients
func (e *noisyMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		e.model = e.computeModel()
	}
	return e.model
}

// computeModel computes the model for the network
func (e *noisyMLP) computeModel() []G.ValueGrad {
	model := make([]G.ValueGrad, 0, 4*len(e.layers))
	for _, node := range e.Learnables() {
		model = append(model, node)
	}
	return model
}

// fwd performs the forward pass of the noisyMLP on the input node
func (e *noisyMLP) fwd(input *G.Node) (*G.Node, error) {
	inputShape := input.Shape()[len(input.Shape())-1]
	if inputShape%e.numInputs != 0 {
		return nil, fmt.Errorf("fwd: invalid shape for input to neural net:"+
			" \n\twant(%v) \n\thave(%v)", e.numInputs, inputShape)
	}

	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	e.prediction = pred

	G.Read(e.prediction, &e.predVal)

	return pred, nil
}

// Output returns the output of the noisyMLP after the last VM run
func (e *noisyMLP) Output() G.Value {
	return e.predVal
}

// Prediction returns the node of the computational graph that stores
// the output of the noisyMLP
func (e *noisyMLP) Prediction() *G.Node {
	return e.prediction
}

// GobEncode implements the gob.GobEncoder interface
func (e *noisyMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	err := enc.Encode(e.numOutputs)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of outputs")
	}

	err = enc.Encode(e.numInputs)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of inputs")
	}

	err = enc.Encode(e.BatchSize())
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size")
	}

	err = enc.Encode(e.hiddenSizes)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}

	err = enc.Encode(e.activations)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations")
	}

	err = enc.Encode(e.std)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode noise scale")
	}

	err = enc.Encode(e.seed)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode seed")
	}

	// Store the layer weights
	gob.Register(fcLayer{})
	gob.Register(noisyLayer{})
	for i, layer := range e.layers {
		err := enc.Encode(layer)
		if err != nil {
			msg := "gobencode: could not encode layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (e *noisyMLP) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var numOutputs int
	err := dec.Decode(&numOutputs)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode number of outputs")
	}

	var numInputs int
	err = dec.Decode(&numInputs)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode number of inputs")
	}

	var batchSize int
	err = dec.Decode(&batchSize)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size")
	}

	var hiddenSizes []int
	err = dec.Decode(&hiddenSizes)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}

	var activations []*Activation
	err = dec.Decode(&activations)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode activations")
	}

	var std float64
	err = dec.Decode(&std)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode noise scale")
	}

	var seed uint64
	err = dec.Decode(&seed)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode seed")
	}

	// Create a new network to decode the weights into
	g := G.NewGraph()
	newNet, err := NewNoisyMLP(numInputs, batchSize, numOutputs, g,
		hiddenSizes, std, G.Zeroes(), activations, seed)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new network: %v",
			err)
	}
	newMLP, ok := newNet.(*noisyMLP)
	if !ok {
		panic("gobdecode: NewNoisyMLP() returned type != noisyMLP")
	}

	// Fill the new network's layers with the stored weight values
	gob.Register(fcLayer{})
	gob.Register(noisyLayer{})
	for i, layer := range newMLP.layers {
		err = dec.Decode(layer)
		if err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v: %v", i,
				err)
		}
	}

	*e = *newMLP
	return nil
}
