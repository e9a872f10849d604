package expreplay

// Batch is a batch of transitions in struct-of-slices layout. States
// and NextStates are flattened row-major, one row of featureSize
// values per transition. Dones holds 1.0 for terminal transitions and
// 0.0 otherwise, so it can be used directly as a bootstrapping mask.
type Batch struct {
	States     []float64
	Actions    []int
	Rewards    []float64
	NextStates []float64
	Dones      []float64
}

// Size returns the number of transitions in the batch
func (b Batch) Size() int {
	return len(b.Actions)
}

// PrioritizedBatch is a Batch sampled proportionally to priority,
// together with the slot index each transition was drawn from and its
// normalized importance-sampling weight. Indices are the handles used
// to update priorities after a learning step.
type PrioritizedBatch struct {
	Batch
	Indices []int
	Weights []float64
}

func newBatch(batchSize, featureSize int) Batch {
	return Batch{
		States:     make([]float64, batchSize*featureSize),
		Actions:    make([]int, batchSize),
		Rewards:    make([]float64, batchSize),
		NextStates: make([]float64, batchSize*featureSize),
		Dones:      make([]float64, batchSize),
	}
}
