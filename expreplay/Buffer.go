// Package expreplay implements experience replay buffers for storing
// and sampling environmental transitions
package expreplay

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/godqn/timestep"
)

// Buffer implements a fixed-capacity experience replay buffer with
// uniform random sampling. Transitions are stored in a fixed-size
// arena of parallel slices, one slot per transition. A write cursor
// increases monotonically modulo the capacity, so once the buffer is
// full each Add overwrites the oldest stored transition.
type Buffer struct {
	featureSize int
	capacity    int
	batchSize   int

	// Fixed arenas, capacity slots each. States and next states are
	// flattened, featureSize values per slot.
	states     []float64
	actions    []int
	rewards    []float64
	nextStates []float64
	dones      []float64

	cursor int // next slot to write, wraps at capacity
	size   int // number of occupied slots

	rng *rand.Rand
}

// NewBuffer creates and returns a new experience replay buffer holding
// at most capacity transitions of featureSize state features each.
// Sample returns batchSize transitions. The seed determines the
// sequence of sampled batches.
func NewBuffer(featureSize, capacity, batchSize int,
	seed uint64) (*Buffer, error) {
	if featureSize <= 0 {
		return nil, fmt.Errorf("newbuffer: featureSize must be > 0")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("newbuffer: capacity must be > 0")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("newbuffer: batchSize must be > 0")
	}
	if batchSize > capacity {
		return nil, fmt.Errorf("newbuffer: cannot have batch size (%v) > "+
			"buffer capacity (%v)", batchSize, capacity)
	}

	return &Buffer{
		featureSize: featureSize,
		capacity:    capacity,
		batchSize:   batchSize,
		states:      make([]float64, capacity*featureSize),
		actions:     make([]int, capacity),
		rewards:     make([]float64, capacity),
		nextStates:  make([]float64, capacity*featureSize),
		dones:       make([]float64, capacity),
		rng:         rand.New(rand.NewSource(seed)),
	}, nil
}

// Add stores a transition in the buffer, overwriting the oldest stored
// transition once the buffer is full
func (b *Buffer) Add(t timestep.Transition) error {
	_, err := b.add(t)
	return err
}

// add stores a transition and returns the slot it was written to
func (b *Buffer) add(t timestep.Transition) (int, error) {
	if t.State.Len() != b.featureSize || t.NextState.Len() != b.featureSize {
		return 0, fmt.Errorf("add: invalid feature size \n\twant(%v)"+
			"\n\thave(%v)", b.featureSize, t.State.Len())
	}

	slot := b.cursor

	stateInd := slot * b.featureSize
	for i := 0; i < b.featureSize; i++ {
		b.states[stateInd+i] = t.State.AtVec(i)
		b.nextStates[stateInd+i] = t.NextState.AtVec(i)
	}

	b.actions[slot] = t.Action
	b.rewards[slot] = t.Reward
	if t.Done {
		b.dones[slot] = 1.0
	} else {
		b.dones[slot] = 0.0
	}

	b.cursor = (b.cursor + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	return slot, nil
}

// Sample samples and returns a batch of transitions chosen uniformly
// at random without replacement from the occupied slots of the buffer
func (b *Buffer) Sample() (Batch, error) {
	if b.size == 0 {
		return Batch{}, &ExpReplayError{Op: "sample", Err: errEmptyBuffer}
	}
	if b.size < b.batchSize {
		return Batch{}, &ExpReplayError{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
	}

	return b.batchOf(b.sampleIndices()), nil
}

// SampleFrom returns the transitions stored at specific slots. The
// batch is a deterministic re-fetch: callers that already sampled a
// batch can retrieve the exact same transitions again by index.
func (b *Buffer) SampleFrom(indices []int) (Batch, error) {
	for _, index := range indices {
		if index < 0 || index >= b.size {
			return Batch{}, &ExpReplayError{
				Op:  "samplefrom",
				Err: errInvalidIndex,
			}
		}
	}
	return b.batchOf(indices), nil
}

// sampleIndices chooses batchSize occupied slots uniformly at random
// without replacement using a partial Fisher-Yates shuffle
func (b *Buffer) sampleIndices() []int {
	indices := make([]int, b.size)
	for i := range indices {
		indices[i] = i
	}
	for i := 0; i < b.batchSize; i++ {
		j := i + b.rng.Intn(b.size-i)
		indices[i], indices[j] = indices[j], indices[i]
	}
	return indices[:b.batchSize]
}

// batchOf gathers the transitions at the given slots into a Batch
func (b *Buffer) batchOf(indices []int) Batch {
	batch := newBatch(len(indices), b.featureSize)
	for i, index := range indices {
		batchInd := i * b.featureSize
		slotInd := index * b.featureSize
		copy(batch.States[batchInd:batchInd+b.featureSize],
			b.states[slotInd:slotInd+b.featureSize])
		copy(batch.NextStates[batchInd:batchInd+b.featureSize],
			b.nextStates[slotInd:slotInd+b.featureSize])

		batch.Actions[i] = b.actions[index]
		batch.Rewards[i] = b.rewards[index]
		batch.Dones[i] = b.dones[index]
	}
	return batch
}

// Len returns the current number of transitions in the buffer
func (b *Buffer) Len() int {
	return b.size
}

// Capacity returns the maximum number of transitions the buffer can
// hold
func (b *Buffer) Capacity() int {
	return b.capacity
}

// BatchSize returns the number of transitions returned by Sample()
func (b *Buffer) BatchSize() int {
	return b.batchSize
}

// FeatureSize returns the number of state features per transition
func (b *Buffer) FeatureSize() int {
	return b.featureSize
}
