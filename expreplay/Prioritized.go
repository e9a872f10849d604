package expreplay

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/godqn/timestep"
)

// Prioritized implements prioritized experience replay over the same
// fixed-arena storage as Buffer. Each occupied slot carries a priority
// in a pair of segment trees, so sampling proportional to
// priority^alpha and updating a slot's priority are both O(log n).
// New transitions enter with the largest priority seen so far, which
// guarantees they are sampled at least once soon after storage.
//
// A Prioritized buffer additionally aggregates stored transitions into
// n-step transitions before committing them: Add pushes raw
// transitions through an internal n-step accumulator and only the
// emitted n-step transitions are stored and prioritized.
type Prioritized struct {
	buf *Buffer
	sum *sumTree
	min *minTree

	alpha       float64
	maxPriority float64 // largest raw priority seen so far

	acc *nStepAccumulator

	src rand.Source
}

// NewPrioritized creates and returns a new prioritized replay buffer.
// The alpha parameter determines how much prioritization is used
// (alpha = 0 yields uniform sampling). The nStep and gamma parameters
// control the n-step aggregation of stored transitions; nStep = 1
// stores plain one-step transitions.
func NewPrioritized(featureSize, capacity, batchSize int, alpha float64,
	nStep int, gamma float64, seed uint64) (*Prioritized, error) {
	if alpha < 0 {
		return nil, fmt.Errorf("newprioritized: alpha must be >= 0")
	}

	buf, err := NewBuffer(featureSize, capacity, batchSize, seed)
	if err != nil {
		return nil, fmt.Errorf("newprioritized: %v", err)
	}

	acc, err := newNStepAccumulator(nStep, gamma)
	if err != nil {
		return nil, fmt.Errorf("newprioritized: %v", err)
	}

	return &Prioritized{
		buf:         buf,
		sum:         newSumTree(capacity),
		min:         newMinTree(capacity),
		alpha:       alpha,
		maxPriority: 1.0,
		acc:         acc,
		src:         rand.NewSource(seed),
	}, nil
}

// Add pushes a raw transition into the n-step accumulator and stores
// whatever n-step transitions the accumulator emits. A terminal
// transition flushes the accumulator so that every pending transition
// of the finished episode is committed.
func (p *Prioritized) Add(t timestep.Transition) error {
	if out, ok := p.acc.Push(t); ok {
		if err := p.commit(out); err != nil {
			return err
		}
	}

	if t.Done {
		for _, out := range p.acc.Flush() {
			if err := p.commit(out); err != nil {
				return err
			}
		}
	}
	return nil
}

// commit stores an n-step transition with maximal priority
func (p *Prioritized) commit(t timestep.Transition) error {
	slot, err := p.buf.add(t)
	if err != nil {
		return err
	}

	priority := math.Pow(p.maxPriority, p.alpha)
	p.sum.Update(slot, priority)
	p.min.Update(slot, priority)
	return nil
}

// Sample samples a batch of transitions with probability proportional
// to priority^alpha, along with the slot index of each transition and
// its importance-sampling weight w = (N * P(i))^(-beta), normalized by
// the largest weight over the whole buffer so that the maximum
// possible weight is 1. The beta parameter determines how strongly the
// weights correct the sampling bias and must be positive.
func (p *Prioritized) Sample(beta float64) (PrioritizedBatch, error) {
	if beta <= 0 {
		return PrioritizedBatch{}, fmt.Errorf("sample: beta must be > 0")
	}
	if p.buf.size == 0 {
		return PrioritizedBatch{}, &ExpReplayError{
			Op:  "sample",
			Err: errEmptyBuffer,
		}
	}
	if p.buf.size < p.buf.batchSize {
		return PrioritizedBatch{}, &ExpReplayError{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
	}

	indices := p.sampleProportional()
	batch := p.buf.batchOf(indices)

	n := float64(p.buf.size)
	total := p.sum.Total()

	// The largest weight belongs to the minimum-priority slot
	minProb := p.min.Min() / total
	maxWeight := math.Pow(minProb*n, -beta)

	weights := make([]float64, len(indices))
	for i, index := range indices {
		prob := p.sum.Get(index) / total
		weights[i] = math.Pow(prob*n, -beta) / maxWeight
	}

	return PrioritizedBatch{
		Batch:   batch,
		Indices: indices,
		Weights: weights,
	}, nil
}

// SampleFrom returns the transitions stored at specific slots,
// re-fetching the exact transitions of an earlier Sample by its
// returned indices
func (p *Prioritized) SampleFrom(indices []int) (Batch, error) {
	return p.buf.SampleFrom(indices)
}

// sampleProportional stratifies [0, Total()) into batchSize equal
// segments and draws one slot from each, which samples proportionally
// to priority with lower variance than independent draws
func (p *Prioritized) sampleProportional() []int {
	indices := make([]int, p.buf.batchSize)
	segment := p.sum.Total() / float64(p.buf.batchSize)
	for i := range indices {
		u := distuv.Uniform{
			Min: segment * float64(i),
			Max: segment * float64(i+1),
			Src: p.src,
		}.Rand()

		index := p.sum.Retrieve(u)
		// Floating-point boundary draws can land in the tree's
		// zero-priority padding leaves
		if index >= p.buf.size {
			index = p.buf.size - 1
		}
		indices[i] = index
	}
	return indices
}

// UpdatePriorities overwrites the priorities of the given slots.
// Callers pass |loss| + epsilon for each sampled transition after a
// learning step; the epsilon keeps every priority positive so no
// transition is starved of future sampling. Priorities are raised to
// alpha on write, so the trees always store effective sampling mass.
func (p *Prioritized) UpdatePriorities(indices []int,
	priorities []float64) error {
	if len(indices) != len(priorities) {
		return fmt.Errorf("updatepriorities: got %v indices but %v priorities",
			len(indices), len(priorities))
	}

	for i, index := range indices {
		if index < 0 || index >= p.buf.size {
			return &ExpReplayError{
				Op:  "updatepriorities",
				Err: errInvalidIndex,
			}
		}

		priority := priorities[i]
		if priority <= 0 {
			return fmt.Errorf("updatepriorities: priority must be > 0, "+
				"got %v", priority)
		}

		if priority > p.maxPriority {
			p.maxPriority = priority
		}

		mass := math.Pow(priority, p.alpha)
		p.sum.Update(index, mass)
		p.min.Update(index, mass)
	}
	return nil
}

// Len returns the current number of stored n-step transitions. Pending
// transitions inside the n-step accumulator are not counted until
// emitted.
func (p *Prioritized) Len() int {
	return p.buf.Len()
}

// Capacity returns the maximum number of transitions the buffer can
// hold
func (p *Prioritized) Capacity() int {
	return p.buf.Capacity()
}

// BatchSize returns the number of transitions returned by Sample()
func (p *Prioritized) BatchSize() int {
	return p.buf.BatchSize()
}

// FeatureSize returns the number of state features per transition
func (p *Prioritized) FeatureSize() int {
	return p.buf.FeatureSize()
}
