package expreplay

import "math"

// sumTree is a complete binary tree that stores priorities at its
// leaves, with each internal node holding the sum of its children.
// Updating a leaf and locating the leaf spanning a prefix sum are both
// O(log n). Leaves map one-to-one onto replay buffer slots.
type sumTree struct {
	nodes   []float64
	nLeaves int
}

// newSumTree returns a sum tree with at least capacity leaves. The
// leaf count is rounded up to the next power of two so the tree is
// complete; extra leaves hold zero priority and are never retrieved.
func newSumTree(capacity int) *sumTree {
	nLeaves := 1
	for nLeaves < capacity {
		nLeaves *= 2
	}
	return &sumTree{
		nodes:   make([]float64, 2*nLeaves),
		nLeaves: nLeaves,
	}
}

// Update sets the priority at leaf i and refreshes ancestor sums
func (t *sumTree) Update(i int, priority float64) {
	node := t.nLeaves + i
	t.nodes[node] = priority
	for node /= 2; node >= 1; node /= 2 {
		t.nodes[node] = t.nodes[2*node] + t.nodes[2*node+1]
	}
}

// Get returns the priority at leaf i
func (t *sumTree) Get(i int) float64 {
	return t.nodes[t.nLeaves+i]
}

// Total returns the sum of all leaf priorities
func (t *sumTree) Total() float64 {
	return t.nodes[1]
}

// Retrieve returns the index of the leaf spanning the given prefix
// sum. That is, it returns the smallest i such that the sum of leaf
// priorities 0..i exceeds prefix. Sampling prefix uniformly from
// [0, Total()) therefore selects leaf i with probability proportional
// to its priority.
func (t *sumTree) Retrieve(prefix float64) int {
	node := 1
	for node < t.nLeaves {
		left := 2 * node
		if prefix < t.nodes[left] {
			node = left
		} else {
			prefix -= t.nodes[left]
			node = left + 1
		}
	}
	return node - t.nLeaves
}

// minTree is the companion of sumTree for minimum queries: each
// internal node holds the minimum of its children. The minimum
// priority over all occupied slots determines the largest
// importance-sampling weight, which normalizes all other weights.
type minTree struct {
	nodes   []float64
	nLeaves int
}

func newMinTree(capacity int) *minTree {
	nLeaves := 1
	for nLeaves < capacity {
		nLeaves *= 2
	}
	nodes := make([]float64, 2*nLeaves)
	for i := range nodes {
		nodes[i] = math.Inf(1)
	}
	return &minTree{
		nodes:   nodes,
		nLeaves: nLeaves,
	}
}

// Update sets the priority at leaf i and refreshes ancestor minima
func (t *minTree) Update(i int, priority float64) {
	node := t.nLeaves + i
	t.nodes[node] = priority
	for node /= 2; node >= 1; node /= 2 {
		t.nodes[node] = math.Min(t.nodes[2*node], t.nodes[2*node+1])
	}
}

// Min returns the minimum priority over all leaves that have been
// updated at least once
func (t *minTree) Min() float64 {
	return t.nodes[1]
}
