package expreplay

import (
	"math"

	"github.com/pkg/errors"
)

// Prioritized sampling hyperparameters: alpha shapes priorities from
// TD errors, beta corrects the induced bias through importance
// weights.
const (
	priorityAlpha   = 0.6
	priorityBeta    = 0.4
	priorityEpsilon = 1e-6
)

// Prioritized is a replay buffer that samples transitions in
// proportion to their historical absolute TD error. Sampled batches
// carry importance weights; callers feed fresh TD errors back through
// UpdatePriorities.
type Prioritized struct {
	*Uniform

	tree        *sumTree
	maxPriority float64
}

// NewPrioritized returns a prioritized replay buffer holding up to
// maxLen transitions.
func NewPrioritized(maxLen, stateDim, actionDim int,
	seed uint64) (*Prioritized, error) {
	storage, err := NewUniform(maxLen, stateDim, actionDim, seed)
	if err != nil {
		return nil, err
	}
	return &Prioritized{
		Uniform:     storage,
		tree:        newSumTree(maxLen),
		maxPriority: 1.0,
	}, nil
}

// Append stores one transition at maximal priority so that every
// transition is sampled at least once before its priority decays.
func (p *Prioritized) Append(state, action, next []float64, reward,
	mask float64) error {
	slot := p.cursor
	if err := p.Uniform.Append(state, action, next, reward,
		mask); err != nil {
		return err
	}
	p.tree.set(slot, p.maxPriority)
	return nil
}

// SampleBatch returns n transitions drawn in proportion to priority,
// with importance weights normalized by the batch maximum.
func (p *Prioritized) SampleBatch(n int) (*Batch, error) {
	if p.nowLen == 0 {
		return nil, errors.New("expreplay: cannot sample from an empty " +
			"buffer")
	}

	total := p.tree.total()
	if total <= 0 {
		return nil, errors.New("expreplay: prioritized buffer has no " +
			"sampling mass")
	}

	indices := make([]int, n)
	weights := make([]float64, n)
	segment := total / float64(n)
	maxWeight := 0.0
	for i := 0; i < n; i++ {
		target := (float64(i) + p.rng.Float64()) * segment
		idx, priority := p.tree.find(target)
		if idx >= p.nowLen {
			// Unfilled slots carry zero mass; guard against rounding.
			idx = p.nowLen - 1
			priority = p.tree.get(idx)
		}
		indices[i] = idx

		prob := priority / total
		weights[i] = math.Pow(float64(p.nowLen)*prob, -priorityBeta)
		if weights[i] > maxWeight {
			maxWeight = weights[i]
		}
	}
	for i := range weights {
		weights[i] /= maxWeight
	}

	return p.gather(indices, weights), nil
}

// UpdatePriorities refreshes the priority of the identified slots from
// absolute TD errors.
func (p *Prioritized) UpdatePriorities(indices []int, tdErr []float64) {
	for i, idx := range indices {
		priority := math.Pow(math.Abs(tdErr[i])+priorityEpsilon,
			priorityAlpha)
		p.tree.set(idx, priority)
		if priority > p.maxPriority {
			p.maxPriority = priority
		}
	}
}

// Clear discards every stored transition and its priority.
func (p *Prioritized) Clear() {
	p.Uniform.Clear()
	p.tree = newSumTree(p.maxLen)
	p.maxPriority = 1.0
}

// sumTree is a complete binary tree whose leaves hold per-slot
// priorities and whose internal nodes hold subtree sums, giving
// logarithmic proportional sampling and updates.
type sumTree struct {
	size  int
	nodes []float64 // 1-based heap layout, leaves at [size, 2*size)
}

func newSumTree(size int) *sumTree {
	capacity := 1
	for capacity < size {
		capacity *= 2
	}
	return &sumTree{size: capacity, nodes: make([]float64, 2*capacity)}
}

func (t *sumTree) total() float64 {
	return t.nodes[1]
}

func (t *sumTree) get(i int) float64 {
	return t.nodes[t.size+i]
}

func (t *sumTree) set(i int, priority float64) {
	node := t.size + i
	delta := priority - t.nodes[node]
	for node >= 1 {
		t.nodes[node] += delta
		node /= 2
	}
}

// find returns the slot whose cumulative priority interval contains
// target, together with its priority.
func (t *sumTree) find(target float64) (int, float64) {
	node := 1
	for node < t.size {
		left := 2 * node
		if target < t.nodes[left] {
			node = left
		} else {
			target -= t.nodes[left]
			node = left + 1
		}
	}
	return node - t.size, t.nodes[node]
}
