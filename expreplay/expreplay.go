// Package expreplay implements the transition stores agents sample
// during training: a uniform ring buffer, a prioritized buffer with
// importance weights, and trajectory retrieval for on-policy agents.
package expreplay

import (
	"gonum.org/v1/gonum/mat"
)

// Batch is one sampled batch of transitions in matrix form, one
// transition per row.
type Batch struct {
	Reward *mat.VecDense
	Mask   *mat.VecDense // discount factor, 0 at episode termination
	Action *mat.Dense
	State  *mat.Dense
	Next   *mat.Dense

	// Weights holds per-transition importance weights when the batch
	// came from a prioritized buffer, and is nil otherwise.
	Weights *mat.VecDense

	// Indices identifies the sampled slots for priority refresh.
	Indices []int
}

// Buffer is a capacity-bounded transition store.
type Buffer interface {
	// Append stores one transition, evicting the oldest when full.
	Append(state, action, next []float64, reward, mask float64) error

	// SampleBatch returns n transitions drawn by the buffer's sampling
	// scheme.
	SampleBatch(n int) (*Batch, error)

	// SampleAll returns every stored transition in insertion order.
	SampleAll() (*Batch, error)

	// Len returns the number of stored transitions.
	Len() int

	// MaxLen returns the buffer capacity.
	MaxLen() int

	// UpdatePriorities refreshes the sampling priority of the
	// identified slots from absolute TD errors. Buffers with uniform
	// sampling ignore the call.
	UpdatePriorities(indices []int, tdErr []float64)

	// Clear discards every stored transition.
	Clear()
}
