package network

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// DeterministicActor maps states to actions in [-1, 1] through a
// tanh-bounded network.
type DeterministicActor struct {
	mlp *MLP
}

// NewDeterministicActor returns a deterministic policy network with
// two hidden layers of the given width.
func NewDeterministicActor(width, stateDim, actionDim int,
	rng *rand.Rand) (*DeterministicActor, error) {
	mlp, err := NewMLP("actor", stateDim, []int{width, width}, actionDim,
		ReLU, Tanh, rng)
	if err != nil {
		return nil, err
	}
	return &DeterministicActor{mlp: mlp}, nil
}

// Forward returns the action for each state in the batch.
func (a *DeterministicActor) Forward(states *mat.Dense) *mat.Dense {
	return a.mlp.Forward(states)
}

// Act returns the action for a single state.
func (a *DeterministicActor) Act(state []float64) []float64 {
	out := a.Forward(mat.NewDense(1, len(state), state))
	return mat.Row(nil, 0, out)
}

// Backward accumulates gradients from the objective gradient with
// respect to the last Forward output.
func (a *DeterministicActor) Backward(dAction *mat.Dense) {
	a.mlp.Backward(dAction)
}

// Learnables returns the network parameters.
func (a *DeterministicActor) Learnables() []*Param {
	return a.mlp.Learnables()
}

// ZeroGrad clears accumulated gradients.
func (a *DeterministicActor) ZeroGrad() { a.mlp.ZeroGrad() }

// Clone returns an independent deep copy.
func (a *DeterministicActor) Clone() *DeterministicActor {
	return &DeterministicActor{mlp: a.mlp.Clone()}
}
