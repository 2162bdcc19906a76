package network

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Critic maps (state, action) pairs to a scalar value. Backward
// returns the gradient with respect to the action inputs so that
// deterministic policy gradients can flow into an actor.
type Critic struct {
	mlp       *MLP
	stateDim  int
	actionDim int
}

// NewCritic returns a state-action value network with two hidden
// layers of the given width.
func NewCritic(width, stateDim, actionDim int, rng *rand.Rand) (*Critic,
	error) {
	mlp, err := NewMLP("critic", stateDim+actionDim, []int{width, width},
		1, ReLU, Identity, rng)
	if err != nil {
		return nil, err
	}
	return &Critic{mlp: mlp, stateDim: stateDim, actionDim: actionDim}, nil
}

// Forward returns the value of each (state, action) row pair.
func (c *Critic) Forward(states, actions *mat.Dense) *mat.Dense {
	return c.mlp.Forward(concatCols(states, actions))
}

// Backward accumulates gradients from the objective gradient dQ and
// returns the gradient with respect to the action inputs.
func (c *Critic) Backward(dQ *mat.Dense) *mat.Dense {
	dIn := c.mlp.Backward(dQ)
	return sliceCols(dIn, c.stateDim, c.stateDim+c.actionDim)
}

// Learnables returns the network parameters.
func (c *Critic) Learnables() []*Param { return c.mlp.Learnables() }

// ZeroGrad clears accumulated gradients.
func (c *Critic) ZeroGrad() { c.mlp.ZeroGrad() }

// Clone returns an independent deep copy.
func (c *Critic) Clone() *Critic {
	return &Critic{
		mlp:       c.mlp.Clone(),
		stateDim:  c.stateDim,
		actionDim: c.actionDim,
	}
}

// TwinCritic holds two independently parameterized state-action value
// networks trained toward the same target and combined by a minimum to
// curb overestimation bias.
type TwinCritic struct {
	c1 *Critic
	c2 *Critic
}

// NewTwinCritic returns a twin state-action value network.
func NewTwinCritic(width, stateDim, actionDim int,
	rng *rand.Rand) (*TwinCritic, error) {
	c1, err := NewCritic(width, stateDim, actionDim, rng)
	if err != nil {
		return nil, err
	}
	c2, err := NewCritic(width, stateDim, actionDim, rng)
	if err != nil {
		return nil, err
	}
	return &TwinCritic{c1: c1, c2: c2}, nil
}

// Q1Q2 returns both heads' values for each (state, action) row pair.
func (t *TwinCritic) Q1Q2(states, actions *mat.Dense) (*mat.Dense,
	*mat.Dense) {
	return t.c1.Forward(states, actions), t.c2.Forward(states, actions)
}

// MinQ returns the elementwise minimum of both heads' values.
func (t *TwinCritic) MinQ(states, actions *mat.Dense) *mat.Dense {
	q1, q2 := t.Q1Q2(states, actions)
	r, c := q1.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, min(q1.At(i, j), q2.At(i, j)))
		}
	}
	return out
}

// BackwardQ1Q2 accumulates gradients from both heads' objective
// gradients and returns the summed gradient with respect to the action
// inputs.
func (t *TwinCritic) BackwardQ1Q2(dQ1, dQ2 *mat.Dense) *mat.Dense {
	dA := t.c1.Backward(dQ1)
	dA.Add(dA, t.c2.Backward(dQ2))
	return dA
}

// Learnables returns the parameters of both heads.
func (t *TwinCritic) Learnables() []*Param {
	return append(t.c1.Learnables(), t.c2.Learnables()...)
}

// ZeroGrad clears accumulated gradients.
func (t *TwinCritic) ZeroGrad() { zeroAll(t.Learnables()) }

// Clone returns an independent deep copy.
func (t *TwinCritic) Clone() *TwinCritic {
	return &TwinCritic{c1: t.c1.Clone(), c2: t.c2.Clone()}
}

// ValueNet maps states to a scalar state value. It is the critic used
// by on-policy agents, which never condition on actions.
type ValueNet struct {
	mlp *MLP
}

// NewValueNet returns a state value network with two hidden layers of
// the given width.
func NewValueNet(width, stateDim int, rng *rand.Rand) (*ValueNet, error) {
	mlp, err := NewMLP("valuenet", stateDim, []int{width, width}, 1, ReLU,
		Identity, rng)
	if err != nil {
		return nil, err
	}
	return &ValueNet{mlp: mlp}, nil
}

// Forward returns the value of each state in the batch.
func (v *ValueNet) Forward(states *mat.Dense) *mat.Dense {
	return v.mlp.Forward(states)
}

// Backward accumulates gradients from the objective gradient dV.
func (v *ValueNet) Backward(dV *mat.Dense) {
	v.mlp.Backward(dV)
}

// Learnables returns the network parameters.
func (v *ValueNet) Learnables() []*Param { return v.mlp.Learnables() }

// ZeroGrad clears accumulated gradients.
func (v *ValueNet) ZeroGrad() { v.mlp.ZeroGrad() }

// Clone returns an independent deep copy.
func (v *ValueNet) Clone() *ValueNet {
	return &ValueNet{mlp: v.mlp.Clone()}
}

func concatCols(a, b *mat.Dense) *mat.Dense {
	r, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(r, ca+cb, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < ca; j++ {
			out.Set(i, j, a.At(i, j))
		}
		for j := 0; j < cb; j++ {
			out.Set(i, ca+j, b.At(i, j))
		}
	}
	return out
}

func sliceCols(m *mat.Dense, from, to int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, to-from, nil)
	for i := 0; i < r; i++ {
		for j := from; j < to; j++ {
			out.Set(i, j-from, m.At(i, j))
		}
	}
	return out
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
