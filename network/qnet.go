package network

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// QNetwork maps batches of states to one action value per discrete
// action. Backward consumes the gradient of the objective with respect
// to the Forward output.
type QNetwork interface {
	Network
	Forward(states *mat.Dense) *mat.Dense
	Backward(dQ *mat.Dense)
	CloneQ() QNetwork
}

// TwinQNetwork is a QNetwork with two independently parameterized
// value heads over a shared trunk. Forward returns the first head.
type TwinQNetwork interface {
	QNetwork
	Q1Q2(states *mat.Dense) (*mat.Dense, *mat.Dense)
	BackwardQ1Q2(dQ1, dQ2 *mat.Dense)
}

// QNet is a plain action-value network.
type QNet struct {
	mlp *MLP
}

// NewQNet returns an action-value network with two hidden layers of
// the given width.
func NewQNet(width, stateDim, actionDim int, rng *rand.Rand) (*QNet,
	error) {
	mlp, err := NewMLP("qnet", stateDim, []int{width, width}, actionDim,
		ReLU, Identity, rng)
	if err != nil {
		return nil, err
	}
	return &QNet{mlp: mlp}, nil
}

// Forward returns action values for the batch of states.
func (q *QNet) Forward(states *mat.Dense) *mat.Dense {
	return q.mlp.Forward(states)
}

// Backward accumulates gradients from the objective gradient dQ.
func (q *QNet) Backward(dQ *mat.Dense) {
	q.mlp.Backward(dQ)
}

// Learnables returns the network parameters.
func (q *QNet) Learnables() []*Param { return q.mlp.Learnables() }

// ZeroGrad clears accumulated gradients.
func (q *QNet) ZeroGrad() { q.mlp.ZeroGrad() }

// CloneQ returns an independent deep copy.
func (q *QNet) CloneQ() QNetwork { return &QNet{mlp: q.mlp.Clone()} }

// duelHead turns trunk features into action values through separate
// state-value and advantage streams:
//
//	q(s, a) = v(s) + adv(s, a) - mean_a adv(s, a).
type duelHead struct {
	adv *MLP
	val *MLP
}

func newDuelHead(name string, width, actionDim int,
	rng *rand.Rand) (*duelHead, error) {
	adv, err := NewMLP(name+".adv", width, nil, actionDim, ReLU, Identity,
		rng)
	if err != nil {
		return nil, err
	}
	val, err := NewMLP(name+".val", width, nil, 1, ReLU, Identity, rng)
	if err != nil {
		return nil, err
	}
	return &duelHead{adv: adv, val: val}, nil
}

func (d *duelHead) forward(trunk *mat.Dense) *mat.Dense {
	adv := d.adv.Forward(trunk)
	val := d.val.Forward(trunk)

	batch, actions := adv.Dims()
	q := mat.NewDense(batch, actions, nil)
	for i := 0; i < batch; i++ {
		mean := 0.0
		for j := 0; j < actions; j++ {
			mean += adv.At(i, j)
		}
		mean /= float64(actions)
		for j := 0; j < actions; j++ {
			q.Set(i, j, val.At(i, 0)+adv.At(i, j)-mean)
		}
	}
	return q
}

// backward returns the gradient with respect to the trunk features.
func (d *duelHead) backward(dQ *mat.Dense) *mat.Dense {
	batch, actions := dQ.Dims()

	dAdv := mat.NewDense(batch, actions, nil)
	dVal := mat.NewDense(batch, 1, nil)
	for i := 0; i < batch; i++ {
		rowSum := 0.0
		for j := 0; j < actions; j++ {
			rowSum += dQ.At(i, j)
		}
		dVal.Set(i, 0, rowSum)
		rowMean := rowSum / float64(actions)
		for j := 0; j < actions; j++ {
			dAdv.Set(i, j, dQ.At(i, j)-rowMean)
		}
	}

	dTrunk := d.adv.Backward(dAdv)
	dTrunk.Add(dTrunk, d.val.Backward(dVal))
	return dTrunk
}

func (d *duelHead) learnables() []*Param {
	return append(d.adv.Learnables(), d.val.Learnables()...)
}

func (d *duelHead) clone() *duelHead {
	return &duelHead{adv: d.adv.Clone(), val: d.val.Clone()}
}

// DuelingQNet is an action-value network with a dueling head.
type DuelingQNet struct {
	trunk *MLP
	head  *duelHead
}

// NewDuelingQNet returns a dueling action-value network.
func NewDuelingQNet(width, stateDim, actionDim int,
	rng *rand.Rand) (*DuelingQNet, error) {
	trunk, err := NewMLP("duelq.trunk", stateDim, []int{width}, width,
		ReLU, ReLU, rng)
	if err != nil {
		return nil, err
	}
	head, err := newDuelHead("duelq", width, actionDim, rng)
	if err != nil {
		return nil, err
	}
	return &DuelingQNet{trunk: trunk, head: head}, nil
}

// Forward returns action values for the batch of states.
func (q *DuelingQNet) Forward(states *mat.Dense) *mat.Dense {
	return q.head.forward(q.trunk.Forward(states))
}

// Backward accumulates gradients from the objective gradient dQ.
func (q *DuelingQNet) Backward(dQ *mat.Dense) {
	q.trunk.Backward(q.head.backward(dQ))
}

// Learnables returns the network parameters.
func (q *DuelingQNet) Learnables() []*Param {
	return append(q.trunk.Learnables(), q.head.learnables()...)
}

// ZeroGrad clears accumulated gradients.
func (q *DuelingQNet) ZeroGrad() { zeroAll(q.Learnables()) }

// CloneQ returns an independent deep copy.
func (q *DuelingQNet) CloneQ() QNetwork {
	return &DuelingQNet{trunk: q.trunk.Clone(), head: q.head.clone()}
}

// TwinQNet holds two action-value heads over a shared state trunk.
type TwinQNet struct {
	trunk *MLP
	q1    *MLP
	q2    *MLP
}

// NewTwinQNet returns a twin action-value network.
func NewTwinQNet(width, stateDim, actionDim int,
	rng *rand.Rand) (*TwinQNet, error) {
	trunk, err := NewMLP("twinq.trunk", stateDim, []int{width}, width,
		ReLU, ReLU, rng)
	if err != nil {
		return nil, err
	}
	q1, err := NewMLP("twinq.q1", width, []int{width}, actionDim, ReLU,
		Identity, rng)
	if err != nil {
		return nil, err
	}
	q2, err := NewMLP("twinq.q2", width, []int{width}, actionDim, ReLU,
		Identity, rng)
	if err != nil {
		return nil, err
	}
	return &TwinQNet{trunk: trunk, q1: q1, q2: q2}, nil
}

// Forward returns the first head's action values.
func (q *TwinQNet) Forward(states *mat.Dense) *mat.Dense {
	v1, _ := q.Q1Q2(states)
	return v1
}

// Q1Q2 returns both heads' action values.
func (q *TwinQNet) Q1Q2(states *mat.Dense) (*mat.Dense, *mat.Dense) {
	t := q.trunk.Forward(states)
	return q.q1.Forward(t), q.q2.Forward(t)
}

// Backward accumulates gradients, treating dQ as the gradient on the
// first head only.
func (q *TwinQNet) Backward(dQ *mat.Dense) {
	r, c := dQ.Dims()
	q.BackwardQ1Q2(dQ, mat.NewDense(r, c, nil))
}

// BackwardQ1Q2 accumulates gradients from both heads' objective
// gradients.
func (q *TwinQNet) BackwardQ1Q2(dQ1, dQ2 *mat.Dense) {
	dTrunk := q.q1.Backward(dQ1)
	dTrunk.Add(dTrunk, q.q2.Backward(dQ2))
	q.trunk.Backward(dTrunk)
}

// Learnables returns the network parameters.
func (q *TwinQNet) Learnables() []*Param {
	params := append(q.trunk.Learnables(), q.q1.Learnables()...)
	return append(params, q.q2.Learnables()...)
}

// ZeroGrad clears accumulated gradients.
func (q *TwinQNet) ZeroGrad() { zeroAll(q.Learnables()) }

// CloneQ returns an independent deep copy.
func (q *TwinQNet) CloneQ() QNetwork {
	return &TwinQNet{
		trunk: q.trunk.Clone(),
		q1:    q.q1.Clone(),
		q2:    q.q2.Clone(),
	}
}

// TwinDuelingQNet holds two dueling heads over a shared state trunk.
type TwinDuelingQNet struct {
	trunk *MLP
	h1    *duelHead
	h2    *duelHead
}

// NewTwinDuelingQNet returns a twin dueling action-value network.
func NewTwinDuelingQNet(width, stateDim, actionDim int,
	rng *rand.Rand) (*TwinDuelingQNet, error) {
	trunk, err := NewMLP("twinduelq.trunk", stateDim, []int{width}, width,
		ReLU, ReLU, rng)
	if err != nil {
		return nil, err
	}
	h1, err := newDuelHead("twinduelq.h1", width, actionDim, rng)
	if err != nil {
		return nil, err
	}
	h2, err := newDuelHead("twinduelq.h2", width, actionDim, rng)
	if err != nil {
		return nil, err
	}
	return &TwinDuelingQNet{trunk: trunk, h1: h1, h2: h2}, nil
}

// Forward returns the first head's action values.
func (q *TwinDuelingQNet) Forward(states *mat.Dense) *mat.Dense {
	v1, _ := q.Q1Q2(states)
	return v1
}

// Q1Q2 returns both heads' action values.
func (q *TwinDuelingQNet) Q1Q2(states *mat.Dense) (*mat.Dense,
	*mat.Dense) {
	t := q.trunk.Forward(states)
	return q.h1.forward(t), q.h2.forward(t)
}

// Backward accumulates gradients, treating dQ as the gradient on the
// first head only.
func (q *TwinDuelingQNet) Backward(dQ *mat.Dense) {
	r, c := dQ.Dims()
	q.BackwardQ1Q2(dQ, mat.NewDense(r, c, nil))
}

// BackwardQ1Q2 accumulates gradients from both heads' objective
// gradients.
func (q *TwinDuelingQNet) BackwardQ1Q2(dQ1, dQ2 *mat.Dense) {
	dTrunk := q.h1.backward(dQ1)
	dTrunk.Add(dTrunk, q.h2.backward(dQ2))
	q.trunk.Backward(dTrunk)
}

// Learnables returns the network parameters.
func (q *TwinDuelingQNet) Learnables() []*Param {
	params := append(q.trunk.Learnables(), q.h1.learnables()...)
	return append(params, q.h2.learnables()...)
}

// ZeroGrad clears accumulated gradients.
func (q *TwinDuelingQNet) ZeroGrad() { zeroAll(q.Learnables()) }

// CloneQ returns an independent deep copy.
func (q *TwinDuelingQNet) CloneQ() QNetwork {
	return &TwinDuelingQNet{
		trunk: q.trunk.Clone(),
		h1:    q.h1.clone(),
		h2:    q.h2.clone(),
	}
}
