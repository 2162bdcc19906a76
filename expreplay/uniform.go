package expreplay

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Uniform is a capacity-bounded ring buffer sampled uniformly with
// replacement. It doubles as the trajectory store for on-policy
// agents, which read it back in insertion order and clear it after
// every update.
type Uniform struct {
	stateDim  int
	actionDim int
	maxLen    int
	nowLen    int
	cursor    int

	states  *tensor.Dense
	actions *tensor.Dense
	next    *tensor.Dense
	rewards []float64
	masks   []float64

	rng *rand.Rand
}

// NewUniform returns a uniform replay buffer holding up to maxLen
// transitions.
func NewUniform(maxLen, stateDim, actionDim int,
	seed uint64) (*Uniform, error) {
	if maxLen <= 0 || stateDim <= 0 || actionDim <= 0 {
		return nil, errors.Errorf("expreplay: nonpositive buffer "+
			"dimensions (capacity %d, state %d, action %d)", maxLen,
			stateDim, actionDim)
	}
	return &Uniform{
		stateDim:  stateDim,
		actionDim: actionDim,
		maxLen:    maxLen,
		states: tensor.New(tensor.WithShape(maxLen, stateDim),
			tensor.Of(tensor.Float64)),
		actions: tensor.New(tensor.WithShape(maxLen, actionDim),
			tensor.Of(tensor.Float64)),
		next: tensor.New(tensor.WithShape(maxLen, stateDim),
			tensor.Of(tensor.Float64)),
		rewards: make([]float64, maxLen),
		masks:   make([]float64, maxLen),
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Append stores one transition, evicting the oldest when full.
func (u *Uniform) Append(state, action, next []float64, reward,
	mask float64) error {
	if len(state) != u.stateDim || len(next) != u.stateDim {
		return errors.Errorf("expreplay: state dims (%d, %d) do not "+
			"match buffer state dim %d", len(state), len(next), u.stateDim)
	}
	if len(action) != u.actionDim {
		return errors.Errorf("expreplay: action dim %d does not match "+
			"buffer action dim %d", len(action), u.actionDim)
	}

	copy(u.stateRow(u.cursor), state)
	copy(u.actionRow(u.cursor), action)
	copy(u.nextRow(u.cursor), next)
	u.rewards[u.cursor] = reward
	u.masks[u.cursor] = mask

	u.cursor = (u.cursor + 1) % u.maxLen
	if u.nowLen < u.maxLen {
		u.nowLen++
	}
	return nil
}

// SampleBatch returns n transitions drawn uniformly with replacement.
func (u *Uniform) SampleBatch(n int) (*Batch, error) {
	if u.nowLen == 0 {
		return nil, errors.New("expreplay: cannot sample from an empty " +
			"buffer")
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = u.rng.Intn(u.nowLen)
	}
	return u.gather(indices, nil), nil
}

// SampleAll returns every stored transition in insertion order.
func (u *Uniform) SampleAll() (*Batch, error) {
	if u.nowLen == 0 {
		return nil, errors.New("expreplay: cannot sample from an empty " +
			"buffer")
	}
	indices := make([]int, u.nowLen)
	start := 0
	if u.nowLen == u.maxLen {
		start = u.cursor
	}
	for i := range indices {
		indices[i] = (start + i) % u.maxLen
	}
	return u.gather(indices, nil), nil
}

// Len returns the number of stored transitions.
func (u *Uniform) Len() int { return u.nowLen }

// MaxLen returns the buffer capacity.
func (u *Uniform) MaxLen() int { return u.maxLen }

// UpdatePriorities is a no-op: all slots are equally likely.
func (u *Uniform) UpdatePriorities([]int, []float64) {}

// Clear discards every stored transition.
func (u *Uniform) Clear() {
	u.nowLen = 0
	u.cursor = 0
}

func (u *Uniform) stateRow(i int) []float64 {
	data := u.states.Data().([]float64)
	return data[i*u.stateDim : (i+1)*u.stateDim]
}

func (u *Uniform) actionRow(i int) []float64 {
	data := u.actions.Data().([]float64)
	return data[i*u.actionDim : (i+1)*u.actionDim]
}

func (u *Uniform) nextRow(i int) []float64 {
	data := u.next.Data().([]float64)
	return data[i*u.stateDim : (i+1)*u.stateDim]
}

// gather assembles a batch from the given slots, attaching weights
// when non-nil.
func (u *Uniform) gather(indices []int, weights []float64) *Batch {
	n := len(indices)
	batch := &Batch{
		Reward:  mat.NewVecDense(n, nil),
		Mask:    mat.NewVecDense(n, nil),
		Action:  mat.NewDense(n, u.actionDim, nil),
		State:   mat.NewDense(n, u.stateDim, nil),
		Next:    mat.NewDense(n, u.stateDim, nil),
		Indices: indices,
	}
	for i, idx := range indices {
		batch.Reward.SetVec(i, u.rewards[idx])
		batch.Mask.SetVec(i, u.masks[idx])
		batch.State.SetRow(i, u.stateRow(idx))
		batch.Action.SetRow(i, u.actionRow(idx))
		batch.Next.SetRow(i, u.nextRow(idx))
	}
	if weights != nil {
		batch.Weights = mat.NewVecDense(n, weights)
	}
	return batch
}
