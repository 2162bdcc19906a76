package network

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// PPOActor is a Gaussian policy with a state-dependent mean and a
// single state-independent learned log standard deviation per action
// dimension. Unlike GaussianActor it evaluates log probabilities of
// externally supplied actions, so no gradient flows through action
// selection.
type PPOActor struct {
	mean      *MLP
	aStdLog   *Param // 1 x actionDim
	stdNormal distuv.Normal

	// LogProb cache for backward.
	actions *mat.Dense
	mu      *mat.Dense
}

// NewPPOActor returns a Gaussian policy network for on-policy
// trust-region updates.
func NewPPOActor(width, stateDim, actionDim int, rng *rand.Rand) (
	*PPOActor, error) {
	mean, err := NewMLP("ppoactor.mean", stateDim, []int{width, width},
		actionDim, ReLU, Tanh, rng)
	if err != nil {
		return nil, err
	}
	logStd := mat.NewDense(1, actionDim, nil)
	for j := 0; j < actionDim; j++ {
		logStd.Set(0, j, -0.5)
	}
	return &PPOActor{
		mean:    mean,
		aStdLog: newParam("ppoactor.logstd", logStd),
		stdNormal: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(rng.Uint64()),
		},
	}, nil
}

// Act samples one exploration action for a single state.
func (p *PPOActor) Act(state []float64) []float64 {
	mu := p.mean.Forward(mat.NewDense(1, len(state), state))
	_, dims := mu.Dims()
	action := make([]float64, dims)
	for j := 0; j < dims; j++ {
		std := math.Exp(p.aStdLog.Value.At(0, j))
		action[j] = mu.At(0, j) + std*p.stdNormal.Rand()
	}
	return action
}

// LogProb returns the log probability of each supplied action under
// the current policy at the matching state. The internal cache from
// this call feeds BackwardLogProb.
func (p *PPOActor) LogProb(states, actions *mat.Dense) *mat.Dense {
	mu := p.mean.Forward(states)
	batch, dims := mu.Dims()

	out := mat.NewDense(batch, 1, nil)
	for i := 0; i < batch; i++ {
		lp := 0.0
		for j := 0; j < dims; j++ {
			ls := p.aStdLog.Value.At(0, j)
			z := (actions.At(i, j) - mu.At(i, j)) / math.Exp(ls)
			lp += -logSqrt2Pi - ls - 0.5*z*z
		}
		out.Set(i, 0, lp)
	}

	p.actions, p.mu = actions, mu
	return out
}

// BackwardLogProb propagates an objective gradient on the log
// probabilities from the last LogProb call into the mean network and
// the log-std parameter.
func (p *PPOActor) BackwardLogProb(dLogProb *mat.Dense) {
	batch, dims := p.mu.Dims()

	dMu := mat.NewDense(batch, dims, nil)
	for j := 0; j < dims; j++ {
		ls := p.aStdLog.Value.At(0, j)
		variance := math.Exp(2 * ls)
		dLs := 0.0
		for i := 0; i < batch; i++ {
			diff := p.actions.At(i, j) - p.mu.At(i, j)
			dLp := dLogProb.At(i, 0)
			dMu.Set(i, j, dLp*diff/variance)
			dLs += dLp * (diff*diff/variance - 1)
		}
		p.aStdLog.Grad.Set(0, j, p.aStdLog.Grad.At(0, j)+dLs)
	}
	p.mean.Backward(dMu)
}

// StdMean returns the mean of the per-dimension standard deviations,
// a convenient training statistic.
func (p *PPOActor) StdMean() float64 {
	_, dims := p.aStdLog.Value.Dims()
	sum := 0.0
	for j := 0; j < dims; j++ {
		sum += math.Exp(p.aStdLog.Value.At(0, j))
	}
	return sum / float64(dims)
}

// Learnables returns the mean network parameters and the log-std
// parameter.
func (p *PPOActor) Learnables() []*Param {
	return append(p.mean.Learnables(), p.aStdLog)
}

// ZeroGrad clears accumulated gradients.
func (p *PPOActor) ZeroGrad() { zeroAll(p.Learnables()) }

// Clone returns an independent deep copy.
func (p *PPOActor) Clone() *PPOActor {
	return &PPOActor{
		mean:      p.mean.Clone(),
		aStdLog:   p.aStdLog.clone(),
		stdNormal: p.stdNormal,
	}
}
