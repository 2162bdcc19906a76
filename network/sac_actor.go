package network

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Log standard deviation bounds for stochastic policy heads. Values
// outside the range are clamped and receive no gradient.
const (
	logStdMin = -20.0
	logStdMax = 2.0
)

const logSqrt2Pi = 0.9189385332046727

// squashEps keeps the tanh-squash log-density correction finite as the
// action saturates.
const squashEps = 1e-6

// GaussianActor is a tanh-squashed Gaussian policy. Actions are
// sampled by the reparameterization a = tanh(mu + std*eps), and the
// backward pass propagates objective gradients on both the action and
// its log probability into the network parameters.
type GaussianActor struct {
	trunk      *MLP
	muHead     *MLP
	logStdHead *MLP

	stdNormal distuv.Normal

	// Sampling cache for backward.
	action  *mat.Dense // tanh(pre)
	std     *mat.Dense
	eps     *mat.Dense
	clamped *mat.Dense // 1 where logStd was clamped
}

// NewGaussianActor returns a tanh-Gaussian policy network with a
// shared trunk and separate mean and log-std heads.
func NewGaussianActor(width, stateDim, actionDim int,
	rng *rand.Rand) (*GaussianActor, error) {
	trunk, err := NewMLP("gactor.trunk", stateDim, []int{width}, width,
		ReLU, ReLU, rng)
	if err != nil {
		return nil, err
	}
	muHead, err := NewMLP("gactor.mu", width, nil, actionDim, ReLU,
		Identity, rng)
	if err != nil {
		return nil, err
	}
	logStdHead, err := NewMLP("gactor.logstd", width, nil, actionDim,
		ReLU, Identity, rng)
	if err != nil {
		return nil, err
	}
	return &GaussianActor{
		trunk:      trunk,
		muHead:     muHead,
		logStdHead: logStdHead,
		stdNormal: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(rng.Uint64()),
		},
	}, nil
}

// SampleActionLogProb draws one reparameterized action per state and
// returns the actions together with their log probabilities under the
// squashed density. The internal cache from this call feeds Backward.
func (g *GaussianActor) SampleActionLogProb(states *mat.Dense) (
	actions *mat.Dense, logProb *mat.Dense) {
	t := g.trunk.Forward(states)
	mu := g.muHead.Forward(t)
	logStd := g.logStdHead.Forward(t)

	batch, dims := mu.Dims()
	std := mat.NewDense(batch, dims, nil)
	eps := mat.NewDense(batch, dims, nil)
	clamped := mat.NewDense(batch, dims, nil)
	actions = mat.NewDense(batch, dims, nil)
	logProb = mat.NewDense(batch, 1, nil)

	for i := 0; i < batch; i++ {
		lp := 0.0
		for j := 0; j < dims; j++ {
			ls := logStd.At(i, j)
			if ls < logStdMin {
				ls = logStdMin
				clamped.Set(i, j, 1)
			} else if ls > logStdMax {
				ls = logStdMax
				clamped.Set(i, j, 1)
			}
			s := math.Exp(ls)
			e := g.stdNormal.Rand()
			pre := mu.At(i, j) + s*e
			a := math.Tanh(pre)

			std.Set(i, j, s)
			eps.Set(i, j, e)
			actions.Set(i, j, a)

			// Gaussian density of the pre-squash sample plus the
			// tanh change-of-variables correction.
			lp += -logSqrt2Pi - ls - 0.5*e*e
			lp -= math.Log(1 - a*a + squashEps)
		}
		logProb.Set(i, 0, lp)
	}

	g.action, g.std, g.eps, g.clamped = actions, std, eps, clamped
	return actions, logProb
}

// Act samples one exploration action for a single state.
func (g *GaussianActor) Act(state []float64) []float64 {
	a, _ := g.SampleActionLogProb(mat.NewDense(1, len(state), state))
	return mat.Row(nil, 0, a)
}

// Backward propagates objective gradients on the sampled actions and
// their log probabilities from the last SampleActionLogProb call into
// the network parameters.
func (g *GaussianActor) Backward(dAction, dLogProb *mat.Dense) {
	batch, dims := g.action.Dims()

	dMu := mat.NewDense(batch, dims, nil)
	dLogStd := mat.NewDense(batch, dims, nil)
	for i := 0; i < batch; i++ {
		dLp := dLogProb.At(i, 0)
		for j := 0; j < dims; j++ {
			a := g.action.At(i, j)
			t := 1 - a*a // d tanh / d pre
			s := g.std.At(i, j)
			e := g.eps.At(i, j)

			// d logProb / d pre through the squash correction.
			dLpdPre := 2 * a * t / (t + squashEps)

			dPre := dAction.At(i, j)*t + dLp*dLpdPre
			dMu.Set(i, j, dPre)

			// pre depends on logStd through std*eps; logProb also
			// carries the explicit -logStd term.
			dLs := dPre*s*e - dLp
			if g.clamped.At(i, j) != 0 {
				dLs = 0
			}
			dLogStd.Set(i, j, dLs)
		}
	}

	dTrunk := g.muHead.Backward(dMu)
	dTrunk.Add(dTrunk, g.logStdHead.Backward(dLogStd))
	g.trunk.Backward(dTrunk)
}

// Learnables returns the network parameters.
func (g *GaussianActor) Learnables() []*Param {
	params := append(g.trunk.Learnables(), g.muHead.Learnables()...)
	return append(params, g.logStdHead.Learnables()...)
}

// ZeroGrad clears accumulated gradients.
func (g *GaussianActor) ZeroGrad() { zeroAll(g.Learnables()) }

// Clone returns an independent deep copy sharing no parameters with
// the receiver.
func (g *GaussianActor) Clone() *GaussianActor {
	return &GaussianActor{
		trunk:      g.trunk.Clone(),
		muHead:     g.muHead.Clone(),
		logStdHead: g.logStdHead.Clone(),
		stdNormal:  g.stdNormal,
	}
}
