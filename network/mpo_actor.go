package network

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/agentzoo/agentzoo/distribution"
)

// MPOActor is a Gaussian policy exposing its full distribution: mean,
// per-dimension standard deviation and Cholesky scale factor. The
// expectation-maximization agent needs these to evaluate sampled
// actions under both the old and new policies and to constrain their
// divergence.
type MPOActor struct {
	trunk      *MLP
	muHead     *MLP
	logStdHead *MLP

	rng *rand.Rand

	// Distribution cache for backward.
	std     *mat.Dense
	clamped *mat.Dense
}

// NewMPOActor returns a Gaussian policy network with a shared trunk
// and separate mean and log-std heads.
func NewMPOActor(width, stateDim, actionDim int, rng *rand.Rand) (
	*MPOActor, error) {
	trunk, err := NewMLP("mpoactor.trunk", stateDim, []int{width}, width,
		ReLU, ReLU, rng)
	if err != nil {
		return nil, err
	}
	muHead, err := NewMLP("mpoactor.mu", width, nil, actionDim, ReLU,
		Identity, rng)
	if err != nil {
		return nil, err
	}
	logStdHead, err := NewMLP("mpoactor.logstd", width, nil, actionDim,
		ReLU, Identity, rng)
	if err != nil {
		return nil, err
	}
	return &MPOActor{
		trunk:      trunk,
		muHead:     muHead,
		logStdHead: logStdHead,
		rng:        rand.New(rand.NewSource(rng.Uint64())),
	}, nil
}

// Distribution returns the batch policy distribution at the given
// states. The internal cache from this call feeds
// BackwardDistribution.
func (m *MPOActor) Distribution(states *mat.Dense) (
	*distribution.Diagonal, error) {
	t := m.trunk.Forward(states)
	mu := m.muHead.Forward(t)
	logStd := m.logStdHead.Forward(t)

	batch, dims := mu.Dims()
	std := mat.NewDense(batch, dims, nil)
	clamped := mat.NewDense(batch, dims, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < dims; j++ {
			ls := logStd.At(i, j)
			if ls < logStdMin {
				ls = logStdMin
				clamped.Set(i, j, 1)
			} else if ls > logStdMax {
				ls = logStdMax
				clamped.Set(i, j, 1)
			}
			std.Set(i, j, math.Exp(ls))
		}
	}

	m.std, m.clamped = std, clamped
	return distribution.NewDiagonal(mu, std)
}

// Act samples one exploration action for a single state.
func (m *MPOActor) Act(state []float64) ([]float64, error) {
	dist, err := m.Distribution(mat.NewDense(1, len(state), state))
	if err != nil {
		return nil, err
	}
	sample := dist.Sample(1, rand.NewSource(m.rng.Uint64()))[0]
	return mat.Row(nil, 0, sample), nil
}

// BackwardDistribution propagates objective gradients on the
// distribution mean and standard deviation from the last Distribution
// call into the network parameters.
func (m *MPOActor) BackwardDistribution(dMu, dStd *mat.Dense) {
	batch, dims := m.std.Dims()
	dLogStd := mat.NewDense(batch, dims, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < dims; j++ {
			if m.clamped.At(i, j) != 0 {
				continue
			}
			dLogStd.Set(i, j, dStd.At(i, j)*m.std.At(i, j))
		}
	}

	dTrunk := m.muHead.Backward(dMu)
	dTrunk.Add(dTrunk, m.logStdHead.Backward(dLogStd))
	m.trunk.Backward(dTrunk)
}

// Learnables returns the network parameters.
func (m *MPOActor) Learnables() []*Param {
	params := append(m.trunk.Learnables(), m.muHead.Learnables()...)
	return append(params, m.logStdHead.Learnables()...)
}

// ZeroGrad clears accumulated gradients.
func (m *MPOActor) ZeroGrad() { zeroAll(m.Learnables()) }

// Clone returns an independent deep copy.
func (m *MPOActor) Clone() *MPOActor {
	return &MPOActor{
		trunk:      m.trunk.Clone(),
		muHead:     m.muHead.Clone(),
		logStdHead: m.logStdHead.Clone(),
		rng:        rand.New(rand.NewSource(m.rng.Uint64())),
	}
}
