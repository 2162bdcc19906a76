package network

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func TestDeterministicActorBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a, err := NewDeterministicActor(16, 3, 2, rng)
	require.NoError(t, err)

	action := a.Act([]float64{2.5, -3.0, 0.7})
	require.Len(t, action, 2)
	for _, v := range action {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestCriticActionGradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	c, err := NewCritic(6, 2, 2, rng)
	require.NoError(t, err)

	states := mat.NewDense(1, 2, []float64{0.3, -0.5})
	actions := mat.NewDense(1, 2, []float64{0.1, 0.6})

	c.Forward(states, actions)
	c.ZeroGrad()
	dAction := c.Backward(ones(1, 1))
	_, cols := dAction.Dims()
	require.Equal(t, 2, cols)

	const eps = 1e-6
	for j := 0; j < 2; j++ {
		orig := actions.At(0, j)
		actions.Set(0, j, orig+eps)
		plus := c.Forward(states, actions).At(0, 0)
		actions.Set(0, j, orig-eps)
		minus := c.Forward(states, actions).At(0, 0)
		actions.Set(0, j, orig)

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, dAction.At(0, j), 1e-5)
	}
}

func TestTwinCriticMinQ(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	c, err := NewTwinCritic(6, 2, 1, rng)
	require.NoError(t, err)

	states := mat.NewDense(1, 2, []float64{0.2, 0.4})
	actions := mat.NewDense(1, 1, []float64{-0.3})

	q1, q2 := c.Q1Q2(states, actions)
	minQ := c.MinQ(states, actions)
	assert.Equal(t, math.Min(q1.At(0, 0), q2.At(0, 0)), minQ.At(0, 0))
}

func TestGaussianActorSampleInUnitBox(t *testing.T) {
	rng := rand.New(rand.NewSource(27))
	g, err := NewGaussianActor(8, 3, 2, rng)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		action := g.Act([]float64{0.1, -0.9, 2.0})
		require.Len(t, action, 2)
		for _, v := range action {
			assert.Greater(t, v, -1.0)
			assert.Less(t, v, 1.0)
		}
	}
}

func TestGaussianActorLogProbFinite(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	g, err := NewGaussianActor(8, 2, 2, rng)
	require.NoError(t, err)

	states := mat.NewDense(3, 2, []float64{0.1, 0.2, -0.5, 0.9, 1.5, -1.5})
	actions, logProb := g.SampleActionLogProb(states)

	r, c := actions.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 2, c)
	for i := 0; i < 3; i++ {
		assert.False(t, math.IsNaN(logProb.At(i, 0)))
		assert.False(t, math.IsInf(logProb.At(i, 0), 0))
	}
}

func TestGaussianActorBackwardAccumulates(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	g, err := NewGaussianActor(8, 2, 2, rng)
	require.NoError(t, err)

	states := mat.NewDense(2, 2, []float64{0.1, 0.2, -0.5, 0.9})
	g.SampleActionLogProb(states)
	g.ZeroGrad()
	g.Backward(ones(2, 2), ones(2, 1))

	nonzero := false
	for _, p := range g.Learnables() {
		r, c := p.Grad.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if p.Grad.At(i, j) != 0 {
					nonzero = true
				}
			}
		}
	}
	assert.True(t, nonzero)
}

func TestPPOActorLogProbGradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	p, err := NewPPOActor(4, 2, 2, rng)
	require.NoError(t, err)

	states := mat.NewDense(2, 2, []float64{0.3, -0.7, 1.1, 0.4})
	actions := mat.NewDense(2, 2, []float64{0.5, -0.2, -0.8, 0.9})

	sumLogProb := func() float64 {
		lp := p.LogProb(states, actions)
		return lp.At(0, 0) + lp.At(1, 0)
	}

	sumLogProb()
	p.ZeroGrad()
	p.BackwardLogProb(ones(2, 1))

	const eps = 1e-6
	for _, param := range p.Learnables() {
		r, c := param.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := param.Value.At(i, j)
				param.Value.Set(i, j, orig+eps)
				plus := sumLogProb()
				param.Value.Set(i, j, orig-eps)
				minus := sumLogProb()
				param.Value.Set(i, j, orig)

				numeric := (plus - minus) / (2 * eps)
				assert.InDelta(t, numeric, param.Grad.At(i, j), 1e-4,
					"parameter %s (%d, %d)", param.Name, i, j)
			}
		}
	}
}

func TestMPOActorDistributionShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(35))
	m, err := NewMPOActor(8, 3, 2, rng)
	require.NoError(t, err)

	dist, err := m.Distribution(mat.NewDense(4, 3, nil))
	require.NoError(t, err)
	batch, dims := dist.Dims()
	assert.Equal(t, 4, batch)
	assert.Equal(t, 2, dims)

	std := dist.Std()
	for i := 0; i < batch; i++ {
		for j := 0; j < dims; j++ {
			assert.Greater(t, std.At(i, j), 0.0)
		}
	}
}
