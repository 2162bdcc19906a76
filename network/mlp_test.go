package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// sumForward evaluates the sum of all network outputs at the current
// parameters, the objective used by the finite-difference checks.
func sumForward(m *MLP, x *mat.Dense) float64 {
	out := m.Forward(x)
	r, c := out.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += out.At(i, j)
		}
	}
	return sum
}

func ones(r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, 1)
		}
	}
	return m
}

func TestMLPForwardShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m, err := NewMLP("m", 3, []int{5}, 2, Tanh, Identity, rng)
	require.NoError(t, err)

	out := m.Forward(mat.NewDense(4, 3, nil))
	r, c := out.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, c)
}

func TestMLPRejectsBadDims(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := NewMLP("m", 0, nil, 2, Tanh, Identity, rng)
	assert.Error(t, err)
	_, err = NewMLP("m", 2, nil, -1, Tanh, Identity, rng)
	assert.Error(t, err)
}

func TestMLPGradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m, err := NewMLP("m", 2, []int{3}, 1, Tanh, Identity, rng)
	require.NoError(t, err)

	x := mat.NewDense(2, 2, []float64{0.3, -0.7, 1.1, 0.4})

	m.Forward(x)
	m.ZeroGrad()
	m.Backward(ones(2, 1))

	const eps = 1e-6
	for _, p := range m.Learnables() {
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := p.Value.At(i, j)
				p.Value.Set(i, j, orig+eps)
				plus := sumForward(m, x)
				p.Value.Set(i, j, orig-eps)
				minus := sumForward(m, x)
				p.Value.Set(i, j, orig)

				numeric := (plus - minus) / (2 * eps)
				assert.InDelta(t, numeric, p.Grad.At(i, j), 1e-5,
					"parameter %s (%d, %d)", p.Name, i, j)
			}
		}
	}
}

func TestMLPBackwardInputGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	m, err := NewMLP("m", 2, []int{4}, 1, ReLU, Identity, rng)
	require.NoError(t, err)

	x := mat.NewDense(1, 2, []float64{0.5, -0.2})
	m.Forward(x)
	dIn := m.Backward(ones(1, 1))

	const eps = 1e-6
	for j := 0; j < 2; j++ {
		orig := x.At(0, j)
		x.Set(0, j, orig+eps)
		plus := sumForward(m, x)
		x.Set(0, j, orig-eps)
		minus := sumForward(m, x)
		x.Set(0, j, orig)

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, dIn.At(0, j), 1e-5)
	}
}

func TestMLPCloneIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m, err := NewMLP("m", 2, nil, 2, Identity, Identity, rng)
	require.NoError(t, err)

	c := m.Clone()
	orig := m.Learnables()[0].Value.At(0, 0)
	c.Learnables()[0].Value.Set(0, 0, orig+10)
	assert.Equal(t, orig, m.Learnables()[0].Value.At(0, 0))
}

func TestSoftUpdateInterpolates(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	current, err := NewMLP("c", 2, nil, 1, Identity, Identity, rng)
	require.NoError(t, err)
	target := current.Clone()
	target.Learnables()[0].Value.Set(0, 0, 0)
	current.Learnables()[0].Value.Set(0, 0, 1)

	require.NoError(t, SoftUpdate(target, current, 0.25))
	assert.InDelta(t, 0.25, target.Learnables()[0].Value.At(0, 0), 1e-12)

	require.NoError(t, HardUpdate(target, current))
	assert.Equal(t, 1.0, target.Learnables()[0].Value.At(0, 0))
}

func TestSoftUpdateZeroTauKeepsTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	current, err := NewMLP("c", 2, nil, 1, Identity, Identity, rng)
	require.NoError(t, err)
	target := current.Clone()
	target.Learnables()[0].Value.Set(0, 0, 42)

	require.NoError(t, SoftUpdate(target, current, 0))
	assert.Equal(t, 42.0, target.Learnables()[0].Value.At(0, 0))
}

func TestSoftUpdateRejectsMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a, err := NewMLP("a", 2, nil, 1, Identity, Identity, rng)
	require.NoError(t, err)
	b, err := NewMLP("b", 3, nil, 1, Identity, Identity, rng)
	require.NoError(t, err)

	assert.Error(t, SoftUpdate(a, b, 0.5))
}
