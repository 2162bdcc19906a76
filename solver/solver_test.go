package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/agentzoo/agentzoo/network"
)

func singleParam(value, grad float64) *network.Param {
	return &network.Param{
		Name:  "p",
		Value: mat.NewDense(1, 1, []float64{value}),
		Grad:  mat.NewDense(1, 1, []float64{grad}),
	}
}

func TestVanillaStep(t *testing.T) {
	p := singleParam(1.0, 0.5)
	NewVanilla(0.1).Step([]*network.Param{p})
	assert.InDelta(t, 0.95, p.Value.At(0, 0), 1e-12)
}

func TestAdamFirstStepSize(t *testing.T) {
	// With bias correction the first update has magnitude close to the
	// step size regardless of the gradient scale.
	p := singleParam(0.0, 3.0)
	NewDefaultAdam(0.01).Step([]*network.Param{p})
	assert.InDelta(t, -0.01, p.Value.At(0, 0), 1e-6)
}

func TestAdamDescendsQuadratic(t *testing.T) {
	// Minimize (x - 2)^2 from x = 0.
	p := singleParam(0.0, 0.0)
	adam := NewDefaultAdam(0.05)
	for i := 0; i < 500; i++ {
		x := p.Value.At(0, 0)
		p.Grad.Set(0, 0, 2*(x-2))
		adam.Step([]*network.Param{p})
	}
	assert.InDelta(t, 2.0, p.Value.At(0, 0), 0.1)
}

func TestAdamStateIsPerParam(t *testing.T) {
	a := singleParam(0.0, 1.0)
	b := singleParam(0.0, -1.0)
	adam := NewDefaultAdam(0.01)
	adam.Step([]*network.Param{a, b})
	assert.Less(t, a.Value.At(0, 0), 0.0)
	assert.Greater(t, b.Value.At(0, 0), 0.0)
}
