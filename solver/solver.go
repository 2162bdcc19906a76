// Package solver implements the gradient-descent solvers that apply
// accumulated network gradients as parameter updates. Each trainable
// network gets its own solver instance so that per-parameter state
// never leaks between networks.
package solver

import (
	"github.com/agentzoo/agentzoo/network"
)

// Solver applies one parameter update from the gradients accumulated
// in the given learnables.
type Solver interface {
	Step(params []*network.Param)
}

// Vanilla is plain stochastic gradient descent.
type Vanilla struct {
	stepSize float64
}

// NewVanilla returns a new SGD solver with the given step size.
func NewVanilla(stepSize float64) *Vanilla {
	return &Vanilla{stepSize: stepSize}
}

// Step applies value <- value - stepSize * grad.
func (v *Vanilla) Step(params []*network.Param) {
	for _, p := range params {
		value := p.Value.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		for i := range value {
			value[i] -= v.stepSize * grad[i]
		}
	}
}
