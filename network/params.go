// Package network implements the differentiable function approximators
// consumed by agents: multilayer perceptrons with explicit forward and
// backward passes, composed into the actor and critic topologies the
// algorithms require. Gradients are accumulated into learnable
// parameters and applied by a solver.
package network

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Param is one learnable parameter matrix together with its
// accumulated gradient. Solvers update Value in place from Grad.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// newParam returns a zero-gradient parameter wrapping value.
func newParam(name string, value *mat.Dense) *Param {
	r, c := value.Dims()
	return &Param{Name: name, Value: value, Grad: mat.NewDense(r, c, nil)}
}

// Zero clears the accumulated gradient.
func (p *Param) Zero() {
	p.Grad.Zero()
}

// clone returns a deep copy of the parameter with a zero gradient.
func (p *Param) clone() *Param {
	return newParam(p.Name, mat.DenseCopyOf(p.Value))
}

// Network is the contract shared by every function approximator in
// this package: it exposes its learnable parameters for solvers,
// target tracking and checkpointing.
type Network interface {
	Learnables() []*Param
	ZeroGrad()
}

// SoftUpdate moves every target parameter toward the matching current
// parameter by Polyak averaging:
//
//	target <- tau*current + (1-tau)*target.
//
// The two networks must be structurally identical. Targets tracked
// this way never receive gradients directly.
func SoftUpdate(target, current Network, tau float64) error {
	tp, cp := target.Learnables(), current.Learnables()
	if len(tp) != len(cp) {
		return errors.Errorf("network: target has %d parameters, current "+
			"has %d", len(tp), len(cp))
	}
	for i := range tp {
		tr, tc := tp[i].Value.Dims()
		cr, cc := cp[i].Value.Dims()
		if tr != cr || tc != cc {
			return errors.Errorf("network: parameter %q shape (%d, %d) "+
				"does not match target shape (%d, %d)",
				cp[i].Name, cr, cc, tr, tc)
		}
		tData := tp[i].Value.RawMatrix().Data
		cData := cp[i].Value.RawMatrix().Data
		for j := range tData {
			tData[j] = tau*cData[j] + (1-tau)*tData[j]
		}
	}
	return nil
}

// HardUpdate copies every current parameter into the target.
func HardUpdate(target, current Network) error {
	return SoftUpdate(target, current, 1.0)
}

func zeroAll(params []*Param) {
	for _, p := range params {
		p.Zero()
	}
}
