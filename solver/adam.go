package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/agentzoo/agentzoo/network"
)

// AdamConfig describes a configuration of the Adam solver.
type AdamConfig struct {
	StepSize float64
	Beta1    float64
	Beta2    float64
	Epsilon  float64 // Smoothing factor
}

// Adam implements the Adam solver with per-parameter first and second
// moment estimates.
type Adam struct {
	config AdamConfig
	step   int
	m      map[*network.Param]*mat.Dense
	v      map[*network.Param]*mat.Dense
}

// NewDefaultAdam returns a new Adam solver with default moment decay
// rates and smoothing.
func NewDefaultAdam(stepSize float64) *Adam {
	return NewAdam(AdamConfig{
		StepSize: stepSize,
		Beta1:    0.9,
		Beta2:    0.999,
		Epsilon:  1e-8,
	})
}

// NewAdam returns a new Adam solver with the given configuration.
func NewAdam(config AdamConfig) *Adam {
	return &Adam{
		config: config,
		m:      make(map[*network.Param]*mat.Dense),
		v:      make(map[*network.Param]*mat.Dense),
	}
}

// Step applies one bias-corrected Adam update from the gradients
// accumulated in the given learnables.
func (a *Adam) Step(params []*network.Param) {
	a.step++
	correction1 := 1 - math.Pow(a.config.Beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.config.Beta2, float64(a.step))

	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			r, c := p.Value.Dims()
			m = mat.NewDense(r, c, nil)
			a.m[p] = m
		}
		v, ok := a.v[p]
		if !ok {
			r, c := p.Value.Dims()
			v = mat.NewDense(r, c, nil)
			a.v[p] = v
		}

		value := p.Value.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		mData := m.RawMatrix().Data
		vData := v.RawMatrix().Data
		for i := range value {
			g := grad[i]
			mData[i] = a.config.Beta1*mData[i] + (1-a.config.Beta1)*g
			vData[i] = a.config.Beta2*vData[i] + (1-a.config.Beta2)*g*g
			mHat := mData[i] / correction1
			vHat := vData[i] / correction2
			value[i] -= a.config.StepSize * mHat /
				(math.Sqrt(vHat) + a.config.Epsilon)
		}
	}
}
