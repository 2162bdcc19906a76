// Package noise provides temporally correlated exploration noise for
// continuous-action agents.
package noise

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Default Ornstein-Uhlenbeck process constants. The process is highly
// sensitive to these values, so they are fixed unless overridden with
// NewOrnsteinUhlenbeckFull.
const (
	DefaultTheta = 0.15
	DefaultDt    = 1e-2
)

// OrnsteinUhlenbeck generates noise from an Ornstein-Uhlenbeck process.
// Successive samples are correlated in time, which makes the noise
// better suited than white Gaussian noise for exploration in inertial
// systems.
type OrnsteinUhlenbeck struct {
	theta float64
	sigma float64
	dt    float64
	state []float64

	stdNormal distuv.Normal
}

// NewOrnsteinUhlenbeck returns a new Ornstein-Uhlenbeck process
// generating noise vectors of the given size with standard deviation
// parameter sigma.
func NewOrnsteinUhlenbeck(size int, sigma float64,
	seed uint64) *OrnsteinUhlenbeck {
	return NewOrnsteinUhlenbeckFull(size, DefaultTheta, sigma, DefaultDt,
		seed)
}

// NewOrnsteinUhlenbeckFull returns a new Ornstein-Uhlenbeck process
// with every process constant specified.
func NewOrnsteinUhlenbeckFull(size int, theta, sigma, dt float64,
	seed uint64) *OrnsteinUhlenbeck {
	return &OrnsteinUhlenbeck{
		theta: theta,
		sigma: sigma,
		dt:    dt,
		state: make([]float64, size),
		stdNormal: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
	}
}

// Sample advances the process by one step and returns the new noise
// vector. The returned slice is a copy and may be retained by the
// caller.
func (o *OrnsteinUhlenbeck) Sample() []float64 {
	sqrtDt := o.sigma * math.Sqrt(o.dt)
	out := make([]float64, len(o.state))
	for i := range o.state {
		o.state[i] -= o.theta*o.state[i]*o.dt + sqrtDt*o.stdNormal.Rand()
		out[i] = o.state[i]
	}
	return out
}

// Reset returns the process to its zero initial state.
func (o *OrnsteinUhlenbeck) Reset() {
	for i := range o.state {
		o.state[i] = 0.0
	}
}

// Size returns the dimensionality of noise vectors generated by the
// process.
func (o *OrnsteinUhlenbeck) Size() int {
	return len(o.state)
}
